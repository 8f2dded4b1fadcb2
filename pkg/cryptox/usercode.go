package cryptox

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// UserCodeAlphabet is the 32-symbol set for device-flow user codes. It drops
// 0, O, I and 1 so a code read off a TV screen cannot be mistyped.
const UserCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// UserCodeLength is the fixed length of a device-flow user code.
const UserCodeLength = 8

// GenerateUserCode returns a random user code such as "BDFG-HJKM" without the
// hyphen: 8 symbols drawn uniformly from UserCodeAlphabet. 32^8 combinations
// with a 30 minute expiry and a 5 second poll interval keeps online guessing
// infeasible.
func GenerateUserCode() (string, error) {
	buf := make([]byte, UserCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate user code: %w", err)
	}

	var b strings.Builder
	b.Grow(UserCodeLength)
	for _, c := range buf {
		// 256 is an exact multiple of 32, so masking stays uniform.
		b.WriteByte(UserCodeAlphabet[c&31])
	}
	return b.String(), nil
}

// NormalizeUserCode maps user input onto the canonical code form: uppercased
// with spaces and hyphens stripped.
func NormalizeUserCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
