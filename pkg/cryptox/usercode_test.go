package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateUserCode(t *testing.T) {
	code, err := GenerateUserCode()
	require.NoError(t, err)
	require.Len(t, code, UserCodeLength)

	for _, c := range code {
		require.Contains(t, UserCodeAlphabet, string(c),
			"user code must only use the restricted alphabet")
	}

	// Ambiguous symbols are excluded from the alphabet entirely.
	for _, banned := range []string{"0", "O", "I", "1"} {
		require.NotContains(t, UserCodeAlphabet, banned)
	}
}

func TestGenerateUserCode_Uniqueness(t *testing.T) {
	const count = 200
	seen := make(map[string]bool, count)

	for range count {
		code, err := GenerateUserCode()
		require.NoError(t, err)
		require.NotContains(t, seen, code, "duplicate user code generated")
		seen[code] = true
	}
}

func TestNormalizeUserCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bdfghjkm", "BDFGHJKM"},
		{"BDFG-HJKM", "BDFGHJKM"},
		{"  bdfg hjkm  ", "BDFGHJKM"},
		{"BDFGHJKM", "BDFGHJKM"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeUserCode(tt.in))
	}
}

func TestNormalizeUserCode_RoundTrip(t *testing.T) {
	code, err := GenerateUserCode()
	require.NoError(t, err)

	// What a user types back (lowercased, hyphenated) must match what the
	// server stored.
	typed := strings.ToLower(code[:4] + "-" + code[4:])
	require.Equal(t, code, NormalizeUserCode(typed))
}
