package domain

import (
	"encoding/json"
	"time"
)

// MFAMaxAttempts is how many failed TOTP submissions a session survives.
const MFAMaxAttempts = 5

// MFAChallengeResponse is returned when a password login needs a second factor.
type MFAChallengeResponse struct {
	MFARequired bool     `json:"mfa_required"` // always true
	MFAToken    string   `json:"mfa_token"`    // ULID reference to the pending session
	Methods     []string `json:"methods"`      // available MFA methods (e.g., ["totp"])
}

// MFASession parks a whole authorize request between the first factor and the
// second. Verification replays the stored context to issue the code, so the
// client resubmits nothing but the mfa_token and the TOTP digits.
type MFASession struct {
	ID                   string // ULID (the mfa_token)
	UserID               string
	ClientID             string
	RedirectURI          string
	Scopes               []string
	State                string
	Nonce                string
	CodeChallenge        string
	CodeChallengeMethod  string
	AuthorizationDetails json.RawMessage
	AMR                  []string // methods completed so far
	Attempts             int
	ExpiresAt            time.Time
	CreatedAt            time.Time
}

// IsExpired reports whether the challenge window has closed.
func (s *MFASession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type MFAEnrollResponse struct {
	Secret  string // Base32 encoded secret for TOTP
	QRCode  string // otpauth:// URL for QR code generation
	Issuer  string
	Account string
}
