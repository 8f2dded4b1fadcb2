package domain

import (
	"encoding/json"
	"time"
)

// PKCE code challenge methods (RFC 7636).
const (
	CodeChallengeMethodS256  = "S256"
	CodeChallengeMethodPlain = "plain"
)

// AuthorizationCode is one issued authorization code. The opaque code string
// itself is never stored; CodeFingerprint is its SHA-256 fingerprint and the
// lookup key at redemption.
type AuthorizationCode struct {
	ID                   string
	CodeFingerprint      string
	ClientID             string
	UserID               string
	RedirectURI          string
	Scopes               []string
	CodeChallenge        string // empty when the client skipped PKCE
	CodeChallengeMethod  string
	Nonce                string // OIDC nonce, echoed into the ID token
	AuthorizationDetails json.RawMessage
	AMR                  []string
	ExpiresAt            time.Time
	UsedAt               *time.Time
	CreatedAt            time.Time
}

// IsExpired reports whether the code is past its TTL.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsUsed reports whether the code was already redeemed. Codes are one-time
// use; a second redemption is treated as an attack and fails invalid_grant.
func (c *AuthorizationCode) IsUsed() bool {
	return c.UsedAt != nil
}
