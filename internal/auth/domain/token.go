package domain

import (
	"encoding/json"
	"time"
)

// AccessToken is the persisted record behind a signed access token. The JWT
// carries this row's ID as its jti; validation always loads the row, so a
// token with a good signature but a revoked or missing record is dead.
type AccessToken struct {
	ID                   string // ULID, the jti join key
	ClientID             string
	UserID               *string // nil for machine grants
	Scopes               []string
	AuthorizationDetails json.RawMessage
	DPoPJKT              *string // RFC 7638 thumbprint when the token is proof-bound
	ExpiresAt            time.Time
	RevokedAt            *time.Time
	CreatedAt            time.Time
}

// IsActive reports whether the token is neither revoked nor expired.
func (t *AccessToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshToken models the stored refresh token record. The opaque string is
// never stored; TokenFingerprint is its SHA-256 fingerprint.
type RefreshToken struct {
	ID               string
	TokenFingerprint string
	AccessTokenID    string // the access token issued alongside
	ClientID         string
	UserID           *string
	Scopes           []string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// IsActive reports whether the refresh token can still be redeemed.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// TokenResponse is the token endpoint's success body (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken          string          `json:"access_token"`
	TokenType            string          `json:"token_type"` // "Bearer", or "DPoP" for bound tokens
	ExpiresIn            int64           `json:"expires_in"` // seconds until expiry
	RefreshToken         string          `json:"refresh_token,omitempty"`
	IDToken              string          `json:"id_token,omitempty"`
	Scope                string          `json:"scope,omitempty"` // space-delimited
	AuthorizationDetails json.RawMessage `json:"authorization_details,omitempty"`
}
