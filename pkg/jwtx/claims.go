// Package jwtx wraps github.com/golang-jwt/jwt/v5 with the claim shapes,
// signers, verifiers and key management the authorization server needs.
// Access tokens and ID tokens are the only JWTs the server mints; refresh
// tokens, authorization codes and device codes stay opaque.
package jwtx

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes. Services may override these via configuration,
// but the defaults are what a fresh deployment issues.
const (
	// DefaultAccessTokenTTL is the default access token lifetime.
	DefaultAccessTokenTTL = 60 * time.Minute

	// DefaultRefreshTokenTTL is the default refresh token lifetime.
	// Refresh tokens are opaque strings, not JWTs; the constant lives here
	// so every issuance path shares one source of truth.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultIDTokenTTL is the default OpenID Connect ID token lifetime.
	DefaultIDTokenTTL = 60 * time.Minute
)

// TokenTypeAccess is the value of the "type" claim on access tokens.
const TokenTypeAccess = "access_token"

// RFC 8176 authentication method references, carried in ID token amr claims.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMRMFA      = "mfa"
)

// Confirmation is the RFC 7800 "cnf" claim. Only the RFC 9449 JWK
// thumbprint member is used: a token carrying cnf.jkt is DPoP-bound and
// must be presented together with a proof signed by the matching key.
type Confirmation struct {
	JKT string `json:"jkt,omitempty"`
}

// Claims is the access-token payload. The jti (RegisteredClaims.ID) carries
// the persisted token row ID; a verified signature alone never grants
// access, the row must still exist and be unrevoked and unexpired.
type Claims struct {
	jwt.RegisteredClaims

	// ClientID is the OAuth2 client the token was issued to.
	ClientID string `json:"client_id,omitempty"`

	// Scopes granted to this token, e.g. ["read", "openid"].
	Scopes []string `json:"scopes,omitempty"`

	// Type distinguishes token kinds; always TokenTypeAccess for now.
	Type string `json:"type,omitempty"`

	// AuthorizationDetails is the approved RFC 9396 detail array, stored
	// raw so the token round-trips byte-exact through introspection.
	AuthorizationDetails json.RawMessage `json:"authorization_details,omitempty"`

	// Confirmation holds the DPoP key binding, when present.
	Confirmation *Confirmation `json:"cnf,omitempty"`
}

// NewAccessClaims builds minimally-correct access-token claims. The tokenID
// becomes the jti and must match the persisted access-token row.
func NewAccessClaims(
	subject, clientID, tokenID string,
	scopes []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        tokenID,
		},
		ClientID: clientID,
		Scopes:   scopes,
		Type:     TokenTypeAccess,
	}
}

// ScopeList returns a copy of the granted scopes, never nil.
func (c *Claims) ScopeList() []string {
	out := make([]string, len(c.Scopes))
	copy(out, c.Scopes)
	return out
}

// HasScope reports whether the token carries the named scope.
func (c *Claims) HasScope(name string) bool {
	return slices.Contains(c.Scopes, name)
}

// ValidateIssuer checks if the issuer matches the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry ensures the token has not expired (exp) and is not used
// before it becomes valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}

// ValidateExpiryWithLeeway adds a grace period for clock skew. The
// jwt-bearer grant uses this with its 300s assertion tolerance.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

// IDClaims is the OpenID Connect ID token payload. The email and profile
// claim families are filled in only when the matching scope was granted;
// the token codec owns that gating.
type IDClaims struct {
	jwt.RegisteredClaims

	// AuthTime is when the end user actually authenticated.
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`

	// Nonce echoes the authorize-request nonce for replay detection.
	Nonce string `json:"nonce,omitempty"`

	// ACR and AMR describe how the user authenticated ("pwd", "otp", "mfa").
	ACR string   `json:"acr,omitempty"`
	AMR []string `json:"amr,omitempty"`

	// Email claim family, gated on the "email" scope. EmailVerified is a
	// pointer so a granted-but-unverified address still serializes false.
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`

	// Profile claim family, gated on the "profile" scope.
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Picture           string `json:"picture,omitempty"`
	Locale            string `json:"locale,omitempty"`
}

// NewIDClaims builds the registered portion of an ID token. The audience is
// the client the token is for; scope-gated fields are set by the caller.
func NewIDClaims(subject, clientID, issuer string, ttl time.Duration, authTime, now time.Time) IDClaims {
	return IDClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AuthTime: jwt.NewNumericDate(authTime),
	}
}
