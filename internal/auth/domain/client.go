package domain

import (
	"encoding/json"
	"time"
)

// Grant type identifiers as they appear on the wire and in a client's
// allowed_grant_types list. The device and jwt-bearer grants use their
// registered URNs.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Client is a registered OAuth client. A nil SecretHash marks a public
// client, which must use PKCE on the authorization-code grant.
type Client struct {
	ID                string
	Name              string
	SecretHash        *string // argon2 PHC string; nil means public client
	RedirectURIs      []string
	AllowedScopes     []string
	AllowedGrantTypes []string
	JWKS              json.RawMessage // registered public keys for the jwt-bearer grant
	IsActive          bool
	Protected         bool // bootstrap client, cannot be deleted
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsPublic reports whether the client has no secret.
func (c *Client) IsPublic() bool {
	return c.SecretHash == nil || *c.SecretHash == ""
}

// AllowsGrantType reports whether grantType is in the client's allowed set.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, g := range c.AllowedGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether uri exactly matches a registered
// redirect URI. No wildcard or prefix matching.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the client may request the named scope.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}
