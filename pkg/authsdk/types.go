package authsdk

import (
	"encoding/json"

	"github.com/lockplane/authd/pkg/jwtx"
)

// ============================================================================
// Internal Response Types (used for JSON unmarshaling)
// ============================================================================

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
// This is used internally for parsing HTTP error responses.
// Client code should use the OAuth2Error type from errors.go instead.
type ErrorResponse struct {
	// Error is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`

	// ErrorURI optionally points at documentation for the error
	ErrorURI string `json:"error_uri,omitempty"`

	// State echoes the state parameter on authorization endpoint errors
	State string `json:"state,omitempty"`
}

// ValidationErrorResponse represents a validation error response.
// This is used internally for parsing HTTP error responses.
// This is returned when request validation fails, typically from the bootstrap endpoint.
type ValidationErrorResponse struct {
	// Code is the error code (e.g., "validation_error")
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Details contains field-specific validation errors (field name: error message)
	Details map[string]string `json:"details,omitempty"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse represents the OAuth2 token endpoint response per RFC 6749.
// This is returned from the POST /oauth/token endpoint for every grant type.
type TokenResponse struct {
	// AccessToken is the JWT access token used to authenticate API requests
	AccessToken string `json:"access_token"`

	// TokenType is "Bearer", or "DPoP" when the token is sender-constrained
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is the opaque refresh token used to obtain new access tokens
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OpenID Connect ID token, present when the "openid"
	// scope was granted on an interactive flow
	IDToken string `json:"id_token,omitempty"`

	// Scope is the space-delimited list of scopes granted to this token
	Scope string `json:"scope,omitempty"`

	// AuthorizationDetails echoes the granted RFC 9396 authorization details
	AuthorizationDetails json.RawMessage `json:"authorization_details,omitempty"`
}

// IntrospectionResponse represents the RFC 7662 token introspection response.
// When a token is inactive, only the Active field will be false and other fields will be empty.
type IntrospectionResponse struct {
	Active bool `json:"active"`

	// Optional fields (only present when active=true)
	Scope                string             `json:"scope,omitempty"`
	ClientID             string             `json:"client_id,omitempty"`
	Sub                  string             `json:"sub,omitempty"`
	TokenType            string             `json:"token_type,omitempty"`
	Exp                  int64              `json:"exp,omitempty"`
	Iat                  int64              `json:"iat,omitempty"`
	Jti                  string             `json:"jti,omitempty"`
	Iss                  string             `json:"iss,omitempty"`
	Cnf                  *jwtx.Confirmation `json:"cnf,omitempty"`
	AuthorizationDetails json.RawMessage    `json:"authorization_details,omitempty"`
}

// ============================================================================
// Authorization Types
// ============================================================================

// AuthorizeContext describes a pending authorization request. It is returned
// from GET /oauth/authorize once the client and redirect URI validate, and
// carries what a login or consent page needs to render.
type AuthorizeContext struct {
	// ClientID is the client requesting authorization
	ClientID string `json:"client_id"`

	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name"`

	// RedirectURI is the validated redirect target
	RedirectURI string `json:"redirect_uri"`

	// Scopes are the scopes the client is asking the user to grant
	Scopes []string `json:"scopes"`

	// State echoes the client's state parameter
	State string `json:"state,omitempty"`
}

// ============================================================================
// Device Authorization Types (RFC 8628)
// ============================================================================

// DeviceAuthorizationResponse represents the device authorization response
// per RFC 8628 §3.2, returned from POST /oauth/device/authorize.
type DeviceAuthorizationResponse struct {
	// DeviceCode is the long random code the device polls the token endpoint with
	DeviceCode string `json:"device_code"`

	// UserCode is the short code the user types on the verification page
	UserCode string `json:"user_code"`

	// VerificationURI is where the user goes to enter the user code
	VerificationURI string `json:"verification_uri"`

	// VerificationURIComplete embeds the user code in the verification URI
	VerificationURIComplete string `json:"verification_uri_complete"`

	// ExpiresIn is the lifetime in seconds of the device and user codes
	ExpiresIn int64 `json:"expires_in"`

	// Interval is the minimum seconds the device must wait between polls
	Interval int `json:"interval"`
}

// DeviceApproveRequest is the authenticated user's verdict on a pending
// device authorization, submitted to POST /oauth/device/approve.
type DeviceApproveRequest struct {
	// UserCode is the code displayed on the device
	UserCode string `json:"user_code"`

	// Approve grants the device's request when true, denies it when false
	Approve bool `json:"approve"`
}

// ============================================================================
// Bootstrap Types
// ============================================================================

// BootstrapRequest contains the data needed to bootstrap the auth service.
// It creates an initial admin user and OAuth2 client during service initialization.
type BootstrapRequest struct {
	// AdminUsername is the username for the initial admin user (3-32 chars, alphanumeric with _ or -)
	AdminUsername string `json:"admin_username"`

	// AdminPreferredName is the display name for the admin user (max 64 chars)
	AdminPreferredName string `json:"admin_preferred_name"`

	// AdminPassword is the password for the admin user (8-128 chars)
	AdminPassword string `json:"admin_password"`

	// ClientName is the name for the initial OAuth2 client (max 100 chars, alphanumeric with _ or -)
	ClientName string `json:"client_name"`

	// ClientRedirectURIs lists the redirect URIs registered on the initial client
	ClientRedirectURIs []string `json:"client_redirect_uris"`

	// ClientScopes is the list of scopes the initial client may request (e.g., ["openid", "admin"])
	ClientScopes []string `json:"client_scopes"`
}

// BootstrapResponse contains the IDs of the created admin user and client.
type BootstrapResponse struct {
	// AdminUserID is the unique identifier of the created admin user
	AdminUserID string `json:"admin_user_id"`

	// ClientID is the unique identifier of the created OAuth2 client
	ClientID string `json:"client_id"`

	// ClientSecret is the plaintext secret for the created confidential client (only returned once)
	ClientSecret string `json:"client_secret"`
}

// ============================================================================
// User Types
// ============================================================================

// UserInfoResponse represents the OpenID Connect UserInfo endpoint response.
//
// This is returned from GET /oauth/userinfo when a valid access token with
// the 'openid' scope is provided. The email and profile claim families are
// present only when the token carries the matching scope.
type UserInfoResponse struct {
	// Sub is the subject identifier for the user
	Sub string `json:"sub"`

	// Profile claim family, gated on the "profile" scope
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Picture           string `json:"picture,omitempty"`
	Locale            string `json:"locale,omitempty"`

	// Email claim family, gated on the "email" scope. EmailVerified is a
	// pointer so an unverified address still serializes false.
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

// ============================================================================
// Client Types
// ============================================================================

// CreateClientRequest represents the request to create a new OAuth2 client.
type CreateClientRequest struct {
	// Name is the human-readable name for the client
	Name string `json:"name"`

	// Confidential indicates whether to create a confidential client with a secret.
	// If true, a secret will be auto-generated and returned once.
	// If false, creates a public client (no secret, must use PKCE on the code flow).
	Confidential bool `json:"confidential"`

	// RedirectURIs lists the exact redirect URIs the client may use
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// Scopes is the list of scopes this client is authorized to request
	Scopes []string `json:"scopes"`

	// GrantTypes lists the grant types the client may use (defaults to the
	// authorization code and refresh token grants when empty)
	GrantTypes []string `json:"grant_types,omitempty"`

	// JWKS holds the client's registered public keys for the jwt-bearer grant
	JWKS json.RawMessage `json:"jwks,omitempty"`
}

// CreateClientResponse contains the created client's ID and secret (if provided).
type CreateClientResponse struct {
	// ClientID is the unique identifier for the created client
	ClientID string `json:"client_id"`

	// ClientSecret is the plaintext secret (only returned once at creation).
	// Will be empty for public clients.
	ClientSecret string `json:"client_secret,omitempty"`
}

// ClientInfo represents information about an OAuth2 client.
type ClientInfo struct {
	// ID is the unique identifier for the client
	ID string `json:"id"`

	// Name is the human-readable name of the client
	Name string `json:"name"`

	// RedirectURIs lists the registered redirect URIs
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// Scopes is the list of scopes this client can request
	Scopes []string `json:"scopes"`

	// GrantTypes lists the grant types the client may use
	GrantTypes []string `json:"grant_types"`

	// HasSecret indicates whether this client has a secret (confidential client)
	HasSecret bool `json:"has_secret"`

	// Active indicates whether the client may currently be used
	Active bool `json:"active"`

	// Protected indicates whether this client is protected from deletion
	Protected bool `json:"protected"`

	// CreatedAt is the timestamp when the client was created (RFC3339 format)
	CreatedAt string `json:"created_at"`
}

// ListClientsResponse contains a list of OAuth2 clients.
type ListClientsResponse struct {
	Clients []ClientInfo `json:"clients"`
}

// ============================================================================
// Discovery Types
// ============================================================================

// DiscoveryDocument is the OpenID Connect provider metadata served from
// GET /.well-known/openid-configuration.
type DiscoveryDocument struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint"`
	TokenEndpoint                      string   `json:"token_endpoint"`
	UserInfoEndpoint                   string   `json:"userinfo_endpoint"`
	JWKSURI                            string   `json:"jwks_uri"`
	IntrospectionEndpoint              string   `json:"introspection_endpoint"`
	RevocationEndpoint                 string   `json:"revocation_endpoint"`
	DeviceAuthorizationEndpoint        string   `json:"device_authorization_endpoint"`
	ScopesSupported                    []string `json:"scopes_supported"`
	ResponseTypesSupported             []string `json:"response_types_supported"`
	GrantTypesSupported                []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported  []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported      []string `json:"code_challenge_methods_supported"`
	SubjectTypesSupported              []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported   []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                    []string `json:"claims_supported,omitempty"`
	DPoPSigningAlgValuesSupported      []string `json:"dpop_signing_alg_values_supported,omitempty"`
	AuthorizationDetailsTypesSupported []string `json:"authorization_details_types_supported,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
// Used in the /readyz endpoint to indicate the status of each component.
type HealthChecks struct {
	// Database indicates the database connection status
	Database string `json:"database"`

	// Signer indicates the JWT signing capability status
	Signer string `json:"signer"`
}

// ============================================================================
// JWKS Types
// ============================================================================

// JWKSResponse contains the JSON Web Key Set.
// This is returned from the GET /.well-known/jwks.json endpoint and contains
// public keys used to verify JWT signatures.
type JWKSResponse jwtx.JWKS

// ============================================================================
// MFA Types
// ============================================================================

// TOTPEnrollResponse represents the response from TOTP enrollment.
type TOTPEnrollResponse struct {
	Secret  string `json:"secret" example:"JBSWY3DPEHPK3PXP"`
	QRCode  string `json:"qr_code" example:"otpauth://totp/issuer:user@example.com?secret=JBSWY3DPEHPK3PXP&issuer=issuer"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

// MFAChallengeRequest asks the server to describe a pending MFA challenge.
type MFAChallengeRequest struct {
	MFAToken string `json:"mfa_token"`
}

// MFAChallengeResponse represents an MFA challenge returned during authentication.
type MFAChallengeResponse struct {
	MFARequired bool     `json:"mfa_required"`
	MFAToken    string   `json:"mfa_token"`
	Methods     []string `json:"methods"`
}

// TOTPVerifyRequest is the request to verify a TOTP code.
type TOTPVerifyRequest struct {
	Code string `json:"code"` // 6-digit TOTP code
}

// TOTPRemoveRequest is the request to remove TOTP MFA.
type TOTPRemoveRequest struct {
	Code string `json:"code"` // 6-digit TOTP code for verification
}

// ============================================================================
// Key Rotation Types
// ============================================================================

// RotateKeyRequest represents a request to rotate signing keys.
type RotateKeyRequest struct {
	// RetireExisting will mark current active keys as retired if true.
	// If false, new key is added alongside existing keys.
	RetireExisting bool `json:"retire_existing"`
}

// SigningKeyInfo represents a JWT signing key with its metadata.
type SigningKeyInfo struct {
	ID        string  `json:"id"`                   // ULID
	Kid       string  `json:"kid"`                  // Key identifier in JWKS
	Algorithm string  `json:"algorithm"`            // RS256, ES256, or EdDSA
	CreatedAt string  `json:"created_at"`           // RFC3339 timestamp
	RetiredAt *string `json:"retired_at,omitempty"` // RFC3339 timestamp (null if active)
	ExpiresAt string  `json:"expires_at"`           // RFC3339 timestamp
}

// RotateKeyResponse represents the result of a key rotation operation.
type RotateKeyResponse struct {
	NewKey      SigningKeyInfo   `json:"new_key"`
	RetiredKeys []SigningKeyInfo `json:"retired_keys,omitempty"`
	ActiveKeys  int              `json:"active_keys"`
}
