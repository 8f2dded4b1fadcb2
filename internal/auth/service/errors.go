package service

import "errors"

// Service sentinels. The messages are the RFC 6749/8628/9396/9449 error
// codes, so HTTP handlers can branch with errors.Is and echo err.Error()
// as the "error" member of the response body.
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrInvalidScope            = errors.New("invalid_scope")

	// RFC 8628 device-flow polling results.
	ErrAuthorizationPending = errors.New("authorization_pending")
	ErrSlowDown             = errors.New("slow_down")
	ErrAccessDenied         = errors.New("access_denied")
	ErrExpiredToken         = errors.New("expired_token")

	// RFC 9449.
	ErrInvalidDPoPProof = errors.New("invalid_dpop_proof")

	// RFC 9396.
	ErrInvalidAuthorizationDetails = errors.New("invalid_authorization_details")

	// Resource-owner authentication at the authorize endpoint.
	ErrLoginRequired      = errors.New("login_required")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrTooManyAttempts    = errors.New("too_many_attempts")
)
