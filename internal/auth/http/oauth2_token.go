package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/dpopx"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/slogx"
)

// TokenHandler serves POST /oauth/token
// Accepts application/x-www-form-urlencoded per the RFC 6749 framework.
type TokenHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Endpoint
//	@Description	Issues access, refresh and ID tokens for every supported grant type (authorization_code with PKCE, client_credentials, refresh_token, device_code, jwt-bearer).
//	@Description	Client authentication is accepted as HTTP Basic auth or as client_id/client_secret form fields. A DPoP header on the request binds the issued access token to the proof key.
//	@Tags			OAuth2
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string					true	"Grant type"	Enums(authorization_code, client_credentials, refresh_token, urn:ietf:params:oauth:grant-type:device_code, urn:ietf:params:oauth:grant-type:jwt-bearer)
//	@Param			client_id		formData	string					false	"Client identifier (or HTTP Basic auth)"
//	@Param			client_secret	formData	string					false	"Client secret (confidential clients)"
//	@Param			code			formData	string					false	"Authorization code (authorization_code grant)"
//	@Param			redirect_uri	formData	string					false	"Redirect URI used on the authorize request (authorization_code grant)"
//	@Param			code_verifier	formData	string					false	"PKCE code verifier (required for public clients)"
//	@Param			refresh_token	formData	string					false	"Refresh token (refresh_token grant)"
//	@Param			device_code		formData	string					false	"Device code (device_code grant)"
//	@Param			assertion		formData	string					false	"Signed JWT assertion (jwt-bearer grant)"
//	@Param			scope			formData	string					false	"Space-delimited list of scopes"
//	@Param			DPoP			header		string					false	"DPoP proof JWT binding the issued token to a client key"
//	@Success		200				{object}	authsdk.TokenResponse	"access_token, token_type, expires_in, refresh_token, id_token, scope"
//	@Failure		400				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		401				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		500				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Header			200				{string}	Pragma					"no-cache"
//	@Router			/oauth/token [post]
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	req, parseErr := parseTokenRequest(r)
	if parseErr != nil {
		parseErr.WriteError(w)
		return
	}
	if req.GrantType == "" {
		authsdk.ErrInvalidRequest.WithDescription("grant_type is required").WriteError(w)
		return
	}

	tokens, err := h.TokenService.Exchange(ctx, req)
	if err != nil {
		writeTokenError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokens)
}

// parseTokenRequest validates the request framing and lifts the form body
// into a service.TokenRequest. Fields a given grant does not use stay empty
// and are ignored by the service.
func parseTokenRequest(r *http.Request) (service.TokenRequest, *authsdk.OAuth2Error) {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return service.TokenRequest{}, authsdk.ErrInvalidContentType
	}

	if err := r.ParseForm(); err != nil {
		return service.TokenRequest{}, authsdk.ErrInvalidFormBody
	}

	clientID, clientSecret := clientCredentials(r, r.Form)

	return service.TokenRequest{
		GrantType:    strings.TrimSpace(r.Form.Get("grant_type")),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         strings.TrimSpace(r.Form.Get("code")),
		RedirectURI:  strings.TrimSpace(r.Form.Get("redirect_uri")),
		CodeVerifier: strings.TrimSpace(r.Form.Get("code_verifier")),
		RefreshToken: strings.TrimSpace(r.Form.Get("refresh_token")),
		DeviceCode:   strings.TrimSpace(r.Form.Get("device_code")),
		Assertion:    strings.TrimSpace(r.Form.Get("assertion")),
		Scope:        strings.TrimSpace(r.Form.Get("scope")),
		DPoPProof:    r.Header.Get(dpopx.HeaderName),
		HTTPMethod:   r.Method,
		HTTPURI:      requestURL(r),
	}, nil
}

// clientCredentials pulls client authentication off the request: HTTP Basic
// auth per RFC 6749 section 2.3.1 wins, the form body is the fallback. Basic
// credentials are form-urlencoded inside the header, so both halves get
// unescaped.
func clientCredentials(r *http.Request, form url.Values) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if decoded, err := url.QueryUnescape(id); err == nil {
			id = decoded
		}
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
		return id, secret
	}
	return strings.TrimSpace(form.Get("client_id")), form.Get("client_secret")
}

// writeTokenError maps a service error onto the RFC 6749/8628/9396/9449
// taxonomy. Anything unrecognized is an internal failure: logged here,
// reported to the caller only as server_error.
func writeTokenError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidClient):
		authsdk.ErrInvalidClient.WriteError(w)
	case errors.Is(err, service.ErrUnauthorizedClient):
		authsdk.ErrUnauthorizedClient.WriteError(w)
	case errors.Is(err, service.ErrUnsupportedGrantType):
		authsdk.ErrUnsupportedGrantType.WriteError(w)
	case errors.Is(err, service.ErrInvalidScope):
		authsdk.ErrInvalidScope.WriteError(w)
	case errors.Is(err, service.ErrAuthorizationPending):
		authsdk.ErrAuthorizationPending.WriteError(w)
	case errors.Is(err, service.ErrSlowDown):
		authsdk.ErrSlowDown.WriteError(w)
	case errors.Is(err, service.ErrExpiredToken):
		authsdk.ErrExpiredToken.WriteError(w)
	case errors.Is(err, service.ErrAccessDenied):
		authsdk.ErrAccessDenied.WriteError(w)
	case errors.Is(err, service.ErrInvalidDPoPProof):
		authsdk.ErrInvalidDPoPProof.WriteError(w)
	case errors.Is(err, service.ErrInvalidAuthorizationDetails):
		authsdk.ErrInvalidAuthorizationDetails.WriteError(w)
	case errors.Is(err, service.ErrInvalidGrant):
		log.Warn("token exchange rejected", "err", err)
		authsdk.ErrInvalidGrant.WriteError(w)
	case errors.Is(err, service.ErrInvalidRequest):
		authsdk.ErrInvalidRequest.WriteError(w)
	default:
		log.Error("token exchange failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
