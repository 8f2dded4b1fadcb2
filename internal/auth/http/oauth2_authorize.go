package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/slogx"
)

// AuthorizeHandler runs the authorization endpoint (RFC 6749 section 3.1).
// GET describes the pending request so a login/consent page can render; POST
// takes the resource owner's credentials (or an MFA follow-up, or an
// existing session token) and redirects back with a code.
type AuthorizeHandler struct {
	AuthorizeService *service.AuthorizeService

	// Auth resolves an already-authenticated session from a presented
	// access token, letting a logged-in user skip the password step.
	Auth *TokenAuthenticator
}

// HandleGet godoc
//
//	@Summary		OAuth2 Authorization Endpoint (GET)
//	@Description	Validates an authorization request and returns the context a login or consent page needs: the requesting client and the effective scopes.
//	@Description	No code is issued here; the user agent submits credentials or consent with POST.
//	@Description
//	@Description	Errors before the client_id/redirect_uri pair validates are returned as JSON and never redirected.
//	@Description	Once the pair validates, protocol errors redirect back to the client with error query parameters.
//	@Tags			OAuth2
//	@Produce		json
//	@Param			response_type			query		string					true	"Must be 'code'"	default(code)
//	@Param			client_id				query		string					true	"OAuth2 client identifier"
//	@Param			redirect_uri			query		string					true	"Callback URI (must exactly match a registered redirect URI)"
//	@Param			scope					query		string					false	"Space-delimited list of scopes"	example("openid profile read")
//	@Param			state					query		string					false	"Opaque value echoed back to the client (CSRF protection)"
//	@Param			nonce					query		string					false	"OpenID Connect nonce echoed in the ID token"
//	@Param			code_challenge			query		string					false	"PKCE code challenge (required for public clients)"
//	@Param			code_challenge_method	query		string					false	"PKCE method"	default(S256)	Enums(S256, plain)
//	@Param			authorization_details	query		string					false	"RFC 9396 authorization details JSON array"
//	@Success		200						{object}	authsdk.AuthorizeContext	"client and scope context for the consent page"
//	@Failure		400						{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		401						{object}	authsdk.ErrorResponse		"error, error_description"
//	@Router			/oauth/authorize [get]
func (h *AuthorizeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authReq := buildAuthorizeRequest(nil, r.URL.Query())

	client, err := h.AuthorizeService.ValidateClientRedirect(ctx, authReq.ClientID, authReq.RedirectURI)
	if err != nil {
		h.failAuthorize(w, r, authReq, err, false)
		return
	}

	scopes, err := h.AuthorizeService.DescribeConsent(ctx, client, authReq)
	if err != nil {
		h.failAuthorize(w, r, authReq, err, true)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.AuthorizeContext{
		ClientID:    client.ID,
		ClientName:  client.Name,
		RedirectURI: authReq.RedirectURI,
		Scopes:      scopes,
		State:       authReq.State,
	})
}

// HandlePost godoc
//
//	@Summary		OAuth2 Authorization Endpoint (POST)
//	@Description	Authenticates the resource owner and issues an authorization code as a 302 redirect with code and state query parameters.
//	@Description	Three ways to authenticate: username/password form fields, a bearer access token (existing session), or an mfa_token/mfa_code pair continuing a parked login.
//	@Description	Users with TOTP enrolled get a 409 carrying mfa_token instead of a code; resubmit with the 6-digit code to finish.
//	@Tags			OAuth2
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			response_type			formData	string	true	"Must be 'code'"	default(code)
//	@Param			client_id				formData	string	true	"OAuth2 client identifier"
//	@Param			redirect_uri			formData	string	true	"Callback URI (must exactly match a registered redirect URI)"
//	@Param			scope					formData	string	false	"Space-delimited list of scopes"
//	@Param			state					formData	string	false	"Opaque value echoed back to the client"
//	@Param			nonce					formData	string	false	"OpenID Connect nonce echoed in the ID token"
//	@Param			code_challenge			formData	string	false	"PKCE code challenge (required for public clients)"
//	@Param			code_challenge_method	formData	string	false	"PKCE method"	Enums(S256, plain)
//	@Param			authorization_details	formData	string	false	"RFC 9396 authorization details JSON array"
//	@Param			username				formData	string	false	"Username for password authentication"
//	@Param			password				formData	string	false	"Password for password authentication"
//	@Param			mfa_token				formData	string	false	"MFA token from a previous 409 response"
//	@Param			mfa_code				formData	string	false	"6-digit TOTP code"
//	@Success		302						{string}	string					"Redirect to redirect_uri with code and state"
//	@Success		409						{object}	authsdk.MFARequiredError	"second factor required; resubmit with mfa_token and mfa_code"
//	@Failure		400						{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		401						{object}	authsdk.ErrorResponse		"error, error_description"
//	@Router			/oauth/authorize [post]
func (h *AuthorizeHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authsdk.ErrInvalidContentType.WriteError(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	authReq := buildAuthorizeRequest(r.Form, r.URL.Query())
	authReq.Username = strings.TrimSpace(r.Form.Get("username"))
	authReq.Password = r.Form.Get("password")
	authReq.Session = h.resolveSession(r)

	// The redirect URI is untrusted until this passes; nothing may redirect
	// before it does.
	if _, err := h.AuthorizeService.ValidateClientRedirect(ctx, authReq.ClientID, authReq.RedirectURI); err != nil {
		h.failAuthorize(w, r, authReq, err, false)
		return
	}

	resp, err := h.AuthorizeService.IssueAuthorizationCode(ctx, authReq)
	if err != nil {
		h.failAuthorize(w, r, authReq, err, true)
		return
	}

	location, err := buildAuthorizeRedirect(resp.RedirectURI, resp.Code, resp.State)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to build authorize redirect", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}
	httpx.NoCache(w)
	http.Redirect(w, r, location, http.StatusFound)
}

// buildAuthorizeRequest collects the protocol parameters, preferring the
// form body over the query string so a POST can override what the original
// link carried.
func buildAuthorizeRequest(primary, secondary url.Values) service.AuthorizeRequest {
	pick := func(key string) string {
		if primary != nil {
			if v := strings.TrimSpace(primary.Get(key)); v != "" {
				return v
			}
		}
		if secondary != nil {
			return strings.TrimSpace(secondary.Get(key))
		}
		return ""
	}

	return service.AuthorizeRequest{
		ResponseType:         pick("response_type"),
		ClientID:             pick("client_id"),
		RedirectURI:          pick("redirect_uri"),
		Scope:                pick("scope"),
		State:                pick("state"),
		Nonce:                pick("nonce"),
		CodeChallenge:        pick("code_challenge"),
		CodeChallengeMethod:  pick("code_challenge_method"),
		AuthorizationDetails: pick("authorization_details"),
		MFAToken:             pick("mfa_token"),
		MFACode:              pick("mfa_code"),
	}
}

// resolveSession turns a presented access token into a session context. The
// full authenticator runs, so a revoked or DPoP-bound-but-unproven token
// does not count as a login.
func (h *AuthorizeHandler) resolveSession(r *http.Request) *service.SessionContext {
	if h.Auth == nil || r.Header.Get("Authorization") == "" {
		return nil
	}
	claims, err := h.Auth.AuthenticateRequest(r)
	if err != nil || claims.Subject == "" {
		return nil
	}
	return &service.SessionContext{UserID: claims.Subject}
}

// failAuthorize writes an authorize-endpoint error. Interactive login
// failures always render as JSON so the user can retry on our page.
// Protocol errors redirect back to the client app once the redirect URI has
// been validated; before that they render too, since the redirect target
// itself is untrusted (RFC 6749 section 3.1.2.4).
func (h *AuthorizeHandler) failAuthorize(
	w http.ResponseWriter,
	r *http.Request,
	req service.AuthorizeRequest,
	err error,
	redirectValidated bool,
) {
	log := slogx.FromContext(r.Context())

	var mfaErr *service.MFARequiredError
	if errors.As(err, &mfaErr) {
		(&authsdk.MFARequiredError{
			MFAToken: mfaErr.MFAToken,
			Methods:  mfaErr.Methods,
		}).WriteError(w)
		return
	}

	switch {
	case errors.Is(err, service.ErrLoginRequired):
		authsdk.ErrLoginRequired.WithState(req.State).WriteError(w)
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.NewOAuth2Error(
			http.StatusUnauthorized,
			authsdk.ErrorCodeInvalidCredentials,
			"invalid username or password",
		).WriteError(w)
		return
	case errors.Is(err, service.ErrTooManyAttempts):
		authsdk.NewOAuth2Error(
			http.StatusUnauthorized,
			authsdk.ErrorCodeInvalidGrant,
			"too many failed attempts, the login must be restarted",
		).WriteError(w)
		return
	case errors.Is(err, service.ErrInvalidGrant):
		authsdk.ErrInvalidGrant.WithState(req.State).WriteError(w)
		return
	}

	var oauthErr *authsdk.OAuth2Error
	switch {
	case errors.Is(err, service.ErrUnsupportedResponseType):
		oauthErr = authsdk.ErrUnsupportedResponseType
	case errors.Is(err, service.ErrUnauthorizedClient):
		oauthErr = authsdk.ErrUnauthorizedClient
	case errors.Is(err, service.ErrInvalidScope):
		oauthErr = authsdk.ErrInvalidScope
	case errors.Is(err, service.ErrInvalidAuthorizationDetails):
		oauthErr = authsdk.ErrInvalidAuthorizationDetails
	case errors.Is(err, service.ErrInvalidClient):
		authsdk.ErrInvalidClient.WriteError(w)
		return
	case errors.Is(err, service.ErrInvalidRequest):
		oauthErr = authsdk.ErrInvalidRequest
	default:
		log.Error("authorize request failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	if redirectValidated {
		if location := buildErrorRedirect(req.RedirectURI, req.State, oauthErr); location != "" {
			httpx.NoCache(w)
			http.Redirect(w, r, location, http.StatusFound)
			return
		}
	}
	oauthErr.WithState(req.State).WriteError(w)
}

// buildAuthorizeRedirect constructs the success redirect carrying the code.
func buildAuthorizeRedirect(baseURI, code, state string) (string, error) {
	u, err := url.Parse(baseURI)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// buildErrorRedirect constructs the error redirect per RFC 6749 section
// 4.1.2.1. Returns an empty string when the base URI does not parse.
func buildErrorRedirect(baseURI, state string, oauthErr *authsdk.OAuth2Error) string {
	u, err := url.Parse(baseURI)
	if err != nil {
		return ""
	}

	q := u.Query()
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
