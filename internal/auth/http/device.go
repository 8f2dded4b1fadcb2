package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/slogx"
)

// DeviceAuthorizeHandler serves POST /oauth/device/authorize (RFC 8628
// section 3.1). A device with no browser starts here and shows the user
// code; the actual grant happens on the approval endpoint from another
// device entirely.
type DeviceAuthorizeHandler struct {
	Device *service.DeviceService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Device Authorization Endpoint
//	@Description	Starts a device authorization flow (RFC 8628). Returns a device_code for polling and a user_code for the user to enter on the verification page.
//	@Tags			OAuth2
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			client_id		formData	string							true	"OAuth2 client identifier"
//	@Param			client_secret	formData	string							false	"Client secret (confidential clients only)"
//	@Param			scope			formData	string							false	"Space-delimited list of scopes"
//	@Success		200				{object}	service.DeviceAuthorization		"device_code, user_code, verification_uri, expires_in, interval"
//	@Failure		400				{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		401				{object}	authsdk.ErrorResponse			"error, error_description"
//	@Header			200				{string}	Cache-Control					"no-store"
//	@Router			/oauth/device/authorize [post]
func (h *DeviceAuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authsdk.ErrInvalidContentType.WriteError(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	clientID, clientSecret := clientCredentials(r, r.Form)

	auth, err := h.Device.Start(ctx, clientID, clientSecret, r.Form.Get("scope"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidClient):
			authsdk.ErrInvalidClient.WriteError(w)
		case errors.Is(err, service.ErrUnauthorizedClient):
			authsdk.ErrUnauthorizedClient.WriteError(w)
		case errors.Is(err, service.ErrInvalidScope):
			authsdk.ErrInvalidScope.WriteError(w)
		case errors.Is(err, service.ErrInvalidRequest):
			authsdk.ErrInvalidRequest.WriteError(w)
		default:
			log.Error("device authorization start failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, auth)
}

// DeviceTokenHandler serves POST /oauth/device/token, the polling half of
// RFC 8628. It accepts only the device_code grant; everything else belongs
// on the main token endpoint.
type DeviceTokenHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Device Token Endpoint
//	@Description	Polls a pending device authorization for tokens (RFC 8628 section 3.4).
//	@Description	Returns authorization_pending while the user has not decided, slow_down when polling faster than the advertised interval, access_denied when refused, and expired_token once the code lapses.
//	@Tags			OAuth2
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string	true	"Must be urn:ietf:params:oauth:grant-type:device_code"
//	@Param			device_code		formData	string	true	"Device code from the device authorization response"
//	@Param			client_id		formData	string	true	"OAuth2 client identifier"
//	@Param			client_secret	formData	string	false	"Client secret (confidential clients only)"
//	@Success		200				{object}	domain.TokenResponse	"access_token, token_type, expires_in, refresh_token, scope"
//	@Failure		400				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		401				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Router			/oauth/device/token [post]
func (h *DeviceTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	req, oauthErr := parseTokenRequest(r)
	if oauthErr != nil {
		oauthErr.WriteError(w)
		return
	}

	if req.GrantType != domain.GrantDeviceCode {
		authsdk.ErrUnsupportedGrantType.
			WithDescription("this endpoint accepts only the device_code grant").
			WriteError(w)
		return
	}

	tokens, err := h.TokenService.Exchange(ctx, req)
	if err != nil {
		writeTokenError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokens)
}

// DeviceApproveHandler serves POST /oauth/device/approve. An authenticated
// user submits the code shown on the device and either approves or denies
// it. This sits behind AuthnMiddleware; the device itself never calls it.
type DeviceApproveHandler struct {
	Device *service.DeviceService
}

// ServeHTTP godoc
//
//	@Summary		Device Authorization Approval Endpoint
//	@Description	Approves or denies a pending device authorization identified by its user code.
//	@Description	The decision is attributed to the authenticated user; an approved device receives tokens on its next poll.
//	@Tags			OAuth2
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		authsdk.DeviceApproveRequest	true	"user_code and the decision"
//	@Success		200		{object}	map[string]string				"status: decided"
//	@Failure		400		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		401		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Router			/oauth/device/approve [post]
func (h *DeviceApproveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.DeviceApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
		return
	}

	if err := h.Device.Approve(ctx, req.UserCode, userID, req.Approve); err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			authsdk.ErrInvalidRequest.
				WithDescription("user code is unknown, expired or already decided").
				WriteError(w)
			return
		}
		log.Error("device approval failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "decided"})
}
