package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/slogx"
)

// IntrospectHandler serves POST /oauth/introspect following RFC 7662. The
// caller must authenticate as a registered client; the response never
// distinguishes why a token is inactive.
type IntrospectHandler struct {
	Introspection *service.IntrospectionService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Introspection Endpoint
//	@Description	Returns metadata about an access or refresh token (RFC 7662).
//	@Description	Requires client authentication via HTTP Basic or client_id/client_secret form fields.
//	@Description	Unknown, expired and revoked tokens all produce {"active":false} with no further detail.
//	@Tags			OAuth2
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Security		BasicAuth
//	@Param			token			formData	string							true	"The token to introspect"
//	@Param			token_type_hint	formData	string							false	"Hint about the token type"	Enums(access_token, refresh_token)
//	@Param			client_id		formData	string							false	"Client ID (if not using Basic auth)"
//	@Param			client_secret	formData	string							false	"Client secret (if not using Basic auth)"
//	@Success		200				{object}	service.IntrospectionResponse	"Token introspection result"
//	@Failure		400				{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		401				{object}	authsdk.ErrorResponse			"error, error_description"
//	@Header			200				{string}	Cache-Control					"no-store"
//	@Router			/oauth/introspect [post]
func (h *IntrospectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	if _, err := h.Introspection.AuthenticateCaller(ctx, clientID, clientSecret); err != nil {
		if errors.Is(err, service.ErrInvalidClient) {
			authsdk.ErrInvalidClient.WriteError(w)
			return
		}
		log.Error("introspection client lookup failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	token := r.Form.Get("token")
	if token == "" {
		authsdk.ErrInvalidRequest.WithDescription("token is required").WriteError(w)
		return
	}

	resp, err := h.Introspection.Introspect(ctx, token, r.Form.Get("token_type_hint"))
	if err != nil {
		log.Error("introspection failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	if !resp.Active {
		writeInactiveResponse(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// writeInactiveResponse returns the minimal RFC 7662 response for inactive
// tokens. Unknown, revoked, expired and malformed all look identical here,
// which is what keeps the endpoint from being a token oracle.
func writeInactiveResponse(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"active":false}`))
}
