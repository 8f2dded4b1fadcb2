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

// RevokeHandler serves POST /oauth/revoke following RFC 7009. Revoking an
// access token also revokes its refresh token and vice versa. Unknown or
// already-dead tokens still return 200 OK so the endpoint cannot be used to
// scan for live tokens.
type RevokeHandler struct {
	Introspection *service.IntrospectionService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 Token Revocation Endpoint
//	@Description	Revokes a previously issued access or refresh token (RFC 7009).
//	@Description	Requires client authentication via HTTP Basic or client_id/client_secret form fields.
//	@Description	Revoking either half of an access/refresh pair invalidates both.
//	@Description	The endpoint is idempotent and returns 200 OK even for invalid or unknown tokens.
//	@Tags			OAuth2
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Security		BasicAuth
//	@Param			token			formData	string	true	"The token to revoke"
//	@Param			token_type_hint	formData	string	false	"Hint about the token type"	Enums(access_token, refresh_token)
//	@Param			client_id		formData	string	false	"Client ID (if not using Basic auth)"
//	@Param			client_secret	formData	string	false	"Client secret (if not using Basic auth)"
//	@Success		200				{object}	map[string]string		"empty JSON object"
//	@Failure		400				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Failure		401				{object}	authsdk.ErrorResponse	"error, error_description"
//	@Header			200				{string}	Cache-Control			"no-store"
//	@Router			/oauth/revoke [post]
func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		log.Error("revocation client lookup failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	token := r.Form.Get("token")
	if token == "" {
		authsdk.ErrInvalidRequest.WithDescription("token is required").WriteError(w)
		return
	}

	// RFC 7009 section 2.2: the server responds 200 even when the token is
	// invalid or unknown. Failures are an operator concern, not the caller's.
	if err := h.Introspection.Revoke(ctx, token, r.Form.Get("token_type_hint")); err != nil {
		log.Warn("token revocation failed", "err", err)
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{})
}
