package http

import (
	"net/http"

	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/slogx"
)

// UserInfoHandler serves the OpenID Connect UserInfo endpoint. The claims
// returned depend on the scopes the access token carries, not on who the
// user is: sub is always present, the profile and email claim families need
// their scopes.
type UserInfoHandler struct {
	UserService *service.UserService
}

// ServeHTTP godoc
//
//	@Summary		OpenID Connect UserInfo Endpoint
//	@Description	Returns claims about the authenticated user. Requires the 'openid' scope.
//	@Description	The 'profile' scope releases name, preferred_username, picture and locale; the 'email' scope releases email and email_verified.
//	@Tags			OIDC
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.UserInfoResponse	"claims for the authenticated user"
//	@Failure		401	{object}	authsdk.ErrorResponse		"invalid or missing access token"
//	@Failure		403	{object}	authsdk.ErrorResponse		"token lacks the openid scope"
//	@Router			/oauth/userinfo [get]
func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	claims, ok := httpx.ClaimsFromContext(ctx)
	if !ok || claims.Subject == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	user, err := h.UserService.GetUserByID(ctx, claims.Subject)
	if err != nil {
		log.Warn("failed to load user", "user_id", claims.Subject, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	response := authsdk.UserInfoResponse{Sub: user.ID}

	if claims.HasScope("profile") {
		response.Name = user.PreferredName
		response.PreferredUsername = user.Username
		if user.Picture != nil {
			response.Picture = *user.Picture
		}
		if user.Locale != nil {
			response.Locale = *user.Locale
		}
	}

	if claims.HasScope("email") && user.Email != nil {
		response.Email = *user.Email
		verified := user.EmailVerified
		response.EmailVerified = &verified
	}

	httpx.WriteJSON(w, http.StatusOK, response)
}
