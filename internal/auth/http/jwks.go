package http

import (
	"net/http"

	"github.com/lockplane/authd/internal/auth/codec"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/httpx"
)

// JWKSHandler exposes the JSON Web Key Set for ID token verification. Only
// the RSA signing keys appear here; access tokens are HMAC-signed and
// verified server-side through introspection.
//
//	@Summary		Get JWKS
//	@Description	Returns the JSON Web Key Set used to verify ID token signatures.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	authsdk.JWKSResponse	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get]
func JWKSHandler(c *codec.Codec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.JWKSResponse(c.PublicJWKS()))
	}
}
