package http

import (
	"net/http"
	"strings"

	"github.com/lockplane/authd/internal/auth/codec"
	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/dpopx"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/jwtx"
)

// TokenAuthenticator guards the resource endpoints this server hosts
// (userinfo, admin APIs). It implements httpx.RequestAuthenticator and goes
// beyond a signature check: the token's jti must still map to a live
// persisted record, and a DPoP-bound token must arrive under the DPoP scheme
// with a fresh proof signed by the bound key.
type TokenAuthenticator struct {
	Codec *codec.Codec
	DPoP  *service.DPoPService
}

func (a *TokenAuthenticator) AuthenticateRequest(r *http.Request) (jwtx.Claims, error) {
	ctx := r.Context()

	scheme, token, ok := splitAuthorization(r.Header.Get("Authorization"))
	if !ok {
		return jwtx.Claims{}, &httpx.AuthError{
			Scheme:      "Bearer",
			Code:        "invalid_token",
			Description: "missing access token",
		}
	}

	claims, record, err := a.Codec.Verify(ctx, token)
	if err != nil {
		return jwtx.Claims{}, &httpx.AuthError{
			Scheme:      scheme,
			Code:        "invalid_token",
			Description: "the access token is invalid, expired or revoked",
		}
	}

	if record.DPoPJKT != nil && *record.DPoPJKT != "" {
		if !strings.EqualFold(scheme, dpopx.TokenType) {
			return jwtx.Claims{}, &httpx.AuthError{
				Scheme:      dpopx.TokenType,
				Code:        "invalid_token",
				Description: "token is DPoP-bound and must use the DPoP authorization scheme",
			}
		}
		proof := r.Header.Get(dpopx.HeaderName)
		if err := a.DPoP.CheckBinding(ctx, record, proof, r.Method, requestURL(r), token); err != nil {
			return jwtx.Claims{}, &httpx.AuthError{
				Scheme:      dpopx.TokenType,
				Code:        "invalid_dpop_proof",
				Description: "DPoP proof validation failed",
			}
		}
	}

	return *claims, nil
}

// splitAuthorization splits an Authorization header into scheme and
// credential. Only the Bearer and DPoP schemes are accepted.
func splitAuthorization(header string) (scheme, token string, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	scheme = parts[0]
	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", "", false
	}
	if !strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, dpopx.TokenType) {
		return "", "", false
	}

	return scheme, token, true
}

// requestURL reconstructs the absolute URL of the current request for DPoP
// htu comparison. The verifier strips query and fragment, so scheme, host
// and path are all that matter.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.Path
}
