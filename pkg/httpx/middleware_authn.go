package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lockplane/authd/pkg/jwtx"
	"github.com/lockplane/authd/pkg/slogx"
)

// RequestAuthenticator validates the credential presented on a request and
// returns the claims it carries. Implementations decide what "valid" means:
// the server wires in an authenticator that checks the signature, the
// persisted token record, and any DPoP binding.
type RequestAuthenticator interface {
	AuthenticateRequest(r *http.Request) (jwtx.Claims, error)
}

// AuthError is an authentication failure with enough detail to build the
// RFC 6750 / RFC 9449 WWW-Authenticate challenge.
type AuthError struct {
	Scheme      string // "Bearer" or "DPoP"
	Code        string // e.g. "invalid_token", "invalid_dpop_proof"
	Description string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Scheme, e.Code, e.Description)
}

// AuthnMiddleware guards an endpoint with a RequestAuthenticator. On success
// the claims, subject and scopes land in the request context; on failure a
// 401 with the proper challenge header goes out and the handler never runs.
func AuthnMiddleware(a RequestAuthenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			claims, err := a.AuthenticateRequest(r)
			if err != nil {
				var ae *AuthError
				if errors.As(err, &ae) {
					writeAuthChallenge(w, ae.Scheme, ae.Code, ae.Description)
				} else {
					writeAuthChallenge(w, "Bearer", "invalid_token", "token verification failed")
				}
				log.Warn("request authentication failed", "err", err)
				return
			}

			ctx = contextWithAuth(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthChallenge(w http.ResponseWriter, scheme, code, desc string) {
	w.Header().Set("WWW-Authenticate",
		scheme+` error="`+code+`", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
