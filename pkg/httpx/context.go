package httpx

import (
	"context"

	"github.com/lockplane/authd/pkg/jwtx"
)

// Unexported key types keep the authenticated identity out of reach of
// other packages' context values.
type (
	userIDKey struct{}
	scopesKey struct{}
	claimsKey struct{}
)

// contextWithAuth records the verified token's identity on the request
// context. Handlers read it back with the accessors below.
func contextWithAuth(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, userIDKey{}, c.Subject)
	ctx = context.WithValue(ctx, scopesKey{}, c.ScopeList())
	ctx = context.WithValue(ctx, claimsKey{}, c)
	return ctx
}

// UserIDFromContext returns the authenticated subject, or "" when the
// request did not pass through RequireAuth.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}

// ScopesFromContext returns the scopes granted to the presented token.
func ScopesFromContext(ctx context.Context) []string {
	v, _ := ctx.Value(scopesKey{}).([]string)
	return v
}

// ClaimsFromContext returns the full access-token claims.
func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	v, ok := ctx.Value(claimsKey{}).(jwtx.Claims)
	return v, ok
}
