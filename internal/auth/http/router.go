package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lockplane/authd/internal/auth/codec"
	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/jwtx"
	"github.com/lockplane/authd/pkg/slogx"

	_ "github.com/lockplane/authd/api/authd" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	codec        *codec.Codec
	keys         *jwtx.KeyManager
	authn        *TokenAuthenticator
	issuer       string
	publicURL    string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store

	TokenService         *service.TokenService
	UserService          *service.UserService
	BootstrapService     *service.BootstrapService
	MFAService           *service.MFAService
	ClientService        *service.ClientService
	AuthorizeService     *service.AuthorizeService
	DeviceService        *service.DeviceService
	IntrospectionService *service.IntrospectionService
	DPoPService          *service.DPoPService
	ScopeService         *service.ScopeService
	DetailsProcessor     *service.AuthorizationDetailsProcessor
	KeyRotationService   *service.KeyRotationService
}

func NewRouter(
	keys *jwtx.KeyManager,
	c *codec.Codec,
	issuer, publicURL, buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		codec:        c,
		issuer:       issuer,
		publicURL:    publicURL,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	// One authenticator for every protected endpoint: signature, persisted
	// record and DPoP binding all checked per request.
	r.authn = &TokenAuthenticator{
		Codec: r.codec,
		DPoP:  r.DPoPService,
	}

	r.registerOAuth2()
	r.registerDevice()
	r.registerUserInfo()
	r.registerWellKnown()
	r.registerClients()
	r.registerMFA()
	r.registerKeyRotation()
	r.registerSystem()
	r.registerBootstrap()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Lockplane Authorization Server API
//	@version		0.1.0
//	@description	OAuth 2.0 and OpenID Connect authorization server: authorization code with PKCE, client credentials, refresh token rotation, device flow, JWT bearer assertions, token introspection and revocation, DPoP sender constraining, and rich authorization requests.
//	@description
//	@description				Access tokens are HS256 JWTs checked against their persisted record on every use; ID tokens are RS256 and verifiable via the JWKS endpoint.
//
//	@contact.name				Lockplane Engineering
//	@contact.url				https://github.com/lockplane/authd
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}" (or "DPoP {token}" for sender-constrained tokens).
//
//	@securityDefinitions.basic	BasicAuth
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOAuth2() {
	authorizeHandler := &AuthorizeHandler{
		AuthorizeService: r.AuthorizeService,
		Auth:             r.authn,
	}

	// GET /authorize - lenient rate limit (renders consent context only)
	r.Mux.Handle("GET /oauth/authorize",
		httpx.Chain(http.HandlerFunc(authorizeHandler.HandleGet),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// POST /authorize - strict rate limit by IP + username form field to
	// slow password brute force
	r.Mux.Handle("POST /oauth/authorize",
		httpx.Chain(http.HandlerFunc(authorizeHandler.HandlePost),
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "username"),
		),
	)

	// POST /token - strict rate limit by IP (covers all grant types)
	tokenHandler := &TokenHandler{TokenService: r.TokenService}
	r.Mux.Handle("POST /oauth/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /introspect - client-authenticated inside the handler per
	// RFC 7662, so the limit keys on IP
	introspectHandler := &IntrospectHandler{Introspection: r.IntrospectionService}
	r.Mux.Handle("POST /oauth/introspect",
		httpx.Chain(introspectHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /revoke - moderate rate limit
	revokeHandler := &RevokeHandler{Introspection: r.IntrospectionService}
	r.Mux.Handle("POST /oauth/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerDevice() {
	authorizeHandler := &DeviceAuthorizeHandler{Device: r.DeviceService}
	tokenHandler := &DeviceTokenHandler{TokenService: r.TokenService}
	approveHandler := &DeviceApproveHandler{Device: r.DeviceService}

	// POST /device/authorize - moderate rate limit by IP
	r.Mux.Handle("POST /oauth/device/authorize",
		httpx.Chain(authorizeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /device/token - the RFC 8628 poll interval is 5s, so the
	// moderate profile leaves headroom for a compliant device while the
	// slow_down logic handles the rest
	r.Mux.Handle("POST /oauth/device/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /device/approve - authenticated user decision
	r.Mux.Handle("POST /oauth/device/approve",
		httpx.Chain(approveHandler,
			httpx.AuthnMiddleware(r.authn),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerUserInfo() {
	h := &UserInfoHandler{UserService: r.UserService}

	secured := httpx.Chain(h,
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("openid"),
		httpx.RateLimitByUser(httpx.LenientLimit),
	)

	// OIDC Core section 5.3.1 requires both verbs.
	r.Mux.Handle("GET /oauth/userinfo", secured)
	r.Mux.Handle("POST /oauth/userinfo", secured)
}

func (r *Router) registerWellKnown() {
	discoveryHandler := &DiscoveryHandler{
		Issuer:    r.issuer,
		PublicURL: r.publicURL,
		Scopes:    r.ScopeService,
		Details:   r.DetailsProcessor,
	}

	r.Mux.Handle("GET /.well-known/openid-configuration",
		httpx.Chain(discoveryHandler,
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)

	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.codec),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerClients() {
	h := &ClientsHandler{ClientService: r.ClientService}

	securedCreate := httpx.Chain(http.HandlerFunc(h.HandleCreate),
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("admin"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	securedList := httpx.Chain(http.HandlerFunc(h.HandleList),
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("admin"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	securedGet := httpx.Chain(http.HandlerFunc(h.HandleGet),
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("admin"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	securedDelete := httpx.Chain(http.HandlerFunc(h.HandleDelete),
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("admin"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/clients", securedCreate)
	r.Mux.Handle("GET /v1/clients", securedList)
	r.Mux.Handle("GET /v1/clients/{id}", securedGet)
	r.Mux.Handle("DELETE /v1/clients/{id}", securedDelete)
}

func (r *Router) registerBootstrap() {
	// POST /bootstrap - very strict rate limit by IP (one-time setup endpoint)
	bootstrapHandler := &BootstrapHandler{BootstrapService: r.BootstrapService}
	r.Mux.Handle("POST /v1/bootstrap",
		httpx.Chain(bootstrapHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{
		MFAService:       r.MFAService,
		AuthorizeService: r.AuthorizeService,
	}

	securedEnroll := httpx.Chain(http.HandlerFunc(h.HandleEnroll),
		httpx.AuthnMiddleware(r.authn),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	// Strict limit on verify to slow TOTP guessing
	securedVerify := httpx.Chain(http.HandlerFunc(h.HandleVerify),
		httpx.AuthnMiddleware(r.authn),
		httpx.RateLimitByUser(httpx.StrictLimit),
	)

	securedRemove := httpx.Chain(http.HandlerFunc(h.HandleRemove),
		httpx.AuthnMiddleware(r.authn),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/mfa/enroll", securedEnroll)
	r.Mux.Handle("POST /v1/mfa/verify", securedVerify)
	r.Mux.Handle("DELETE /v1/mfa/totp", securedRemove)

	// The challenge endpoint authenticates by mfa_token alone: callers hold
	// no access token yet, so the limit keys on IP
	r.Mux.Handle("POST /v1/mfa/challenge",
		httpx.Chain(http.HandlerFunc(h.HandleChallenge),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerKeyRotation() {
	h := &KeyRotationHandler{KeyRotationService: r.KeyRotationService}

	securedRotate := httpx.Chain(http.HandlerFunc(h.HandleRotate),
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("admin"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	securedList := httpx.Chain(http.HandlerFunc(h.HandleListKeys),
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("admin"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	securedRetire := httpx.Chain(http.HandlerFunc(h.HandleRetireKey),
		httpx.AuthnMiddleware(r.authn),
		httpx.RequireAnyScope("admin"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/keys/rotate", securedRotate)
	r.Mux.Handle("GET /v1/keys", securedList)
	r.Mux.Handle("POST /v1/keys/{kid}/retire", securedRetire)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /version",
		httpx.Chain(VersionHandler(r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
