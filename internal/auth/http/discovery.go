package http

import (
	"net/http"
	"strings"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/dpopx"
	"github.com/lockplane/authd/pkg/httpx"
	"github.com/lockplane/authd/pkg/slogx"
)

// DiscoveryHandler serves GET /.well-known/openid-configuration. The
// document is assembled per request so the supported scope list always
// reflects the live registry.
type DiscoveryHandler struct {
	Issuer    string
	PublicURL string
	Scopes    *service.ScopeService
	Details   *service.AuthorizationDetailsProcessor
}

// ServeHTTP godoc
//
//	@Summary		OpenID Connect Discovery Endpoint
//	@Description	Returns the server's OpenID Provider metadata: endpoint locations, supported scopes, grant types and signing algorithms.
//	@Tags			OIDC
//	@Produce		json
//	@Success		200	{object}	authsdk.DiscoveryDocument	"provider metadata"
//	@Router			/.well-known/openid-configuration [get]
func (h *DiscoveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scopes, err := h.Scopes.Supported(ctx)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to load scope registry", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	base := strings.TrimRight(h.PublicURL, "/")

	doc := authsdk.DiscoveryDocument{
		Issuer:                      h.Issuer,
		AuthorizationEndpoint:       base + "/oauth/authorize",
		TokenEndpoint:               base + "/oauth/token",
		UserInfoEndpoint:            base + "/oauth/userinfo",
		JWKSURI:                     base + "/.well-known/jwks.json",
		IntrospectionEndpoint:       base + "/oauth/introspect",
		RevocationEndpoint:          base + "/oauth/revoke",
		DeviceAuthorizationEndpoint: base + "/oauth/device/authorize",
		ScopesSupported:             scopes,
		ResponseTypesSupported:      []string{"code"},
		GrantTypesSupported: []string{
			domain.GrantAuthorizationCode,
			domain.GrantClientCredentials,
			domain.GrantRefreshToken,
			domain.GrantDeviceCode,
			domain.GrantJWTBearer,
		},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},
		CodeChallengeMethodsSupported:    []string{"S256", "plain"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce",
			"acr", "amr", "name", "preferred_username", "picture",
			"locale", "email", "email_verified",
		},
		DPoPSigningAlgValuesSupported:      dpopx.Algorithms(),
		AuthorizationDetailsTypesSupported: h.Details.SupportedTypes(),
	}

	httpx.WriteJSON(w, http.StatusOK, doc)
}
