package auth_test

import (
	"testing"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestJWKSEndpoint verifies signing keys are published before bootstrap.
func TestJWKSEndpoint(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	jwks, err := client.GetJWKS(t.Context())
	require.NoError(t, err)
	require.NotNil(t, jwks)
	require.NotEmpty(t, jwks.Keys, "JWKS should contain at least one key")

	for _, key := range jwks.Keys {
		require.NotEmpty(t, key.Kid, "every published key needs a kid")
		require.Equal(t, "sig", key.Use)
		t.Logf("Key ID: %s, Algorithm: %s, Use: %s", key.Kid, key.Alg, key.Use)
	}
}

// TestDiscoveryDocument verifies the OpenID Connect discovery metadata
// advertises every endpoint and capability the server implements.
func TestDiscoveryDocument(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	doc, err := client.GetDiscovery(t.Context())
	require.NoError(t, err)
	require.NotNil(t, doc)

	require.NotEmpty(t, doc.Issuer)
	require.Contains(t, doc.AuthorizationEndpoint, "/oauth/authorize")
	require.Contains(t, doc.TokenEndpoint, "/oauth/token")
	require.Contains(t, doc.UserInfoEndpoint, "/oauth/userinfo")
	require.Contains(t, doc.JWKSURI, "/.well-known/jwks.json")
	require.Contains(t, doc.IntrospectionEndpoint, "/oauth/introspect")
	require.Contains(t, doc.RevocationEndpoint, "/oauth/revoke")
	require.Contains(t, doc.DeviceAuthorizationEndpoint, "/oauth/device/authorize")

	require.Contains(t, doc.ResponseTypesSupported, "code")
	require.Contains(t, doc.GrantTypesSupported, "authorization_code")
	require.Contains(t, doc.GrantTypesSupported, "client_credentials")
	require.Contains(t, doc.GrantTypesSupported, "refresh_token")
	require.Contains(t, doc.GrantTypesSupported, "urn:ietf:params:oauth:grant-type:device_code")
	require.Contains(t, doc.GrantTypesSupported, "urn:ietf:params:oauth:grant-type:jwt-bearer")
	require.Contains(t, doc.CodeChallengeMethodsSupported, "S256")
	require.Contains(t, doc.ScopesSupported, "openid")
	require.NotEmpty(t, doc.DPoPSigningAlgValuesSupported, "DPoP algorithms should be advertised")

	t.Logf("Discovery document for issuer %s OK", doc.Issuer)
}
