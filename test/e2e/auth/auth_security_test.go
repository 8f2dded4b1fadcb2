package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/lockplane/authd/pkg/dpopx"
)

// TestRevocationCascade verifies RFC 7009 behaviour: revoking an access
// token kills its refresh token too, revocation is idempotent, and a
// revoked token is rejected at protected endpoints.
func TestRevocationCascade(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	session := performLogin(t, client, clientID, clientSecret, adminUsername, adminPassword)
	accessToken := session.AccessToken()
	refreshToken := session.RefreshToken()
	require.NotEmpty(t, refreshToken)

	err := client.RevokeToken(t.Context(), clientID, clientSecret, accessToken, "access_token")
	require.NoError(t, err)

	// Revoking the same token again still succeeds.
	err = client.RevokeToken(t.Context(), clientID, clientSecret, accessToken, "access_token")
	require.NoError(t, err)

	introspection, err := client.IntrospectToken(t.Context(), clientID, clientSecret, accessToken, "access_token")
	require.NoError(t, err)
	require.False(t, introspection.Active)

	// The refresh token was revoked alongside the access token.
	_, err = client.RefreshGrant(t.Context(), clientID, clientSecret, refreshToken)
	var oauthErr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, authsdk.ErrorCodeInvalidGrant, oauthErr.Code)

	_, err = session.GetUserInfo(t.Context())
	assertUnauthorized(t, err, "Revoked access token at userinfo")
}

// TestRevokeUnknownToken verifies that revoking a token the server has
// never seen still returns success, per RFC 7009 section 2.2.
func TestRevokeUnknownToken(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	err := client.RevokeToken(t.Context(), clientID, clientSecret, "token-that-never-existed", "")
	require.NoError(t, err)
}

// TestUserInfoRejectsGarbageToken verifies server-side token validation on
// the userinfo endpoint, independent of any client-side checks.
func TestUserInfoRejectsGarbageToken(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	session := client.NewSessionFromTokens(clientID, clientSecret, "invalid-token-12345", "", "openid profile", 3600)
	_, err := session.GetUserInfo(t.Context())
	assertUnauthorized(t, err, "Garbage access token")
}

// TestDPoPBoundTokens runs the code flow with a DPoP proofer attached and
// verifies the issued token is sender-constrained: token_type DPoP, cnf.jkt
// matching the proof key, accepted under the DPoP scheme with a fresh proof
// and rejected when replayed under the Bearer scheme.
func TestDPoPBoundTokens(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, adminUserID := bootstrapService(t, client)

	key, err := dpopx.GenerateKey()
	require.NoError(t, err)
	proofer, err := dpopx.NewProofer(key)
	require.NoError(t, err)
	client.DPoP = proofer

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	code, err := client.AuthorizeWithPassword(t.Context(), clientID, testRedirectURI, adminUsername, adminPassword, clientScopes, pkce)
	require.NoError(t, err)

	tokenResp, err := client.ExchangeAuthorizationCode(t.Context(), clientID, clientSecret, code, testRedirectURI, pkce.Verifier)
	require.NoError(t, err)
	require.Equal(t, "DPoP", tokenResp.TokenType)

	introspection, err := client.IntrospectToken(t.Context(), clientID, clientSecret, tokenResp.AccessToken, "access_token")
	require.NoError(t, err)
	require.True(t, introspection.Active)
	require.Equal(t, adminUserID, introspection.Sub)
	require.NotNil(t, introspection.Cnf)
	require.Equal(t, proofer.Thumbprint(), introspection.Cnf.JKT)

	// A session built from the client signs a fresh proof per request.
	session := client.NewSessionFromTokens(clientID, clientSecret,
		tokenResp.AccessToken, tokenResp.RefreshToken, tokenResp.Scope, tokenResp.ExpiresIn)
	userInfo, err := session.GetUserInfo(t.Context())
	require.NoError(t, err)
	require.Equal(t, adminUserID, userInfo.Sub)

	// The same token presented as a plain bearer token must be rejected.
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, baseURL+"/oauth/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestJWTBearerGrant registers a client with a JWKS and redeems a signed
// assertion for an access token (RFC 7523). The grant never issues a
// refresh token, and an assertion addressed to another server is rejected.
func TestJWTBearerGrant(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)
	admin := performLogin(t, client, clientID, clientSecret, adminUsername, adminPassword)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pubKey, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, pubKey.Set(jwk.KeyIDKey, "assertion-key-1"))
	require.NoError(t, pubKey.Set(jwk.AlgorithmKey, jwa.EdDSA))

	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(pubKey))
	jwks, err := json.Marshal(keySet)
	require.NoError(t, err)

	created, err := admin.CreateClient(t.Context(), authsdk.CreateClientRequest{
		Name:         "batch-runner",
		Confidential: true,
		Scopes:       []string{"read", "write"},
		GrantTypes:   []string{"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		JWKS:         jwks,
	})
	require.NoError(t, err)

	signAssertion := func(audience string) string {
		now := time.Now()
		claims := jwt.RegisteredClaims{
			Issuer:    created.ClientID,
			Subject:   created.ClientID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		token.Header["kid"] = "assertion-key-1"
		assertion, err := token.SignedString(priv)
		require.NoError(t, err)
		return assertion
	}

	// The issuer configured for the container, the valid audience.
	tokenResp, err := client.JWTBearerGrant(t.Context(), "", signAssertion("authd-test"), []string{"read", "write"})
	require.NoError(t, err)
	require.NotEmpty(t, tokenResp.AccessToken)
	require.Empty(t, tokenResp.RefreshToken)

	introspection, err := client.IntrospectToken(t.Context(), clientID, clientSecret, tokenResp.AccessToken, "access_token")
	require.NoError(t, err)
	require.True(t, introspection.Active)
	require.Equal(t, created.ClientID, introspection.Sub)

	_, err = client.JWTBearerGrant(t.Context(), "", signAssertion("https://some-other-server"), nil)
	var oauthErr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, authsdk.ErrorCodeInvalidGrant, oauthErr.Code)
}
