package auth_test

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestAuthorizationCodeFlow runs the full authorization code + PKCE flow:
// authenticate the resource owner, capture the code from the redirect, and
// exchange it for tokens.
func TestAuthorizationCodeFlow(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	code, err := client.AuthorizeWithPassword(t.Context(), clientID, testRedirectURI,
		adminUsername, adminPassword, clientScopes, pkce)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	tokenResp, err := client.ExchangeAuthorizationCode(t.Context(), clientID, clientSecret,
		code, testRedirectURI, pkce.Verifier)
	require.NoError(t, err)
	assertTokenResponse(t, tokenResp)
	require.NotEmpty(t, tokenResp.IDToken, "openid scope should produce an ID token")

	t.Logf("Authorization code flow successful, scope: %s", tokenResp.Scope)
}

// TestAuthorizationCodeWrongVerifier verifies PKCE is enforced: a verifier
// that does not hash to the challenge must not redeem the code.
func TestAuthorizationCodeWrongVerifier(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	code, err := client.AuthorizeWithPassword(t.Context(), clientID, testRedirectURI,
		adminUsername, adminPassword, []string{"read"}, pkce)
	require.NoError(t, err)

	other, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	_, err = client.ExchangeAuthorizationCode(t.Context(), clientID, clientSecret,
		code, testRedirectURI, other.Verifier)
	require.Error(t, err)

	var oauthErr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, authsdk.ErrorCodeInvalidGrant, oauthErr.Code)

	t.Logf("Wrong PKCE verifier correctly rejected")
}

// TestAuthorizationCodeReplay verifies a code is single-use: redeeming it a
// second time fails and must not produce another token set.
func TestAuthorizationCodeReplay(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	code, err := client.AuthorizeWithPassword(t.Context(), clientID, testRedirectURI,
		adminUsername, adminPassword, []string{"read"}, pkce)
	require.NoError(t, err)

	first, err := client.ExchangeAuthorizationCode(t.Context(), clientID, clientSecret,
		code, testRedirectURI, pkce.Verifier)
	require.NoError(t, err)
	require.NotEmpty(t, first.AccessToken)

	_, err = client.ExchangeAuthorizationCode(t.Context(), clientID, clientSecret,
		code, testRedirectURI, pkce.Verifier)
	require.Error(t, err)

	var oauthErr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, authsdk.ErrorCodeInvalidGrant, oauthErr.Code)

	t.Logf("Authorization code replay correctly rejected")
}

// TestAuthorizeStateRoundtrip verifies the state parameter is echoed back
// on the success redirect, untouched.
func TestAuthorizeStateRoundtrip(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, _, _ := bootstrapService(t, client)

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	form := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"read"},
		"state":                 {"state-abc-123"},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {pkce.Method},
		"username":              {adminUsername},
		"password":              {adminPassword},
	}

	httpClient := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := httpClient.PostForm(baseURL+"/oauth/authorize", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc.String(), testRedirectURI))
	require.NotEmpty(t, loc.Query().Get("code"))
	require.Equal(t, "state-abc-123", loc.Query().Get("state"))

	t.Logf("State echoed back on redirect: %s", loc.Query().Get("state"))
}

// TestAuthorizeWrongPassword verifies bad credentials never produce a code.
func TestAuthorizeWrongPassword(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, _, _ := bootstrapService(t, client)

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	_, err = client.AuthorizeWithPassword(t.Context(), clientID, testRedirectURI,
		adminUsername, "Wrong-Password-1!", []string{"read"}, pkce)
	assertUnauthorized(t, err, "Wrong password should be rejected")
}

// TestAuthorizeScopeWidening verifies a request for scopes outside the
// client's grant does not widen the issued authorization.
func TestAuthorizeScopeWidening(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	// payments is a registered scope the bootstrap client is not allowed;
	// it gets filtered from the grant rather than silently issued
	code, err := client.AuthorizeWithPassword(t.Context(), clientID, testRedirectURI,
		adminUsername, adminPassword, []string{"read", "payments"}, pkce)
	require.NoError(t, err)

	tokenResp, err := client.ExchangeAuthorizationCode(t.Context(), clientID, clientSecret,
		code, testRedirectURI, pkce.Verifier)
	require.NoError(t, err)
	require.Contains(t, tokenResp.Scope, "read")
	assertScopeNotGranted(t, tokenResp.Scope, "payments")

	t.Logf("Issued scope stayed narrowed: %s", tokenResp.Scope)
}
