package auth_test

import (
	"testing"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestAuthorizeContext verifies GET /oauth/authorize returns the context a
// login or consent page needs: the client's name and the effective scopes.
func TestAuthorizeContext(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, _, _ := bootstrapService(t, client)

	authCtx, err := client.GetAuthorizeContext(t.Context(), clientID, testRedirectURI,
		"csrf-state", []string{"openid", "read"}, nil)
	require.NoError(t, err)
	require.NotNil(t, authCtx)
	require.Equal(t, clientID, authCtx.ClientID)
	require.Equal(t, clientName, authCtx.ClientName)
	require.Equal(t, testRedirectURI, authCtx.RedirectURI)
	require.ElementsMatch(t, []string{"openid", "read"}, authCtx.Scopes)
	require.Equal(t, "csrf-state", authCtx.State)

	t.Logf("Authorize context: client=%s scopes=%v", authCtx.ClientName, authCtx.Scopes)
}

// TestAuthorizeContextUnknownClient verifies that an unknown client_id is a
// JSON error, never a redirect.
func TestAuthorizeContextUnknownClient(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	bootstrapService(t, client)

	_, err := client.GetAuthorizeContext(t.Context(), "no-such-client", testRedirectURI,
		"", []string{"read"}, nil)
	require.Error(t, err)

	var oauthErr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, authsdk.ErrorCodeInvalidClient, oauthErr.Code)
}

// TestAuthorizeContextUnregisteredRedirect verifies the redirect_uri must
// exactly match a registered one before anything else proceeds.
func TestAuthorizeContextUnregisteredRedirect(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, _, _ := bootstrapService(t, client)

	_, err := client.GetAuthorizeContext(t.Context(), clientID, "http://evil.example/steal",
		"", []string{"read"}, nil)
	require.Error(t, err)

	var oauthErr *authsdk.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, authsdk.ErrorCodeInvalidRequest, oauthErr.Code)
}
