package auth_test

import (
	"testing"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestUserInfo verifies the UserInfo endpoint releases claims by scope:
// sub always, the profile family only with the profile scope.
func TestUserInfo(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, adminUserID := bootstrapService(t, client)

	session := performLogin(t, client, clientID, clientSecret, adminUsername, adminPassword)

	info, err := session.GetUserInfo(t.Context())
	require.NoError(t, err)
	require.Equal(t, adminUserID, info.Sub)
	require.Equal(t, adminPreferredName, info.Name)
	require.Equal(t, adminUsername, info.PreferredUsername)

	t.Logf("UserInfo: sub=%s name=%s", info.Sub, info.Name)
}

// TestUserInfoScopeGating verifies a token without the profile scope gets
// sub only, and a token without openid gets nothing at all.
func TestUserInfoScopeGating(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, adminUserID := bootstrapService(t, client)

	// openid only: sub comes back, the profile claims stay withheld
	minimal, err := client.AuthorizeAndExchange(t.Context(), clientID, clientSecret,
		testRedirectURI, adminUsername, adminPassword, []string{"openid"})
	require.NoError(t, err)

	info, err := minimal.GetUserInfo(t.Context())
	require.NoError(t, err)
	require.Equal(t, adminUserID, info.Sub)
	require.Empty(t, info.Name, "profile claims need the profile scope")
	require.Empty(t, info.PreferredUsername, "profile claims need the profile scope")
	require.Empty(t, info.Email, "email claims need the email scope")

	// No openid at all: the endpoint is off limits
	noOpenID, err := client.AuthorizeAndExchange(t.Context(), clientID, clientSecret,
		testRedirectURI, adminUsername, adminPassword, []string{"read"})
	require.NoError(t, err)

	_, err = noOpenID.GetUserInfo(t.Context())
	assertCannotAccessEndpoint(t, err, "UserInfo without openid scope")

	t.Logf("UserInfo scope gating enforced")
}
