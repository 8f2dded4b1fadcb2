package auth_test

import (
	"errors"
	"testing"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRateLimitTokenEndpoint verifies the strict per-IP limit on the token
// endpoint: the default budget is 5 requests per minute, so a burst of
// requests must start drawing 429s.
//
// This test deliberately runs with PRODUCTION rate limits.
func TestRateLimitTokenEndpoint(t *testing.T) {
	baseURL, cleanup := setupAuthContainerWithDefaultRateLimits(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	var limited bool
	for i := 0; i < 10; i++ {
		_, err := client.ClientCredentialsGrant(t.Context(), clientID, clientSecret, []string{"read"})

		var oauthErr *authsdk.OAuth2Error
		if errors.As(err, &oauthErr) && oauthErr.StatusCode == 429 {
			limited = true
			require.Equal(t, "rate_limit_exceeded", oauthErr.Code)
			t.Logf("Request %d rate limited", i+1)
			break
		}
	}
	require.True(t, limited, "A 10-request burst should exceed the 5/min strict limit")
}

// TestRateLimitAuthorizeEndpoint verifies brute force protection on the
// authorize endpoint, which keys on IP plus the username form field.
func TestRateLimitAuthorizeEndpoint(t *testing.T) {
	baseURL, cleanup := setupAuthContainerWithDefaultRateLimits(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, _, _ := bootstrapService(t, client)

	pkce, err := authsdk.GeneratePKCEChallenge()
	require.NoError(t, err)

	var limited bool
	for i := 0; i < 10; i++ {
		_, err := client.AuthorizeWithPassword(t.Context(), clientID, testRedirectURI,
			adminUsername, "Wrong-Password-1!", []string{"read"}, pkce)

		var oauthErr *authsdk.OAuth2Error
		if errors.As(err, &oauthErr) && oauthErr.StatusCode == 429 {
			limited = true
			t.Logf("Login attempt %d rate limited", i+1)
			break
		}
	}
	require.True(t, limited, "Repeated failed logins should trip the strict limit")
}

// TestRelaxedRateLimitsDoNotTrip verifies the loosened test limits let a
// rapid burst through, which every other test in this suite relies on.
func TestRelaxedRateLimitsDoNotTrip(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)
	clientID, clientSecret, _ := bootstrapService(t, client)

	for i := 0; i < 20; i++ {
		_, err := client.ClientCredentialsGrant(t.Context(), clientID, clientSecret, []string{"read"})
		require.NoError(t, err, "request %d should not be rate limited", i+1)
	}
}
