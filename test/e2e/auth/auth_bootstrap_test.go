package auth_test

import (
	"testing"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestBootstrapSuccess verifies successful bootstrap creates admin user and client.
func TestBootstrapSuccess(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	clientID, _, adminUserID := bootstrapService(t, client)

	t.Logf("Bootstrap successful")
	t.Logf("Admin User ID: %s", adminUserID)
	t.Logf("Client ID: %s", clientID)
}

// TestBootstrapIdempotency verifies that bootstrap can only be called once.
func TestBootstrapIdempotency(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	// First bootstrap should succeed
	clientID, _, adminUserID := bootstrapService(t, client)

	t.Logf("First bootstrap successful")
	t.Logf("Admin User ID: %s", adminUserID)
	t.Logf("Client ID: %s", clientID)

	// Second bootstrap should fail even with the correct token
	_, err := client.Bootstrap(t.Context(), bootstrapToken, authsdk.BootstrapRequest{
		AdminUsername:      "another-admin",
		AdminPreferredName: "Another Admin",
		AdminPassword:      "AnotherPassword123!",
		ClientName:         "another-client",
		ClientScopes:       []string{"read"},
	})

	assertUnauthorized(t, err, "Second bootstrap should be rejected")

	t.Logf("Second bootstrap correctly rejected")
}

// TestBootstrapWrongToken verifies the bootstrap token is actually checked.
func TestBootstrapWrongToken(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewSDKClient(baseURL)

	_, err := client.Bootstrap(t.Context(), "not-the-token", authsdk.BootstrapRequest{
		AdminUsername:      adminUsername,
		AdminPreferredName: adminPreferredName,
		AdminPassword:      adminPassword,
		ClientName:         clientName,
	})
	assertUnauthorized(t, err, "Bootstrap with wrong token should be rejected")

	// A failed attempt must not consume the bootstrap; the real token still works
	clientID, _, _ := bootstrapService(t, client)
	require.NotEmpty(t, clientID)

	t.Logf("Wrong bootstrap token correctly rejected, correct token still accepted")
}

// TestBootstrapRequestValidation exercises the client-side request validation.
func TestBootstrapRequestValidation(t *testing.T) {
	req := authsdk.BootstrapRequest{
		AdminUsername:      "x", // too short
		AdminPreferredName: adminPreferredName,
		AdminPassword:      "short", // too short
		ClientName:         clientName,
		ClientRedirectURIs: []string{"not-a-url"},
		ClientScopes:       []string{"UPPERCASE"},
	}

	errs := req.Validate()
	require.Contains(t, errs, "admin_username")
	require.Contains(t, errs, "admin_password")
	require.Contains(t, errs, "client_redirect_uris")
	require.Contains(t, errs, "client_scopes")

	valid := authsdk.BootstrapRequest{
		AdminUsername:      adminUsername,
		AdminPreferredName: adminPreferredName,
		AdminPassword:      adminPassword,
		ClientName:         clientName,
		ClientRedirectURIs: []string{testRedirectURI},
		ClientScopes:       clientScopes,
	}
	require.Empty(t, valid.Validate())
}
