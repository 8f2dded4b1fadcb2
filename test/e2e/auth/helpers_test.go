package auth_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/lockplane/authd/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for authorization server end-to-end
 * tests. This includes container setup, bootstrap, login flows, and shared
 * assertions.
 */

const (
	testImageName = "authd-test:latest"

	bootstrapToken     = "test-bootstrap-token-12345"
	adminUsername      = "admin"
	adminPreferredName = "Administrator"
	adminPassword      = "Admin123!"
	clientName         = "bootstrap-client"

	// Must be registered on the bootstrap client; redirect URI matching is
	// exact, no wildcards.
	testRedirectURI = "http://localhost/callback"
)

var (
	clientScopes = []string{"openid", "profile", "email", "offline_access", "read", "write", "admin"}
)

// TestMain manages the test lifecycle, builds the Docker image once before
// all tests and cleans it up after all tests complete.
func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building authorization server Docker image...")

	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up authorization server Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

// buildDockerImage builds the test Docker image if it doesn't exist.
func buildDockerImage() error {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/auth/Dockerfile",
		"../../../")
	cmd.Dir = "."
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil

	return cmd.Run()
}

// cleanupDockerImage removes the test Docker image.
func cleanupDockerImage() {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // Ignore errors - image might not exist
}

// baseContainerEnv is the environment shared by every container variant.
// Each call returns a fresh map so tests can overlay their own settings.
func baseContainerEnv() map[string]string {
	return map[string]string{
		"AUTHD_BOOTSTRAP_TOKEN": bootstrapToken,
		"AUTHD_DATABASE_FILE":   "/data/authd.db",
		"AUTHD_PEPPER_FILE":     "/data/pepper",
		"AUTHD_ISSUER":          "authd-test",
		"AUTHD_ALGORITHM":       "EdDSA", // fastest keygen for test startup
		"AUTHD_NUM_KEYS":        "1",
		"ENV":                   "test",
		"LOG_LEVEL":             "info",
		"LOG_FORMAT":            "json",
	}
}

// startContainer starts the authorization server with the given environment
// and returns the base URL plus a cleanup function.
func startContainer(t *testing.T, env map[string]string) (string, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env:          env,
		WaitingFor: wait.ForHTTP("/livez").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	baseURL := fmt.Sprintf("http://%s:%s", host, mappedPort.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return baseURL, cleanup
}

// setupAuthContainer starts the authorization server with RELAXED rate
// limits so rapid test traffic does not trip the production defaults.
func setupAuthContainer(t *testing.T) (string, func()) {
	t.Helper()

	env := baseContainerEnv()
	env["RATELIMIT_STRICT_REQUESTS"] = "1000"
	env["RATELIMIT_STRICT_WINDOW_SEC"] = "60"
	env["RATELIMIT_STRICT_BURST"] = "1000"
	env["RATELIMIT_MODERATE_REQUESTS"] = "1000"
	env["RATELIMIT_MODERATE_BURST"] = "1000"

	return startContainer(t, env)
}

// setupAuthContainerWithDefaultRateLimits starts the authorization server
// with DEFAULT rate limits. This is specifically for testing that rate
// limiting actually works; everything else should use setupAuthContainer().
func setupAuthContainerWithDefaultRateLimits(t *testing.T) (string, func()) {
	t.Helper()
	return startContainer(t, baseContainerEnv())
}

// assertTokenResponse verifies a token response has all required fields.
func assertTokenResponse(t *testing.T, resp *authsdk.TokenResponse) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.AccessToken, "Access token should not be empty")
	require.NotEmpty(t, resp.RefreshToken, "Refresh token should not be empty")
	require.Equal(t, "Bearer", resp.TokenType, "Token type should be Bearer")
	require.NotEmpty(t, resp.Scope, "Scope should not be empty")
}

// assertUnauthorized checks that an error indicates unauthorized access.
// This can be either a 401 HTTP status or a grant error.
func assertUnauthorized(t *testing.T, err error, context string) {
	t.Helper()
	require.Error(t, err, context)
	errMsg := err.Error()
	hasUnauthorized := strings.Contains(errMsg, "401") ||
		strings.Contains(errMsg, "invalid_grant") ||
		strings.Contains(errMsg, "invalid_client") ||
		strings.Contains(errMsg, "invalid_credentials")
	require.True(t, hasUnauthorized, "%s - error should indicate unauthorized access, got: %s", context, errMsg)
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *authsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}

// assertScopeNotGranted verifies that a token does not contain specific scopes.
func assertScopeNotGranted(t *testing.T, tokenScope string, deniedScopes ...string) {
	t.Helper()
	for _, scope := range deniedScopes {
		require.NotContains(t, strings.Fields(tokenScope), scope, "Should not receive %s scope", scope)
	}
}

// assertCannotAccessEndpoint verifies that an error indicates forbidden access (403 or scope error).
func assertCannotAccessEndpoint(t *testing.T, err error, context string) {
	t.Helper()
	require.Error(t, err, context)
	errMsg := err.Error()
	// Accept either server-side 403 error or client-side scope validation error
	hasForbidden := strings.Contains(errMsg, "403") ||
		strings.Contains(errMsg, "insufficient_scope") ||
		strings.Contains(errMsg, "missing required scope")
	require.True(t, hasForbidden, "Error should indicate forbidden access (403) or missing scopes, got: %s", errMsg)
}

// bootstrapService bootstraps the authorization server with an admin user
// and a confidential client. Returns the client ID, client secret, and
// admin user ID.
func bootstrapService(t *testing.T, client *authsdk.SDKClient) (clientID, clientSecret, adminUserID string) {
	t.Helper()
	ctx := context.Background()

	bootstrapReq := authsdk.BootstrapRequest{
		AdminUsername:      adminUsername,
		AdminPreferredName: adminPreferredName,
		AdminPassword:      adminPassword,
		ClientName:         clientName,
		ClientRedirectURIs: []string{testRedirectURI},
		ClientScopes:       clientScopes,
	}

	bootstrapResp, err := client.Bootstrap(ctx, bootstrapToken, bootstrapReq)
	require.NoError(t, err, "Bootstrap should succeed")
	require.NotEmpty(t, bootstrapResp.ClientID, "Client ID should not be empty")
	require.NotEmpty(t, bootstrapResp.ClientSecret, "Client secret should not be empty")
	require.NotEmpty(t, bootstrapResp.AdminUserID, "Admin user ID should not be empty")

	return bootstrapResp.ClientID, bootstrapResp.ClientSecret, bootstrapResp.AdminUserID
}

// performLogin authenticates a user with the authorization code flow and
// returns an authenticated session with the full bootstrap scope set.
func performLogin(t *testing.T, client *authsdk.SDKClient, clientID, clientSecret, username, password string) *authsdk.Session {
	t.Helper()
	ctx := context.Background()

	session, err := client.AuthorizeAndExchange(ctx, clientID, clientSecret, testRedirectURI, username, password, clientScopes)
	require.NoError(t, err, "Login should succeed")
	require.NotNil(t, session, "Session should not be nil")

	return session
}
