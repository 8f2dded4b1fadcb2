package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/pkg/cryptox"
)

const testBootstrapToken = "bootstrap-me-once"

func bootstrapRequest() domain.BootstrapData {
	return domain.BootstrapData{
		AdminUsername:      "root",
		AdminPreferredName: "Root",
		AdminPassword:      testUserPassword,
		ClientName:         "admin-console",
		ClientRedirectURIs: []string{testRedirectURI},
	}
}

func TestBootstrapSeedsAdminAndClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &BootstrapService{Store: env.Store, Token: testBootstrapToken}

	bootstrapped, err := svc.IsBootstrapped(ctx)
	require.NoError(t, err)
	require.False(t, bootstrapped)

	userID, clientID, secret, err := svc.Bootstrap(ctx, testBootstrapToken, bootstrapRequest())
	require.NoError(t, err)
	require.NotEmpty(t, userID)
	require.NotEmpty(t, clientID)
	require.NotEmpty(t, secret)

	user, err := env.Store.Users().GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, userID, user.ID)
	require.NoError(t, cryptox.VerifySecret(testUserPassword, user.PasswordHash))

	client, err := env.Store.Clients().GetClientByID(ctx, clientID)
	require.NoError(t, err)
	require.True(t, client.Protected)
	require.True(t, client.IsActive)
	require.False(t, client.IsPublic())
	require.NoError(t, cryptox.VerifySecret(secret, *client.SecretHash))

	// The seeded client covers the interactive and machine grants but not
	// jwt-bearer, which needs registered keys nobody has yet.
	require.ElementsMatch(t, []string{
		domain.GrantAuthorizationCode,
		domain.GrantClientCredentials,
		domain.GrantRefreshToken,
		domain.GrantDeviceCode,
	}, client.AllowedGrantTypes)
	require.Contains(t, client.AllowedScopes, "admin")

	bootstrapped, err = svc.IsBootstrapped(ctx)
	require.NoError(t, err)
	require.True(t, bootstrapped)
}

func TestBootstrapRunsOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &BootstrapService{Store: env.Store, Token: testBootstrapToken}

	_, _, _, err := svc.Bootstrap(ctx, testBootstrapToken, bootstrapRequest())
	require.NoError(t, err)

	_, _, _, err = svc.Bootstrap(ctx, testBootstrapToken, bootstrapRequest())
	require.ErrorIs(t, err, ErrBootstrapAlready)
}

func TestBootstrapRequiresToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &BootstrapService{Store: env.Store, Token: testBootstrapToken}

	_, _, _, err := svc.Bootstrap(ctx, "wrong-token", bootstrapRequest())
	require.ErrorIs(t, err, ErrBootstrapUnauthorized)

	users, err := env.Store.Users().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, users)
}

func TestBootstrapRefusesWithoutConfiguredToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// An empty configured token means bootstrap is disabled outright, not
	// that empty input matches.
	svc := &BootstrapService{Store: env.Store}
	_, _, _, err := svc.Bootstrap(ctx, "", bootstrapRequest())
	require.ErrorIs(t, err, ErrBootstrapUnauthorized)
}
