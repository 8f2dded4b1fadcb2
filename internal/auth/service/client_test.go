package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/idx"
)

func TestCreateConfidentialClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &ClientService{Store: env.Store}

	client, secret, err := svc.CreateClient(ctx, CreateClientParams{
		Name:              "billing-batch",
		Confidential:      true,
		AllowedScopes:     []string{"read", "write"},
		AllowedGrantTypes: []string{domain.GrantClientCredentials},
	})
	require.NoError(t, err)
	require.NotEmpty(t, client.ID)
	require.NotEmpty(t, secret)
	require.True(t, client.IsActive)
	require.False(t, client.IsPublic())

	// The plaintext secret exists only in this response; the store holds
	// a hash that verifies it.
	stored, err := env.Store.Clients().GetClientByID(ctx, client.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SecretHash)
	require.NotEqual(t, secret, *stored.SecretHash)
	require.NoError(t, cryptox.VerifySecret(secret, *stored.SecretHash))
}

func TestCreatePublicClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &ClientService{Store: env.Store}

	client, secret, err := svc.CreateClient(ctx, CreateClientParams{
		Name:              "mobile-app",
		RedirectURIs:      []string{testRedirectURI},
		AllowedScopes:     []string{"openid", "read"},
		AllowedGrantTypes: []string{domain.GrantAuthorizationCode, domain.GrantRefreshToken},
	})
	require.NoError(t, err)
	require.Empty(t, secret)
	require.True(t, client.IsPublic())

	stored, err := env.Store.Clients().GetClientByID(ctx, client.ID)
	require.NoError(t, err)
	require.Nil(t, stored.SecretHash)
}

func TestCreateClientValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &ClientService{Store: env.Store}

	cases := map[string]CreateClientParams{
		"missing name": {
			AllowedGrantTypes: []string{domain.GrantClientCredentials},
			Confidential:      true,
		},
		"no grant types": {
			Name: "empty",
		},
		"unknown grant type": {
			Name:              "bad-grant",
			AllowedGrantTypes: []string{"password"},
		},
		"authorization_code without redirects": {
			Name:              "no-redirects",
			AllowedGrantTypes: []string{domain.GrantAuthorizationCode},
		},
		"relative redirect uri": {
			Name:              "bad-redirect",
			RedirectURIs:      []string{"/callback"},
			AllowedGrantTypes: []string{domain.GrantAuthorizationCode},
		},
		"public client with client_credentials": {
			Name:              "machine-no-secret",
			AllowedGrantTypes: []string{domain.GrantClientCredentials},
		},
		"jwt-bearer without jwks": {
			Name:              "bearer-no-keys",
			Confidential:      true,
			AllowedGrantTypes: []string{domain.GrantJWTBearer},
		},
	}

	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.CreateClient(ctx, params)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestClientLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &ClientService{Store: env.Store}

	client, _, err := svc.CreateClient(ctx, CreateClientParams{
		Name:              "short-lived",
		Confidential:      true,
		AllowedGrantTypes: []string{domain.GrantClientCredentials},
	})
	require.NoError(t, err)

	got, err := svc.GetClient(ctx, client.ID)
	require.NoError(t, err)
	require.Equal(t, client.ID, got.ID)

	list, err := svc.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.SetClientActive(ctx, client.ID, false))
	got, err = svc.GetClient(ctx, client.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	require.NoError(t, svc.DeleteClient(ctx, client.ID))
	_, err = svc.GetClient(ctx, client.ID)
	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestClientOperationsOnUnknownID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &ClientService{Store: env.Store}

	_, err := svc.GetClient(ctx, "missing")
	require.ErrorIs(t, err, ErrClientNotFound)
	require.ErrorIs(t, svc.SetClientActive(ctx, "missing", true), ErrClientNotFound)
	require.ErrorIs(t, svc.DeleteClient(ctx, "missing"), ErrClientNotFound)
}

func TestDeleteProtectedClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	svc := &ClientService{Store: env.Store}

	protected := domain.Client{
		ID:                idx.New().String(),
		Name:              "admin-console",
		AllowedScopes:     []string{"admin"},
		AllowedGrantTypes: []string{domain.GrantAuthorizationCode},
		RedirectURIs:      []string{testRedirectURI},
		IsActive:          true,
		Protected:         true,
	}
	require.NoError(t, env.Store.Clients().CreateClient(ctx, protected))

	require.ErrorIs(t, svc.DeleteClient(ctx, protected.ID), ErrClientProtected)

	_, err := env.Store.Clients().GetClientByID(ctx, protected.ID)
	require.NoError(t, err)
}
