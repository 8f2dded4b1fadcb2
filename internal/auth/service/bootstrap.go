package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/idx"
	"github.com/lockplane/authd/pkg/slogx"
)

var (
	ErrBootstrapAlready      = errors.New("system already bootstrapped")
	ErrBootstrapUnauthorized = errors.New("unauthorized bootstrap attempt")
)

// BootstrapService seeds an empty deployment with its first admin user and
// a protected confidential client. It runs exactly once; afterwards the
// endpoint reports the system as bootstrapped and refuses to run again.
type BootstrapService struct {
	Store store.Store
	Token string // pre-configured bootstrap token
}

func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	usersEmpty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	clientsEmpty, err := s.Store.Clients().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !usersEmpty && !clientsEmpty, nil
}

// Bootstrap creates the admin user and the bootstrap client in one
// transaction and returns (adminUserID, clientID, clientSecret). The secret
// is shown exactly once.
func (s *BootstrapService) Bootstrap(
	ctx context.Context,
	token string,
	req domain.BootstrapData,
) (string, string, string, error) {
	l := slogx.FromContext(ctx)

	if bootstrapped, err := s.IsBootstrapped(ctx); err != nil {
		return "", "", "", err
	} else if bootstrapped {
		l.Warn("attempted bootstrap on already-bootstrapped system")
		return "", "", "", ErrBootstrapAlready
	}

	if s.Token == "" || token != s.Token {
		l.Warn("unauthorized bootstrap attempt")
		return "", "", "", ErrBootstrapUnauthorized
	}

	passHash, err := cryptox.HashSecret(req.AdminPassword)
	if err != nil {
		return "", "", "", err
	}

	clientSecret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", "", "", err
	}
	clientSecretHash, err := cryptox.HashSecret(clientSecret)
	if err != nil {
		return "", "", "", err
	}

	scopes := req.ClientScopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email", "offline_access", "read", "write", "admin"}
	}

	adminUserID := idx.New().String()
	clientID := idx.New().String()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, domain.User{
			ID:            adminUserID,
			Username:      req.AdminUsername,
			PreferredName: req.AdminPreferredName,
			PasswordHash:  passHash,
		}); err != nil {
			return err
		}

		return tx.Clients().CreateClient(ctx, domain.Client{
			ID:            clientID,
			Name:          req.ClientName,
			SecretHash:    &clientSecretHash,
			RedirectURIs:  req.ClientRedirectURIs,
			AllowedScopes: scopes,
			AllowedGrantTypes: []string{
				domain.GrantAuthorizationCode,
				domain.GrantClientCredentials,
				domain.GrantRefreshToken,
				domain.GrantDeviceCode,
			},
			IsActive:  true,
			Protected: true,
		})
	})
	if err != nil {
		return "", "", "", err
	}

	l.Info("system bootstrapped",
		slog.String("admin_user_id", adminUserID),
		slog.String("client_id", clientID))
	return adminUserID, clientID, clientSecret, nil
}
