package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/idx"
	"github.com/lockplane/authd/pkg/slogx"
)

var (
	ErrClientNotFound  = errors.New("client not found")
	ErrClientProtected = errors.New("client is protected and cannot be deleted")
)

// knownGrantTypes is everything the token endpoint can dispatch on.
var knownGrantTypes = []string{
	domain.GrantAuthorizationCode,
	domain.GrantClientCredentials,
	domain.GrantRefreshToken,
	domain.GrantDeviceCode,
	domain.GrantJWTBearer,
}

// ClientService covers client administration. Grant processing never goes
// through here; it reads clients straight from the store.
type ClientService struct {
	Store store.Store
}

// CreateClientParams describes a client registration.
type CreateClientParams struct {
	Name              string
	Confidential      bool
	RedirectURIs      []string
	AllowedScopes     []string
	AllowedGrantTypes []string

	// JWKS registers public keys for the jwt-bearer grant.
	JWKS json.RawMessage
}

// CreateClient registers a client. Confidential clients get a generated
// secret returned exactly once; only its hash is stored.
func (s *ClientService) CreateClient(ctx context.Context, p CreateClientParams) (domain.Client, string, error) {
	l := slogx.FromContext(ctx)

	if p.Name == "" {
		return domain.Client{}, "", fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if len(p.AllowedGrantTypes) == 0 {
		return domain.Client{}, "", fmt.Errorf("%w: at least one grant type is required", ErrInvalidRequest)
	}
	for _, g := range p.AllowedGrantTypes {
		if !slices.Contains(knownGrantTypes, g) {
			return domain.Client{}, "", fmt.Errorf("%w: unknown grant type %q", ErrInvalidRequest, g)
		}
	}
	if slices.Contains(p.AllowedGrantTypes, domain.GrantAuthorizationCode) && len(p.RedirectURIs) == 0 {
		return domain.Client{}, "", fmt.Errorf("%w: the authorization_code grant needs redirect_uris", ErrInvalidRequest)
	}
	for _, u := range p.RedirectURIs {
		parsed, err := url.Parse(u)
		if err != nil || !parsed.IsAbs() {
			return domain.Client{}, "", fmt.Errorf("%w: redirect_uri %q must be absolute", ErrInvalidRequest, u)
		}
	}
	if !p.Confidential && slices.Contains(p.AllowedGrantTypes, domain.GrantClientCredentials) {
		return domain.Client{}, "", fmt.Errorf("%w: client_credentials requires a confidential client", ErrInvalidRequest)
	}
	if slices.Contains(p.AllowedGrantTypes, domain.GrantJWTBearer) && len(p.JWKS) == 0 {
		return domain.Client{}, "", fmt.Errorf("%w: the jwt-bearer grant needs a registered jwks", ErrInvalidRequest)
	}

	var plaintext string
	var secretHash *string
	if p.Confidential {
		secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return domain.Client{}, "", err
		}
		hash, err := cryptox.HashSecret(secret)
		if err != nil {
			return domain.Client{}, "", err
		}
		plaintext = secret
		secretHash = &hash
	}

	client := domain.Client{
		ID:                idx.New().String(),
		Name:              p.Name,
		SecretHash:        secretHash,
		RedirectURIs:      p.RedirectURIs,
		AllowedScopes:     p.AllowedScopes,
		AllowedGrantTypes: p.AllowedGrantTypes,
		JWKS:              p.JWKS,
		IsActive:          true,
	}
	if err := s.Store.Clients().CreateClient(ctx, client); err != nil {
		return domain.Client{}, "", err
	}

	l.Info("client created",
		slog.String("client_id", client.ID),
		slog.String("name", client.Name),
		slog.Bool("confidential", p.Confidential))
	return client, plaintext, nil
}

// GetClient fetches one client.
func (s *ClientService) GetClient(ctx context.Context, clientID string) (domain.Client, error) {
	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrClientNotFound
		}
		return domain.Client{}, err
	}
	return client, nil
}

// ListClients returns every registered client, newest first.
func (s *ClientService) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.Store.Clients().ListClients(ctx)
}

// SetClientActive flips the revocation switch. Inactive clients fail every
// grant with invalid_client until switched back.
func (s *ClientService) SetClientActive(ctx context.Context, clientID string, active bool) error {
	l := slogx.FromContext(ctx)

	if err := s.Store.Clients().SetClientActive(ctx, clientID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrClientNotFound
		}
		return err
	}
	l.Info("client active flag changed",
		slog.String("client_id", clientID),
		slog.Bool("active", active))
	return nil
}

// DeleteClient removes a client. The bootstrap client is protected and
// survives deletion attempts.
func (s *ClientService) DeleteClient(ctx context.Context, clientID string) error {
	l := slogx.FromContext(ctx)

	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrClientNotFound
		}
		return err
	}
	if client.Protected {
		l.Warn("attempted to delete protected client", slog.String("client_id", clientID))
		return ErrClientProtected
	}

	if err := s.Store.Clients().DeleteClient(ctx, clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrClientNotFound
		}
		return err
	}
	l.Info("client deleted", slog.String("client_id", clientID))
	return nil
}
