package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lockplane/authd/internal/auth/codec"
	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/dpopx"
	"github.com/lockplane/authd/pkg/jwtx"
	"github.com/lockplane/authd/pkg/slogx"
)

// Token type hints from RFC 7662 section 2.1 / RFC 7009 section 2.1. Hints
// are advisory: when the hinted lookup misses, the search widens to every
// token kind before giving up.
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// IntrospectionService answers RFC 7662 introspection and RFC 7009
// revocation. Both deliberately leak nothing: introspection answers
// {"active": false} for unknown, expired and revoked tokens alike, and
// revocation reports success no matter what it was handed.
type IntrospectionService struct {
	Store store.Store
	Codec *codec.Codec
}

// IntrospectionResponse is the RFC 7662 section 2.2 response body. For an
// inactive token every field but Active is zero, so the wire shape collapses
// to exactly {"active":false}.
type IntrospectionResponse struct {
	Active               bool               `json:"active"`
	Scope                string             `json:"scope,omitempty"`
	ClientID             string             `json:"client_id,omitempty"`
	Subject              string             `json:"sub,omitempty"`
	TokenType            string             `json:"token_type,omitempty"`
	ExpiresAt            int64              `json:"exp,omitempty"`
	IssuedAt             int64              `json:"iat,omitempty"`
	TokenID              string             `json:"jti,omitempty"`
	Issuer               string             `json:"iss,omitempty"`
	Confirmation         *jwtx.Confirmation `json:"cnf,omitempty"`
	AuthorizationDetails json.RawMessage    `json:"authorization_details,omitempty"`
}

// AuthenticateCaller checks the credentials both endpoints demand before
// they answer anything. Unlike the token endpoint there is no grant-type
// gate: any active client may ask about tokens. Public clients authenticate
// with client_id alone.
func (s *IntrospectionService) AuthenticateCaller(ctx context.Context, clientID, clientSecret string) (domain.Client, error) {
	l := slogx.FromContext(ctx)

	if clientID == "" {
		return domain.Client{}, ErrInvalidClient
	}

	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrInvalidClient
		}
		return domain.Client{}, err
	}
	if !client.IsActive {
		l.Info("inactive client called introspection", slog.String("client_id", clientID))
		return domain.Client{}, ErrInvalidClient
	}
	if !client.IsPublic() {
		if clientSecret == "" || cryptox.VerifySecret(clientSecret, *client.SecretHash) != nil {
			l.Info("introspection client authentication failed", slog.String("client_id", clientID))
			return domain.Client{}, ErrInvalidClient
		}
	}

	return client, nil
}

// Introspect reports the state of a token. The error return is for
// infrastructure failures only; every token-shaped failure is an inactive
// answer, never an error, so callers cannot probe for why a token is dead.
func (s *IntrospectionService) Introspect(ctx context.Context, token, hint string) (*IntrospectionResponse, error) {
	inactive := &IntrospectionResponse{Active: false}

	token = strings.TrimSpace(token)
	if token == "" {
		return inactive, nil
	}

	if hint == HintRefreshToken {
		if resp, err := s.introspectRefresh(ctx, token); err != nil {
			return nil, err
		} else if resp != nil {
			return resp, nil
		}
	}

	claims, record, err := s.Codec.Verify(ctx, token)
	switch {
	case err == nil:
		resp := &IntrospectionResponse{
			Active:               true,
			Scope:                strings.Join(record.Scopes, " "),
			ClientID:             record.ClientID,
			Subject:              claims.Subject,
			TokenType:            "Bearer",
			ExpiresAt:            record.ExpiresAt.Unix(),
			IssuedAt:             record.CreatedAt.Unix(),
			TokenID:              record.ID,
			Issuer:               claims.Issuer,
			AuthorizationDetails: record.AuthorizationDetails,
		}
		if record.DPoPJKT != nil && *record.DPoPJKT != "" {
			resp.TokenType = dpopx.TokenType
			resp.Confirmation = &jwtx.Confirmation{JKT: *record.DPoPJKT}
		}
		return resp, nil
	case isVerificationFailure(err):
		// Not a live access token. Fall through to the refresh lookup
		// unless the hint already ran it.
	default:
		return nil, err
	}

	if hint != HintRefreshToken {
		if resp, err := s.introspectRefresh(ctx, token); err != nil {
			return nil, err
		} else if resp != nil {
			return resp, nil
		}
	}

	return inactive, nil
}

// introspectRefresh answers for opaque refresh tokens. Returns nil when the
// token is not a live refresh token so the caller can keep searching.
func (s *IntrospectionService) introspectRefresh(ctx context.Context, token string) (*IntrospectionResponse, error) {
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByFingerprint(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !rt.IsActive(time.Now()) {
		return nil, nil
	}

	subject := rt.ClientID
	if rt.UserID != nil {
		subject = *rt.UserID
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(rt.Scopes, " "),
		ClientID:  rt.ClientID,
		Subject:   subject,
		TokenType: HintRefreshToken,
		ExpiresAt: rt.ExpiresAt.Unix(),
		IssuedAt:  rt.CreatedAt.Unix(),
		TokenID:   rt.ID,
	}, nil
}

// Revoke invalidates a token and its linked counterpart (RFC 7009). The nil
// return for unknown or already-dead tokens is required: a revocation
// endpoint that errored on unknown tokens would double as a token oracle.
func (s *IntrospectionService) Revoke(ctx context.Context, token, hint string) error {
	l := slogx.FromContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	// Access token path. A verified token revokes its record and every
	// refresh token issued alongside it.
	_, record, err := s.Codec.Verify(ctx, token)
	switch {
	case err == nil:
		err := s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.AccessTokens().RevokeAccessToken(ctx, record.ID); err != nil {
				return err
			}
			return tx.RefreshTokens().RevokeRefreshTokensByAccessTokenID(ctx, record.ID)
		})
		if err != nil {
			return err
		}
		l.Info("access token revoked", slog.String("token_id", record.ID))
		return nil
	case isVerificationFailure(err):
	default:
		return err
	}

	// Refresh token path: revoke the row and the access token it was
	// issued with.
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByFingerprint(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, rt.ID); err != nil {
			return err
		}
		return tx.AccessTokens().RevokeAccessToken(ctx, rt.AccessTokenID)
	})
	if err != nil {
		return err
	}
	l.Info("refresh token revoked", slog.String("token_id", rt.ID))
	return nil
}

// isVerificationFailure separates "this token is dead or garbage" from real
// infrastructure errors. Only the former may collapse into an inactive or
// silently-successful answer.
func isVerificationFailure(err error) bool {
	return errors.Is(err, codec.ErrMalformed) ||
		errors.Is(err, codec.ErrBadSignature) ||
		errors.Is(err, codec.ErrExpired) ||
		errors.Is(err, codec.ErrClaims) ||
		errors.Is(err, codec.ErrTokenInactive)
}
