package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/slogx"
)

const (
	// assertionClockSkew is the leeway applied to the assertion's time claims.
	assertionClockSkew = 300 * time.Second

	// assertionMaxLifetime caps exp minus iat. A long-lived assertion is as
	// dangerous as a leaked secret, so cap it regardless of what exp says.
	assertionMaxLifetime = 3600 * time.Second
)

// bearerAlgs is the asymmetric allow-list for assertion signatures.
// Symmetric algorithms are excluded: an HMAC assertion proves nothing the
// client_secret does not already prove, and accepting them invites
// key-confusion attacks against the registered JWKS.
var bearerAlgs = map[string]bool{
	"RS256": true,
	"ES256": true,
	"EdDSA": true,
}

type bearerAssertionClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// ExchangeJWTBearer implements the urn:ietf:params:oauth:grant-type:jwt-bearer
// grant (RFC 7521/7523). The assertion is a JWT signed with one of the keys
// registered on the client; its sub names the subject the token is issued
// for, either the client itself or an existing user.
func (s *TokenService) ExchangeJWTBearer(ctx context.Context, req TokenRequest) (*domain.TokenResponse, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	assertion := strings.TrimSpace(req.Assertion)
	if assertion == "" {
		return nil, fmt.Errorf("%w: assertion is required", ErrInvalidRequest)
	}

	// Unverified peek. The alg gate runs before any key material is
	// touched, and iss identifies the client when client_id was not sent.
	peeked := &bearerAssertionClaims{}
	peek, _, err := jwt.NewParser().ParseUnverified(assertion, peeked)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed assertion", ErrInvalidGrant)
	}
	if !bearerAlgs[peek.Method.Alg()] {
		return nil, fmt.Errorf("%w: assertion alg %q is not allowed", ErrInvalidGrant, peek.Method.Alg())
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = peeked.Issuer
	}
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id or assertion iss is required", ErrInvalidClient)
	}

	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if !client.IsActive {
		return nil, ErrInvalidClient
	}
	if !client.AllowsGrantType(domain.GrantJWTBearer) {
		return nil, fmt.Errorf("%w: client may not use %s", ErrUnauthorizedClient, domain.GrantJWTBearer)
	}
	if len(client.JWKS) == 0 {
		l.Info("jwt-bearer assertion from client without registered keys", slog.String("client_id", client.ID))
		return nil, fmt.Errorf("%w: client has no registered keys", ErrInvalidClient)
	}

	keySet, err := jwk.Parse(client.JWKS)
	if err != nil {
		return nil, fmt.Errorf("parsing registered jwks for client %s: %w", client.ID, err)
	}

	claims := &bearerAssertionClaims{}
	parser := jwt.NewParser(jwt.WithLeeway(assertionClockSkew))
	_, err = parser.ParseWithClaims(assertion, claims, func(t *jwt.Token) (any, error) {
		if !bearerAlgs[t.Method.Alg()] {
			return nil, fmt.Errorf("alg %q is not allowed", t.Method.Alg())
		}
		key, err := lookupAssertionKey(keySet, t)
		if err != nil {
			return nil, err
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("extracting registered key: %w", err)
		}
		return raw, nil
	})
	if err != nil {
		l.Info("assertion verification failed",
			slog.String("client_id", client.ID),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: assertion verification failed", ErrInvalidGrant)
	}

	if err := s.validateAssertionClaims(claims, client, now); err != nil {
		return nil, err
	}

	// sub equal to the client is the client acting for itself; anything
	// else must name an existing user the token is issued on behalf of.
	var subject *string
	var user *domain.User
	if claims.Subject != client.ID {
		u, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown assertion subject", ErrInvalidGrant)
			}
			return nil, err
		}
		subject = &u.ID
		user = &u
	}

	rawScope := req.Scope
	if strings.TrimSpace(rawScope) == "" {
		rawScope = claims.Scope
	}
	scopes, err := s.resolveScopes(ctx, rawScope, client, domain.GrantJWTBearer)
	if err != nil {
		return nil, err
	}

	jkt, err := s.proofThumbprint(ctx, req)
	if err != nil {
		return nil, err
	}

	// No refresh token: the client can always mint a fresh assertion.
	var result *domain.TokenResponse
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		issued, err := issueTokens(ctx, tx, s.Codec, s.RefreshTTL, issueParams{
			client:  client,
			userID:  subject,
			user:    user,
			scopes:  scopes,
			dpopJKT: jkt,
			now:     now,
		})
		if err != nil {
			return err
		}
		result = issued
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateAssertionClaims enforces the claim requirements of RFC 7523
// section 3 on an already signature-verified assertion.
func (s *TokenService) validateAssertionClaims(claims *bearerAssertionClaims, client domain.Client, now time.Time) error {
	if claims.Issuer == "" || claims.Subject == "" || len(claims.Audience) == 0 ||
		claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return fmt.Errorf("%w: assertion requires iss, sub, aud, exp and iat", ErrInvalidGrant)
	}

	if claims.Issuer != client.ID {
		return fmt.Errorf("%w: assertion iss does not match the client", ErrInvalidGrant)
	}

	tokenEndpoint := strings.TrimRight(s.Issuer, "/") + "/oauth/token"
	if !slices.Contains(claims.Audience, s.Issuer) && !slices.Contains(claims.Audience, tokenEndpoint) {
		return fmt.Errorf("%w: assertion aud does not include this server", ErrInvalidGrant)
	}

	iat := claims.IssuedAt.Time
	if iat.After(now.Add(assertionClockSkew)) {
		return fmt.Errorf("%w: assertion issued in the future", ErrInvalidGrant)
	}
	if claims.ExpiresAt.Time.Sub(iat) > assertionMaxLifetime {
		return fmt.Errorf("%w: assertion lifetime exceeds %s", ErrInvalidGrant, assertionMaxLifetime)
	}

	return nil
}

// lookupAssertionKey picks the verification key out of the client's
// registered set. A kid header selects directly; without one the set must
// contain exactly one key.
func lookupAssertionKey(keySet jwk.Set, t *jwt.Token) (jwk.Key, error) {
	if kid, _ := t.Header["kid"].(string); kid != "" {
		key, ok := keySet.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no registered key with kid %q", kid)
		}
		return key, nil
	}
	if keySet.Len() == 1 {
		key, _ := keySet.Key(0)
		return key, nil
	}
	return nil, errors.New("assertion has no kid and the client has multiple registered keys")
}
