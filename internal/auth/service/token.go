package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/lockplane/authd/internal/auth/codec"
	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/dpopx"
	"github.com/lockplane/authd/pkg/idx"
	"github.com/lockplane/authd/pkg/jwtx"
	"github.com/lockplane/authd/pkg/slogx"
)

// TokenService is the grant engine behind /oauth/token. Exchange dispatches
// on grant_type; each grant also has an exported method so tests can drive
// one path directly.
type TokenService struct {
	Store  store.Store
	Codec  *codec.Codec
	Scopes *ScopeService
	Device *DeviceService
	DPoP   *DPoPService

	Issuer     string
	RefreshTTL time.Duration
}

// TokenRequest is the parsed form body of a token-endpoint request, plus
// the DPoP header and enough of the HTTP request to validate it.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// device_code
	DeviceCode string

	// jwt-bearer
	Assertion string

	// Scope is the raw space-delimited scope parameter.
	Scope string

	// DPoP proof header and the request line it must match.
	DPoPProof  string
	HTTPMethod string
	HTTPURI    string
}

// Exchange runs one token-endpoint request to completion.
func (s *TokenService) Exchange(ctx context.Context, req TokenRequest) (*domain.TokenResponse, error) {
	switch req.GrantType {
	case domain.GrantAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, req)
	case domain.GrantClientCredentials:
		return s.ExchangeClientCredentials(ctx, req)
	case domain.GrantRefreshToken:
		return s.ExchangeRefreshToken(ctx, req)
	case domain.GrantDeviceCode:
		client, err := authenticateClient(ctx, s.Store.Clients(), req.ClientID, req.ClientSecret, domain.GrantDeviceCode)
		if err != nil {
			return nil, err
		}
		return s.Device.Poll(ctx, req.DeviceCode, client)
	case domain.GrantJWTBearer:
		return s.ExchangeJWTBearer(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	}
}

// ExchangeAuthorizationCode implements the authorization_code grant.
//
// The code row is consumed with a conditional update inside the same
// transaction that persists the new tokens, so replaying a code can never
// produce a second token set.
func (s *TokenService) ExchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*domain.TokenResponse, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	client, err := authenticateClient(ctx, s.Store.Clients(), req.ClientID, req.ClientSecret, domain.GrantAuthorizationCode)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.Code)
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if code == "" || redirectURI == "" {
		return nil, fmt.Errorf("%w: code and redirect_uri are required", ErrInvalidRequest)
	}

	jkt, err := s.proofThumbprint(ctx, req)
	if err != nil {
		return nil, err
	}

	fingerprint := cryptox.FingerprintToken(code)

	var result *domain.TokenResponse
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		authCode, err := tx.AuthorizationCodes().GetAuthorizationCodeByFingerprint(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}

		if authCode.ClientID != client.ID {
			return ErrInvalidGrant
		}
		if authCode.RedirectURI != redirectURI {
			return ErrInvalidGrant
		}
		if authCode.IsUsed() || authCode.IsExpired(now) {
			return ErrInvalidGrant
		}
		if client.IsPublic() && authCode.CodeChallenge == "" {
			return ErrInvalidGrant
		}
		if !verifyCodeVerifier(authCode.CodeChallenge, authCode.CodeChallengeMethod, req.CodeVerifier) {
			l.Info("PKCE verification failed", slog.String("client_id", client.ID))
			return ErrInvalidGrant
		}

		// Exactly one concurrent redemption gets past this line.
		if err := tx.AuthorizationCodes().MarkAuthorizationCodeUsed(ctx, authCode.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}

		user, err := tx.Users().GetUserByID(ctx, authCode.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}

		// Scopes were validated at authorize time and are fixed by the
		// code; the token request cannot widen them.
		issued, err := issueTokens(ctx, tx, s.Codec, s.RefreshTTL, issueParams{
			client:               client,
			userID:               &user.ID,
			user:                 &user,
			scopes:               authCode.Scopes,
			authorizationDetails: authCode.AuthorizationDetails,
			dpopJKT:              jkt,
			withRefresh:          true,
			nonce:                authCode.Nonce,
			authTime:             authCode.CreatedAt,
			amr:                  authCode.AMR,
			now:                  now,
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

// ExchangeClientCredentials implements the client_credentials grant.
// Confidential clients only; the client is its own subject and no refresh
// token is issued since it can always re-authenticate.
func (s *TokenService) ExchangeClientCredentials(ctx context.Context, req TokenRequest) (*domain.TokenResponse, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	client, err := authenticateClient(ctx, s.Store.Clients(), req.ClientID, req.ClientSecret, domain.GrantClientCredentials)
	if err != nil {
		return nil, err
	}
	if client.IsPublic() {
		l.Warn("client_credentials grant attempted by public client", slog.String("client_id", client.ID))
		return nil, ErrInvalidClient
	}

	scopes, err := s.resolveScopes(ctx, req.Scope, client, domain.GrantClientCredentials)
	if err != nil {
		return nil, err
	}

	jkt, err := s.proofThumbprint(ctx, req)
	if err != nil {
		return nil, err
	}

	var result *domain.TokenResponse
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		issued, err := issueTokens(ctx, tx, s.Codec, s.RefreshTTL, issueParams{
			client:  client,
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

// ExchangeRefreshToken implements the refresh_token grant with rotation:
// the presented token is revoked and a replacement issued in one
// transaction. Presenting a rotated-out token fails invalid_grant.
func (s *TokenService) ExchangeRefreshToken(ctx context.Context, req TokenRequest) (*domain.TokenResponse, error) {
	now := time.Now()
	l := slogx.FromContext(ctx)

	client, err := authenticateClient(ctx, s.Store.Clients(), req.ClientID, req.ClientSecret, domain.GrantRefreshToken)
	if err != nil {
		return nil, err
	}

	opaque := strings.TrimSpace(req.RefreshToken)
	if opaque == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}

	jkt, err := s.proofThumbprint(ctx, req)
	if err != nil {
		return nil, err
	}

	fingerprint := cryptox.FingerprintToken(opaque)

	var result *domain.TokenResponse
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		rt, err := tx.RefreshTokens().GetRefreshTokenByFingerprint(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidGrant
			}
			return err
		}

		if !rt.IsActive(now) {
			l.Info("inactive refresh token presented", slog.String("refresh_id", rt.ID))
			return ErrInvalidGrant
		}
		if rt.ClientID != client.ID {
			return ErrInvalidGrant
		}

		// Narrowing only: every requested scope must be in the original
		// grant. An empty request reuses the original scopes.
		scopes := rt.Scopes
		if requested := splitScopes(req.Scope); len(requested) > 0 {
			for _, name := range requested {
				if !slices.Contains(rt.Scopes, name) {
					return fmt.Errorf("%w: scope %q was not originally granted", ErrInvalidScope, name)
				}
			}
			scopes = requested
		}

		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, rt.ID); err != nil {
			return err
		}

		var user *domain.User
		if rt.UserID != nil {
			u, err := tx.Users().GetUserByID(ctx, *rt.UserID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return ErrInvalidGrant
				}
				return err
			}
			user = &u
		}

		issued, err := issueTokens(ctx, tx, s.Codec, s.RefreshTTL, issueParams{
			client:      client,
			userID:      rt.UserID,
			user:        user,
			scopes:      scopes,
			dpopJKT:     jkt,
			withRefresh: true,
			now:         now,
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

// issueParams collects everything issueTokens needs to mint one response.
type issueParams struct {
	client               domain.Client
	userID               *string
	user                 *domain.User
	scopes               []string
	authorizationDetails json.RawMessage
	dpopJKT              *string
	withRefresh          bool
	nonce                string
	authTime             time.Time
	amr                  []string
	now                  time.Time
}

// issueTokens mints and persists an access token, plus a refresh token and
// ID token when the grant calls for them. Runs inside the caller's
// transaction so issuance is atomic with whatever consumed the credential.
// Shared between the token endpoint grants and the device flow.
func issueTokens(ctx context.Context, tx store.Tx, c *codec.Codec, refreshTTL time.Duration, p issueParams) (*domain.TokenResponse, error) {
	signed, record, err := c.IssueAccessToken(ctx, codec.AccessTokenParams{
		Subject:              p.userID,
		ClientID:             p.client.ID,
		Scopes:               p.scopes,
		AuthorizationDetails: p.authorizationDetails,
		DPoPJKT:              p.dpopJKT,
		Now:                  p.now,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.AccessTokens().CreateAccessToken(ctx, *record); err != nil {
		return nil, err
	}

	resp := &domain.TokenResponse{
		AccessToken:          signed,
		TokenType:            "Bearer",
		ExpiresIn:            int64(c.AccessTTL().Seconds()),
		Scope:                strings.Join(p.scopes, " "),
		AuthorizationDetails: p.authorizationDetails,
	}
	if p.dpopJKT != nil && *p.dpopJKT != "" {
		resp.TokenType = dpopx.TokenType
	}

	if p.withRefresh {
		opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return nil, err
		}
		if refreshTTL <= 0 {
			refreshTTL = jwtx.DefaultRefreshTokenTTL
		}
		rt := domain.RefreshToken{
			ID:               idx.New().String(),
			TokenFingerprint: cryptox.FingerprintToken(opaque),
			AccessTokenID:    record.ID,
			ClientID:         p.client.ID,
			UserID:           p.userID,
			Scopes:           p.scopes,
			ExpiresAt:        p.now.Add(refreshTTL),
		}
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
			return nil, err
		}
		resp.RefreshToken = opaque
	}

	if p.user != nil && slices.Contains(p.scopes, "openid") {
		idToken, err := c.IssueIDToken(ctx, codec.IDTokenParams{
			User:     *p.user,
			ClientID: p.client.ID,
			Scopes:   p.scopes,
			Nonce:    p.nonce,
			AuthTime: p.authTime,
			AMR:      p.amr,
			Now:      p.now,
		})
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

// authenticateClient loads the client, checks it may use the grant, and
// verifies the secret for confidential clients.
func authenticateClient(
	ctx context.Context,
	clients store.Clients,
	clientID, clientSecret, grantType string,
) (domain.Client, error) {
	l := slogx.FromContext(ctx)

	if clientID == "" {
		return domain.Client{}, fmt.Errorf("%w: client_id is required", ErrInvalidClient)
	}

	client, err := clients.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrInvalidClient
		}
		return domain.Client{}, err
	}
	if !client.IsActive {
		l.Info("inactive client attempted a grant", slog.String("client_id", clientID))
		return domain.Client{}, ErrInvalidClient
	}
	if !client.AllowsGrantType(grantType) {
		return domain.Client{}, fmt.Errorf("%w: client may not use %s", ErrUnauthorizedClient, grantType)
	}

	if !client.IsPublic() {
		if clientSecret == "" || cryptox.VerifySecret(clientSecret, *client.SecretHash) != nil {
			l.Info("client authentication failed", slog.String("client_id", clientID))
			return domain.Client{}, ErrInvalidClient
		}
	}

	return client, nil
}

// resolveScopes turns the raw scope parameter into the effective scope set
// for the grant. An explicit request that filters to nothing is an error; an
// empty request falls back to the client's defaults.
func (s *TokenService) resolveScopes(
	ctx context.Context,
	rawScope string,
	client domain.Client,
	grantType string,
) ([]string, error) {
	requested := splitScopes(rawScope)
	if len(requested) == 0 {
		return s.Scopes.Defaults(ctx, client, grantType)
	}

	scopes, err := s.Scopes.Filter(ctx, requested, client, grantType)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, ErrInvalidScope
	}
	return scopes, nil
}

// proofThumbprint verifies the request's DPoP proof when one is present.
// No proof means a plain bearer token and a nil thumbprint.
func (s *TokenService) proofThumbprint(ctx context.Context, req TokenRequest) (*string, error) {
	if req.DPoPProof == "" {
		return nil, nil
	}
	jkt, err := s.DPoP.VerifyProof(ctx, req.DPoPProof, req.HTTPMethod, req.HTTPURI)
	if err != nil {
		return nil, err
	}
	return &jkt, nil
}

func splitScopes(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func verifyCodeVerifier(challenge, method, verifier string) bool {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		// No PKCE challenge stored; accept regardless of verifier.
		return true
	}

	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		return false
	}

	switch {
	case strings.EqualFold(method, domain.CodeChallengeMethodPlain):
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	case method == "" || strings.EqualFold(method, domain.CodeChallengeMethodS256):
		sum := sha256.Sum256([]byte(verifier))
		expected := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(expected)) == 1
	default:
		return false
	}
}
