// Package codec mints and verifies the JWTs this server issues: HS256 (or a
// configured asymmetric algorithm) access tokens and RS256 ID tokens.
//
// A verified signature is never enough on its own. Every access token's jti
// is the ID of a persisted row, and Verify only accepts tokens whose row
// still exists, is unrevoked and unexpired. Revocation therefore works even
// though the tokens are self-contained JWTs.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/idx"
	"github.com/lockplane/authd/pkg/jwtx"
)

var (
	ErrMalformed    = errors.New("codec: malformed token")
	ErrBadSignature = errors.New("codec: invalid signature")
	ErrExpired      = errors.New("codec: token expired")
	ErrClaims       = errors.New("codec: claim validation failed")

	// ErrTokenInactive means the signature checked out but the persisted
	// record is missing, revoked or expired. Callers treat it exactly like
	// an unknown token.
	ErrTokenInactive = errors.New("codec: token inactive")
)

// Codec issues and verifies access tokens and ID tokens. Construct with New.
type Codec struct {
	store store.Store
	keys  *jwtx.KeyManager

	issuer     string
	accessTTL  time.Duration
	idTokenTTL time.Duration

	// HS256 mode; nil when access tokens use the asymmetric key manager.
	hsSigner   *jwtx.HS256Signer
	hsVerifier *jwtx.HS256Verifier
}

// Options configures a Codec.
type Options struct {
	Store store.Store

	// Keys signs ID tokens and publishes the JWKS. When AccessAlgorithm
	// names its algorithm it signs access tokens too.
	Keys *jwtx.KeyManager

	// AccessAlgorithm selects the access-token signing mode. Empty or
	// "HS256" uses AccessSecret; anything else must match Keys.Algorithm().
	AccessAlgorithm string

	// AccessSecret is the HMAC secret for HS256 access tokens. At least 32
	// bytes. Ignored in asymmetric mode.
	AccessSecret []byte

	Issuer     string
	AccessTTL  time.Duration
	IDTokenTTL time.Duration
}

// New validates the signing configuration and builds a Codec.
func New(opts Options) (*Codec, error) {
	if opts.Store == nil {
		return nil, errors.New("codec: Store is required")
	}
	if opts.Keys == nil {
		return nil, errors.New("codec: Keys is required")
	}
	if opts.Issuer == "" {
		return nil, errors.New("codec: Issuer is required")
	}

	c := &Codec{
		store:      opts.Store,
		keys:       opts.Keys,
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTTL,
		idTokenTTL: opts.IDTokenTTL,
	}
	if c.accessTTL <= 0 {
		c.accessTTL = jwtx.DefaultAccessTokenTTL
	}
	if c.idTokenTTL <= 0 {
		c.idTokenTTL = jwtx.DefaultIDTokenTTL
	}

	switch opts.AccessAlgorithm {
	case "", jwtx.AlgorithmHS256:
		signer, err := jwtx.NewSignerHS256("", opts.AccessSecret)
		if err != nil {
			return nil, err
		}
		c.hsSigner = signer
		// Audience is the per-token client_id, so the verifier does not
		// pin one.
		c.hsVerifier = jwtx.NewVerifierHS256(opts.AccessSecret, opts.Issuer, nil)
	default:
		if opts.AccessAlgorithm != opts.Keys.Algorithm() {
			return nil, fmt.Errorf("codec: access algorithm %q does not match key manager algorithm %q",
				opts.AccessAlgorithm, opts.Keys.Algorithm())
		}
	}

	return c, nil
}

// AccessTTL returns the configured access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// AccessTokenParams describes the token to mint. Subject nil means the
// client is acting for itself (client_credentials) and sub = client_id.
type AccessTokenParams struct {
	Subject              *string
	ClientID             string
	Scopes               []string
	AuthorizationDetails json.RawMessage
	DPoPJKT              *string
	Now                  time.Time
}

// IssueAccessToken signs a new access token and returns the matching
// record. The caller persists the record, usually inside the same
// transaction that consumed the code or rotated the refresh token; until it
// does, Verify rejects the token.
func (c *Codec) IssueAccessToken(ctx context.Context, p AccessTokenParams) (string, *domain.AccessToken, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	tokenID := idx.New().String()

	subject := p.ClientID
	if p.Subject != nil {
		subject = *p.Subject
	}

	claims := jwtx.NewAccessClaims(
		subject,
		p.ClientID,
		tokenID,
		p.Scopes,
		c.accessTTL,
		c.issuer,
		[]string{p.ClientID},
		now,
	)
	claims.AuthorizationDetails = p.AuthorizationDetails
	if p.DPoPJKT != nil && *p.DPoPJKT != "" {
		claims.Confirmation = &jwtx.Confirmation{JKT: *p.DPoPJKT}
	}

	var signed string
	var err error
	if c.hsSigner != nil {
		signed, err = c.hsSigner.Sign(&claims)
	} else {
		signed, err = c.keys.GetSigner().Sign(&claims)
	}
	if err != nil {
		return "", nil, err
	}

	record := &domain.AccessToken{
		ID:                   tokenID,
		ClientID:             p.ClientID,
		UserID:               p.Subject,
		Scopes:               claims.ScopeList(),
		AuthorizationDetails: p.AuthorizationDetails,
		DPoPJKT:              p.DPoPJKT,
		ExpiresAt:            now.Add(c.accessTTL),
		CreatedAt:            now,
	}
	return signed, record, nil
}

// Verify checks the token signature and claims, then loads the persisted
// record by jti. Tokens whose record is gone, revoked or expired fail with
// ErrTokenInactive regardless of what the signature says.
func (c *Codec) Verify(ctx context.Context, signed string) (*jwtx.Claims, *domain.AccessToken, error) {
	claims, err := c.parse(signed)
	if err != nil {
		return nil, nil, err
	}

	if claims.ID == "" {
		return nil, nil, fmt.Errorf("%w: missing jti", ErrClaims)
	}

	record, err := c.store.AccessTokens().GetAccessTokenByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrTokenInactive
		}
		return nil, nil, err
	}
	if !record.IsActive(time.Now()) {
		return nil, nil, ErrTokenInactive
	}

	// The row is the source of truth; a claims mismatch means the token
	// was minted against different state than what is persisted.
	if record.ClientID != claims.ClientID {
		return nil, nil, ErrTokenInactive
	}

	return claims, &record, nil
}

// parse runs signature and registered-claim checks without touching the store.
func (c *Codec) parse(signed string) (*jwtx.Claims, error) {
	var claims *jwtx.Claims
	var err error
	if c.hsVerifier != nil {
		claims, err = c.hsVerifier.Verify(signed)
	} else {
		var cl jwtx.Claims
		cl, err = c.keys.Verifier.Verify(signed)
		claims = &cl
	}
	if err != nil {
		return nil, mapVerifyError(err)
	}
	if claims.Type != jwtx.TokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrClaims, claims.Type)
	}
	return claims, nil
}

func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwtx.ErrInvalidSig), errors.Is(err, jwtx.ErrNoKey):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwtx.ErrExpired):
		return ErrExpired
	case errors.Is(err, jwtx.ErrIssuer),
		errors.Is(err, jwtx.ErrAudience),
		errors.Is(err, jwtx.ErrNotYetValid),
		errors.Is(err, jwtx.ErrInvalidClaim):
		return fmt.Errorf("%w: %v", ErrClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// IDTokenParams describes an ID token. Scopes gate the claim families:
// email/email_verified need "email", the profile fields need "profile".
type IDTokenParams struct {
	User     domain.User
	ClientID string
	Scopes   []string
	Nonce    string
	AuthTime time.Time
	ACR      string
	AMR      []string
	Now      time.Time
}

// IssueIDToken signs an OpenID Connect ID token with the key manager's
// current signing key. Relying parties verify it against the published JWKS.
func (c *Codec) IssueIDToken(ctx context.Context, p IDTokenParams) (string, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	authTime := p.AuthTime
	if authTime.IsZero() {
		authTime = now
	}

	claims := jwtx.NewIDClaims(p.User.ID, p.ClientID, c.issuer, c.idTokenTTL, authTime, now)
	claims.Nonce = p.Nonce
	claims.ACR = p.ACR
	claims.AMR = p.AMR

	if slices.Contains(p.Scopes, "email") && p.User.Email != nil {
		claims.Email = *p.User.Email
		verified := p.User.EmailVerified
		claims.EmailVerified = &verified
	}
	if slices.Contains(p.Scopes, "profile") {
		claims.Name = p.User.PreferredName
		claims.PreferredUsername = p.User.Username
		if p.User.Picture != nil {
			claims.Picture = *p.User.Picture
		}
		if p.User.Locale != nil {
			claims.Locale = *p.User.Locale
		}
	}

	return c.keys.GetSigner().Sign(&claims)
}

// PublicJWKS returns the public keys for /.well-known/jwks.json.
func (c *Codec) PublicJWKS() jwtx.JWKS {
	return c.keys.KeySet.PublicJWKS()
}
