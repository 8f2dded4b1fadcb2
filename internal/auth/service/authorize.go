package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/idx"
	"github.com/lockplane/authd/pkg/jwtx"
	"github.com/lockplane/authd/pkg/slogx"
)

const (
	// DefaultAuthorizationCodeTTL is the redemption window for a code.
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultMFASessionTTL is how long a parked authorize request waits for
	// the second factor.
	DefaultMFASessionTTL = 5 * time.Minute
)

// mfaMethods lists the second factors the server can challenge with.
var mfaMethods = []string{"totp"}

// MFARequiredError reports that the password checked out but the user has a
// second factor enrolled. The handler turns it into an mfa_required
// response carrying the token for the follow-up submission.
type MFARequiredError struct {
	MFAToken string
	Methods  []string
}

func (e *MFARequiredError) Error() string { return "mfa_required" }

// AuthorizeService runs the authorization endpoint: request validation,
// resource-owner authentication (password, optionally TOTP step-up) and
// authorization-code issuance.
type AuthorizeService struct {
	Store   store.Store
	Scopes  *ScopeService
	Details *AuthorizationDetailsProcessor

	CodeTTL time.Duration // zero means DefaultAuthorizationCodeTTL
	MFATTL  time.Duration // zero means DefaultMFASessionTTL
}

// AuthorizeRequest is the parsed authorization request plus whichever
// authentication material the caller presented.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string // raw space-delimited scope parameter
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string

	// AuthorizationDetails is the raw RFC 9396 request parameter.
	AuthorizationDetails string

	// Username/password pair for interactive login.
	Username string
	Password string

	// Session is set when the caller is already authenticated, e.g. via a
	// bearer token on the authorize endpoint.
	Session *SessionContext

	// MFA follow-up submission.
	MFAToken string
	MFACode  string
}

// SessionContext describes an already authenticated user.
type SessionContext struct {
	UserID string
	AMR    []string
}

// AuthorizeCodeResponse carries the issued code and what the handler needs
// to build the redirect.
type AuthorizeCodeResponse struct {
	Code        string
	RedirectURI string
	State       string
}

// ValidateClientRedirect checks the client and redirect_uri pair before
// anything else. Handlers call it first: until it passes, errors must be
// rendered directly rather than redirected, since the redirect target
// itself is untrusted.
func (s *AuthorizeService) ValidateClientRedirect(ctx context.Context, clientID, redirectURI string) (domain.Client, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(redirectURI) == "" {
		return domain.Client{}, fmt.Errorf("%w: client_id and redirect_uri are required", ErrInvalidRequest)
	}

	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrInvalidClient
		}
		return domain.Client{}, err
	}
	if !client.IsActive {
		return domain.Client{}, ErrInvalidClient
	}
	if !client.AllowsRedirectURI(redirectURI) {
		return domain.Client{}, fmt.Errorf("%w: redirect_uri is not registered", ErrInvalidRequest)
	}
	return client, nil
}

// DescribeConsent validates the protocol parameters of an authorize request
// far enough to render a consent or login page, and returns the effective
// scope set the user would be granting. The client must already have passed
// ValidateClientRedirect, so every error out of here is safe to send back to
// the redirect URI.
func (s *AuthorizeService) DescribeConsent(ctx context.Context, client domain.Client, req AuthorizeRequest) ([]string, error) {
	if !strings.EqualFold(strings.TrimSpace(req.ResponseType), "code") {
		return nil, fmt.Errorf("%w: only response_type=code is supported", ErrUnsupportedResponseType)
	}
	if !client.AllowsGrantType(domain.GrantAuthorizationCode) {
		return nil, fmt.Errorf("%w: client may not use %s", ErrUnauthorizedClient, domain.GrantAuthorizationCode)
	}
	if _, _, err := validatePKCE(req.CodeChallenge, req.CodeChallengeMethod, client); err != nil {
		return nil, err
	}
	if _, err := s.Details.Process(req.AuthorizationDetails); err != nil {
		return nil, err
	}
	return s.resolveAuthorizeScopes(ctx, req.Scope, client)
}

// IssueAuthorizationCode validates an authorization request, authenticates
// the resource owner and mints a single-use code (RFC 6749 section 4.1).
//
// Three ways in:
//
//  1. MFAToken set: a prior password login parked the request behind a TOTP
//     challenge; validate the digits and replay the stored context.
//  2. Session set: the caller is already authenticated.
//  3. Username/password: interactive login. Users with MFA enrolled get a
//     *MFARequiredError instead of a code.
//
// Public clients must send a PKCE challenge; S256 is assumed when the
// method is omitted. Scopes are narrowed to what the registry allows the
// client for this grant, and authorization_details go through the RFC 9396
// processor before they are attached to the code.
func (s *AuthorizeService) IssueAuthorizationCode(ctx context.Context, req AuthorizeRequest) (*AuthorizeCodeResponse, error) {
	l := slogx.FromContext(ctx)
	now := time.Now()

	if !strings.EqualFold(strings.TrimSpace(req.ResponseType), "code") {
		return nil, fmt.Errorf("%w: only response_type=code is supported", ErrUnsupportedResponseType)
	}

	client, err := s.ValidateClientRedirect(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(domain.GrantAuthorizationCode) {
		return nil, fmt.Errorf("%w: client may not use %s", ErrUnauthorizedClient, domain.GrantAuthorizationCode)
	}

	// The MFA continuation replays the context parked with the session:
	// scopes, PKCE challenge and authorization_details all come from the
	// stored request, so the follow-up submission's own parameters are not
	// validated here.
	if strings.TrimSpace(req.MFAToken) != "" {
		return s.completeMFA(ctx, now, client, req)
	}

	challenge, method, err := validatePKCE(req.CodeChallenge, req.CodeChallengeMethod, client)
	if err != nil {
		return nil, err
	}

	details, err := s.Details.Process(req.AuthorizationDetails)
	if err != nil {
		return nil, err
	}

	scopes, err := s.resolveAuthorizeScopes(ctx, req.Scope, client)
	if err != nil {
		return nil, err
	}

	if req.Session != nil {
		if strings.TrimSpace(req.Session.UserID) == "" {
			return nil, ErrInvalidGrant
		}
		user, err := s.Store.Users().GetUserByID(ctx, req.Session.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrInvalidGrant
			}
			return nil, err
		}

		amr := dedupe(req.Session.AMR)
		if len(amr) == 0 {
			amr = []string{jwtx.AMRPassword}
		}
		return s.issueCode(ctx, now, codeParams{
			client:      client,
			userID:      user.ID,
			redirectURI: req.RedirectURI,
			state:       req.State,
			nonce:       req.Nonce,
			challenge:   challenge,
			method:      method,
			scopes:      scopes,
			details:     details,
			amr:         amr,
		})
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrLoginRequired
	}

	user, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if cryptox.VerifySecret(req.Password, user.PasswordHash) != nil {
		l.Info("password authentication failed", slog.String("username", username))
		return nil, ErrInvalidCredentials
	}

	if user.MFAEnabled != nil {
		return nil, s.parkForMFA(ctx, now, client, user, req, challenge, method, scopes, details)
	}

	return s.issueCode(ctx, now, codeParams{
		client:      client,
		userID:      user.ID,
		redirectURI: req.RedirectURI,
		state:       req.State,
		nonce:       req.Nonce,
		challenge:   challenge,
		method:      method,
		scopes:      scopes,
		details:     details,
		amr:         []string{jwtx.AMRPassword},
	})
}

// parkForMFA stores the whole authorize context behind an mfa_token and
// returns the challenge. The client resubmits only the token and digits.
func (s *AuthorizeService) parkForMFA(
	ctx context.Context,
	now time.Time,
	client domain.Client,
	user domain.User,
	req AuthorizeRequest,
	challenge, method string,
	scopes []string,
	details json.RawMessage,
) error {
	ttl := s.MFATTL
	if ttl <= 0 {
		ttl = DefaultMFASessionTTL
	}

	session := domain.MFASession{
		ID:                   idx.New().String(),
		UserID:               user.ID,
		ClientID:             client.ID,
		RedirectURI:          req.RedirectURI,
		Scopes:               scopes,
		State:                req.State,
		Nonce:                req.Nonce,
		CodeChallenge:        challenge,
		CodeChallengeMethod:  method,
		AuthorizationDetails: details,
		AMR:                  []string{jwtx.AMRPassword},
		ExpiresAt:            now.Add(ttl),
	}
	if err := s.Store.MFASessions().CreateMFASession(ctx, session); err != nil {
		return err
	}

	return &MFARequiredError{
		MFAToken: session.ID,
		Methods:  mfaMethods,
	}
}

// DescribeChallenge reports the second factors available for a parked
// login. Login UIs call this after a 409 to render the right form. Unknown
// and expired tokens are indistinguishable.
func (s *AuthorizeService) DescribeChallenge(ctx context.Context, mfaToken string) (domain.MFAChallengeResponse, error) {
	if strings.TrimSpace(mfaToken) == "" {
		return domain.MFAChallengeResponse{}, fmt.Errorf("%w: mfa_token is required", ErrInvalidRequest)
	}

	session, err := s.Store.MFASessions().GetMFASession(ctx, mfaToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MFAChallengeResponse{}, ErrInvalidGrant
		}
		return domain.MFAChallengeResponse{}, err
	}

	return domain.MFAChallengeResponse{
		MFARequired: true,
		MFAToken:    session.ID,
		Methods:     mfaMethods,
	}, nil
}

// completeMFA validates the TOTP submission against a parked session and
// issues the code from the stored context.
func (s *AuthorizeService) completeMFA(
	ctx context.Context,
	now time.Time,
	client domain.Client,
	req AuthorizeRequest,
) (*AuthorizeCodeResponse, error) {
	l := slogx.FromContext(ctx)

	if strings.TrimSpace(req.MFACode) == "" {
		return nil, fmt.Errorf("%w: mfa_code is required", ErrInvalidRequest)
	}

	session, err := s.Store.MFASessions().GetMFASession(ctx, req.MFAToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if session.ClientID != client.ID {
		return nil, ErrInvalidRequest
	}
	if session.Attempts >= domain.MFAMaxAttempts {
		_ = s.Store.MFASessions().DeleteMFASession(ctx, session.ID)
		l.Warn("MFA session exceeded max attempts", slog.String("user_id", session.UserID))
		return nil, ErrTooManyAttempts
	}

	user, err := s.Store.Users().GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if user.TOTPSecret == nil || *user.TOTPSecret == "" {
		return nil, ErrInvalidGrant
	}

	if !totp.Validate(req.MFACode, *user.TOTPSecret) {
		updated, incErr := s.Store.MFASessions().IncrementMFASessionAttempts(ctx, session.ID)
		if incErr != nil {
			return nil, incErr
		}
		if updated.Attempts >= domain.MFAMaxAttempts {
			_ = s.Store.MFASessions().DeleteMFASession(ctx, session.ID)
			return nil, ErrTooManyAttempts
		}
		l.Info("TOTP validation failed",
			slog.String("user_id", user.ID),
			slog.Int("attempts", updated.Attempts))
		return nil, ErrInvalidGrant
	}

	code, record, err := s.prepareCode(now, codeParams{
		client:      client,
		userID:      user.ID,
		redirectURI: session.RedirectURI,
		state:       session.State,
		nonce:       session.Nonce,
		challenge:   session.CodeChallenge,
		method:      session.CodeChallengeMethod,
		scopes:      session.Scopes,
		details:     session.AuthorizationDetails,
		amr:         dedupe(append(session.AMR, jwtx.AMROTP, jwtx.AMRMFA)),
	})
	if err != nil {
		return nil, err
	}

	// The session burns with the code creation so a stolen mfa_token
	// cannot mint a second code after success.
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.AuthorizationCodes().CreateAuthorizationCode(ctx, record); err != nil {
			return err
		}
		return tx.MFASessions().DeleteMFASession(ctx, session.ID)
	})
	if err != nil {
		return nil, err
	}

	return &AuthorizeCodeResponse{
		Code:        code,
		RedirectURI: session.RedirectURI,
		State:       session.State,
	}, nil
}

// resolveAuthorizeScopes filters the request scopes for the code grant. An
// empty request falls back to everything the client may have.
func (s *AuthorizeService) resolveAuthorizeScopes(ctx context.Context, rawScope string, client domain.Client) ([]string, error) {
	requested := splitScopes(rawScope)
	if len(requested) == 0 {
		requested = client.AllowedScopes
	}
	scopes, err := s.Scopes.Filter(ctx, requested, client, domain.GrantAuthorizationCode)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, ErrInvalidScope
	}
	return scopes, nil
}

type codeParams struct {
	client      domain.Client
	userID      string
	redirectURI string
	state       string
	nonce       string
	challenge   string
	method      string
	scopes      []string
	details     json.RawMessage
	amr         []string
}

func (s *AuthorizeService) issueCode(ctx context.Context, now time.Time, p codeParams) (*AuthorizeCodeResponse, error) {
	code, record, err := s.prepareCode(now, p)
	if err != nil {
		return nil, err
	}
	if err := s.Store.AuthorizationCodes().CreateAuthorizationCode(ctx, record); err != nil {
		return nil, err
	}
	return &AuthorizeCodeResponse{
		Code:        code,
		RedirectURI: p.redirectURI,
		State:       p.state,
	}, nil
}

// prepareCode mints the opaque code string and its store record. Only the
// fingerprint is persisted.
func (s *AuthorizeService) prepareCode(now time.Time, p codeParams) (string, domain.AuthorizationCode, error) {
	code, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", domain.AuthorizationCode{}, err
	}

	ttl := s.CodeTTL
	if ttl <= 0 {
		ttl = DefaultAuthorizationCodeTTL
	}

	record := domain.AuthorizationCode{
		ID:                   idx.New().String(),
		CodeFingerprint:      cryptox.FingerprintToken(code),
		ClientID:             p.client.ID,
		UserID:               p.userID,
		RedirectURI:          p.redirectURI,
		Scopes:               p.scopes,
		CodeChallenge:        p.challenge,
		CodeChallengeMethod:  p.method,
		Nonce:                p.nonce,
		AuthorizationDetails: p.details,
		AMR:                  dedupe(p.amr),
		ExpiresAt:            now.Add(ttl),
		CreatedAt:            now,
	}
	return code, record, nil
}

// validatePKCE normalizes the challenge pair. Public clients must send a
// challenge; S256 is assumed when the method is omitted.
func validatePKCE(challenge, method string, client domain.Client) (string, string, error) {
	challenge = strings.TrimSpace(challenge)
	method = strings.TrimSpace(method)

	if challenge == "" {
		if client.IsPublic() {
			return "", "", fmt.Errorf("%w: public clients must send a PKCE code_challenge", ErrInvalidRequest)
		}
		return "", "", nil
	}

	switch {
	case method == "", strings.EqualFold(method, domain.CodeChallengeMethodS256):
		return challenge, domain.CodeChallengeMethodS256, nil
	case strings.EqualFold(method, domain.CodeChallengeMethodPlain):
		return challenge, domain.CodeChallengeMethodPlain, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported code_challenge_method %q", ErrInvalidRequest, method)
	}
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
