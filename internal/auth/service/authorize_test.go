package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/jwtx"
)

func TestValidatePKCE(t *testing.T) {
	t.Parallel()

	hash := "argon2-placeholder"
	confidential := domain.Client{SecretHash: &hash}
	public := domain.Client{}

	t.Run("public clients require challenge", func(t *testing.T) {
		_, _, err := validatePKCE("", "", public)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("confidential clients may omit challenge", func(t *testing.T) {
		challenge, method, err := validatePKCE("", "", confidential)
		require.NoError(t, err)
		require.Empty(t, challenge)
		require.Empty(t, method)
	})

	t.Run("defaults to S256 when method omitted", func(t *testing.T) {
		challenge, method, err := validatePKCE("pkce-challenge", "", public)
		require.NoError(t, err)
		require.Equal(t, "pkce-challenge", challenge)
		require.Equal(t, "S256", method)
	})

	t.Run("accepts case-insensitive methods", func(t *testing.T) {
		challenge, method, err := validatePKCE("abc", "plain", public)
		require.NoError(t, err)
		require.Equal(t, "abc", challenge)
		require.Equal(t, "plain", method)

		challenge, method, err = validatePKCE("xyz", "s256", public)
		require.NoError(t, err)
		require.Equal(t, "xyz", challenge)
		require.Equal(t, "S256", method)
	})

	t.Run("rejects unsupported methods", func(t *testing.T) {
		_, _, err := validatePKCE("abc", "S123", public)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestIssueAuthorizationCodePasswordLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)

	resp, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
		ResponseType:  "code",
		ClientID:      client.ID,
		RedirectURI:   testRedirectURI,
		Scope:         "openid read",
		State:         "xyz",
		Nonce:         "n-abc",
		CodeChallenge: s256Challenge("verifier"),
		Username:      "alice",
		Password:      testUserPassword,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Code)
	require.Equal(t, testRedirectURI, resp.RedirectURI)
	require.Equal(t, "xyz", resp.State)

	record, err := env.Store.AuthorizationCodes().
		GetAuthorizationCodeByFingerprint(ctx, cryptox.FingerprintToken(resp.Code))
	require.NoError(t, err)
	require.Equal(t, user.ID, record.UserID)
	require.Equal(t, client.ID, record.ClientID)
	require.Equal(t, []string{"openid", "read"}, record.Scopes)
	require.Equal(t, s256Challenge("verifier"), record.CodeChallenge)
	require.Equal(t, "S256", record.CodeChallengeMethod)
	require.Equal(t, "n-abc", record.Nonce)
	require.Equal(t, []string{jwtx.AMRPassword}, record.AMR)
	require.False(t, record.IsUsed())
}

func TestIssueAuthorizationCodeRejectsUnknownResponseType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	client := seedPublicClient(t, env)

	_, err := env.Authorize.IssueAuthorizationCode(context.Background(), AuthorizeRequest{
		ResponseType: "token",
		ClientID:     client.ID,
		RedirectURI:  testRedirectURI,
	})
	require.ErrorIs(t, err, ErrUnsupportedResponseType)
}

func TestIssueAuthorizationCodeValidatesClientAndRedirect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	client := seedPublicClient(t, env)

	t.Run("unknown client", func(t *testing.T) {
		_, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
			ResponseType: "code",
			ClientID:     "nope",
			RedirectURI:  testRedirectURI,
		})
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("unregistered redirect", func(t *testing.T) {
		_, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
			ResponseType: "code",
			ClientID:     client.ID,
			RedirectURI:  "https://evil.test/callback",
		})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("public client without PKCE", func(t *testing.T) {
		_, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
			ResponseType: "code",
			ClientID:     client.ID,
			RedirectURI:  testRedirectURI,
			Username:     "alice",
			Password:     testUserPassword,
		})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestIssueAuthorizationCodeAuthenticationFailures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	seedUser(t, env, "alice")
	client := seedPublicClient(t, env)

	base := AuthorizeRequest{
		ResponseType:  "code",
		ClientID:      client.ID,
		RedirectURI:   testRedirectURI,
		CodeChallenge: s256Challenge("verifier"),
	}

	t.Run("no credentials at all", func(t *testing.T) {
		_, err := env.Authorize.IssueAuthorizationCode(ctx, base)
		require.ErrorIs(t, err, ErrLoginRequired)
	})

	t.Run("wrong password", func(t *testing.T) {
		req := base
		req.Username = "alice"
		req.Password = "not the password"
		_, err := env.Authorize.IssueAuthorizationCode(ctx, req)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	// Unknown users fail with the same sentinel as a wrong password so the
	// endpoint does not enumerate accounts.
	t.Run("unknown username", func(t *testing.T) {
		req := base
		req.Username = "mallory"
		req.Password = testUserPassword
		_, err := env.Authorize.IssueAuthorizationCode(ctx, req)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestIssueAuthorizationCodeSessionPath(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "bob")
	client := seedPublicClient(t, env)

	resp, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
		ResponseType:  "code",
		ClientID:      client.ID,
		RedirectURI:   testRedirectURI,
		Scope:         "read",
		CodeChallenge: s256Challenge("verifier"),
		Session:       &SessionContext{UserID: user.ID, AMR: []string{jwtx.AMRPassword, jwtx.AMROTP}},
	})
	require.NoError(t, err)

	record, err := env.Store.AuthorizationCodes().
		GetAuthorizationCodeByFingerprint(ctx, cryptox.FingerprintToken(resp.Code))
	require.NoError(t, err)
	require.Equal(t, user.ID, record.UserID)
	require.Equal(t, []string{jwtx.AMRPassword, jwtx.AMROTP}, record.AMR)

	t.Run("unknown session user", func(t *testing.T) {
		_, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
			ResponseType:  "code",
			ClientID:      client.ID,
			RedirectURI:   testRedirectURI,
			CodeChallenge: s256Challenge("verifier"),
			Session:       &SessionContext{UserID: "ghost"},
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

// enrollTOTP flips a seeded user into the MFA-enabled state and returns the
// shared secret for generating codes.
func enrollTOTP(t *testing.T, env *testEnv, userID string) string {
	t.Helper()
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: testIssuer, AccountName: "test"})
	require.NoError(t, err)
	require.NoError(t, env.Store.Users().UpdateTOTPSecret(ctx, userID, key.Secret()))
	require.NoError(t, env.Store.Users().EnableMFA(ctx, userID))
	return key.Secret()
}

func TestAuthorizeMFAChallengeAndCompletion(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "carol")
	client := seedPublicClient(t, env)
	secret := enrollTOTP(t, env, user.ID)

	login := AuthorizeRequest{
		ResponseType:  "code",
		ClientID:      client.ID,
		RedirectURI:   testRedirectURI,
		Scope:         "openid read",
		State:         "st-1",
		CodeChallenge: s256Challenge("verifier"),
		Username:      "carol",
		Password:      testUserPassword,
	}

	_, err := env.Authorize.IssueAuthorizationCode(ctx, login)
	var challenge *MFARequiredError
	require.ErrorAs(t, err, &challenge)
	require.NotEmpty(t, challenge.MFAToken)
	require.Equal(t, []string{"totp"}, challenge.Methods)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	// The completion replays the parked request; a widened scope parameter
	// on the follow-up submission is ignored.
	resp, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
		ResponseType: "code",
		ClientID:     client.ID,
		RedirectURI:  testRedirectURI,
		Scope:        "openid read write offline_access",
		MFAToken:     challenge.MFAToken,
		MFACode:      code,
	})
	require.NoError(t, err)
	require.Equal(t, "st-1", resp.State)

	record, err := env.Store.AuthorizationCodes().
		GetAuthorizationCodeByFingerprint(ctx, cryptox.FingerprintToken(resp.Code))
	require.NoError(t, err)
	require.Equal(t, []string{"openid", "read"}, record.Scopes)
	require.Equal(t, []string{jwtx.AMRPassword, jwtx.AMROTP, jwtx.AMRMFA}, record.AMR)

	// The session burned with the code, so the mfa_token is single-use.
	_, err = env.Store.MFASessions().GetMFASession(ctx, challenge.MFAToken)
	require.ErrorIs(t, err, store.ErrNotFound)

	code2, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	_, err = env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
		ResponseType: "code",
		ClientID:     client.ID,
		RedirectURI:  testRedirectURI,
		MFAToken:     challenge.MFAToken,
		MFACode:      code2,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorizeMFAAttemptsExhausted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "dave")
	client := seedPublicClient(t, env)
	secret := enrollTOTP(t, env, user.ID)

	_, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
		ResponseType:  "code",
		ClientID:      client.ID,
		RedirectURI:   testRedirectURI,
		Scope:         "read",
		CodeChallenge: s256Challenge("verifier"),
		Username:      "dave",
		Password:      testUserPassword,
	})
	var challenge *MFARequiredError
	require.ErrorAs(t, err, &challenge)

	attempt := AuthorizeRequest{
		ResponseType: "code",
		ClientID:     client.ID,
		RedirectURI:  testRedirectURI,
		MFAToken:     challenge.MFAToken,
		MFACode:      "000000",
	}

	for i := 1; i < domain.MFAMaxAttempts; i++ {
		_, err = env.Authorize.IssueAuthorizationCode(ctx, attempt)
		require.ErrorIs(t, err, ErrInvalidGrant, "attempt %d", i)
	}

	_, err = env.Authorize.IssueAuthorizationCode(ctx, attempt)
	require.ErrorIs(t, err, ErrTooManyAttempts)

	// Even the right code is useless now; the session is gone.
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	attempt.MFACode = code
	_, err = env.Authorize.IssueAuthorizationCode(ctx, attempt)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorizeMFASessionBoundToClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "erin")
	clientA := seedPublicClient(t, env)
	clientB := seedConfidentialClient(t, env)
	secret := enrollTOTP(t, env, user.ID)

	_, err := env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
		ResponseType:  "code",
		ClientID:      clientA.ID,
		RedirectURI:   testRedirectURI,
		Scope:         "read",
		CodeChallenge: s256Challenge("verifier"),
		Username:      "erin",
		Password:      testUserPassword,
	})
	var challenge *MFARequiredError
	require.ErrorAs(t, err, &challenge)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	_, err = env.Authorize.IssueAuthorizationCode(ctx, AuthorizeRequest{
		ResponseType: "code",
		ClientID:     clientB.ID,
		RedirectURI:  testRedirectURI,
		MFAToken:     challenge.MFAToken,
		MFACode:      code,
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
}
