package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/pkg/jwtx"
)

func TestVerifyCodeVerifier(t *testing.T) {
	t.Parallel()

	t.Run("plain verifier must match challenge", func(t *testing.T) {
		require.True(t, verifyCodeVerifier("verifier", "plain", "verifier"))
		require.False(t, verifyCodeVerifier("verifier", "plain", "other"))
	})

	t.Run("S256 verifier computes hash", func(t *testing.T) {
		challenge := s256Challenge("example-verifier")
		require.True(t, verifyCodeVerifier(challenge, "S256", "example-verifier"))
		require.False(t, verifyCodeVerifier(challenge, "S256", "wrong"))
	})

	t.Run("empty method means S256", func(t *testing.T) {
		challenge := s256Challenge("example-verifier")
		require.True(t, verifyCodeVerifier(challenge, "", "example-verifier"))
	})

	t.Run("empty challenge accepts any verifier", func(t *testing.T) {
		require.True(t, verifyCodeVerifier("", "S256", ""))
		require.True(t, verifyCodeVerifier("", "", "anything"))
	})

	t.Run("missing verifier rejected when challenge present", func(t *testing.T) {
		require.False(t, verifyCodeVerifier(s256Challenge("data"), "S256", ""))
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		require.False(t, verifyCodeVerifier("abc", "S512", "abc"))
	})
}

func TestSplitScopes(t *testing.T) {
	t.Parallel()

	require.Empty(t, splitScopes(""))
	require.Equal(t, []string{"read", "write"}, splitScopes("  read   write "))
	require.Equal(t, []string{"read"}, splitScopes("read read read"))
}

func TestExchangeAuthorizationCodeEnforcesSingleUse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)

	code := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"openid", "read"},
		CodeChallenge:       s256Challenge("example-code-verifier"),
		CodeChallengeMethod: "S256",
		Nonce:               "n-1",
		AMR:                 []string{jwtx.AMRPassword},
	})

	req := TokenRequest{
		GrantType:    domain.GrantAuthorizationCode,
		ClientID:     client.ID,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "example-code-verifier",
	}

	resp, err := env.Token.Exchange(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.NotEmpty(t, resp.IDToken)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, "openid read", resp.Scope)
	require.Equal(t, int64(3600), resp.ExpiresIn)

	claims, _, err := env.Codec.Verify(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.Equal(t, client.ID, claims.ClientID)
	require.Equal(t, []string{"openid", "read"}, claims.Scopes)

	// Replaying the code yields nothing, however well-formed the request.
	_, err = env.Token.Exchange(ctx, req)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeAuthorizationCodeConcurrentRedemption(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)

	code := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"openid", "read"},
		CodeChallenge:       s256Challenge("example-code-verifier"),
		CodeChallengeMethod: "S256",
	})

	req := TokenRequest{
		GrantType:    domain.GrantAuthorizationCode,
		ClientID:     client.ID,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "example-code-verifier",
	}

	// Race eight redeemers at the same code. The conditional-UPDATE
	// consumption must let exactly one through.
	const redeemers = 8
	errs := make(chan error, redeemers)
	var wg sync.WaitGroup
	for range redeemers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Token.Exchange(ctx, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrInvalidGrant)
		rejected++
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, redeemers-1, rejected)
}

func TestExchangeAuthorizationCodePKCEMismatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)

	code := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"read"},
		CodeChallenge:       s256Challenge("right-verifier"),
		CodeChallengeMethod: "S256",
	})

	_, err := env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantAuthorizationCode,
		ClientID:     client.ID,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "wrong-verifier",
	})
	require.ErrorIs(t, err, ErrInvalidGrant)

	// The failed attempt must not have consumed the code.
	resp, err := env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantAuthorizationCode,
		ClientID:     client.ID,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "right-verifier",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
}

func TestExchangeAuthorizationCodePlainMethod(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)

	code := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"read"},
		CodeChallenge:       "plain-text-challenge",
		CodeChallengeMethod: "plain",
	})

	resp, err := env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantAuthorizationCode,
		ClientID:     client.ID,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "plain-text-challenge",
	})
	require.NoError(t, err)
	require.Empty(t, resp.IDToken) // no openid scope
}

func TestExchangeAuthorizationCodeRejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)
	other := seedConfidentialClient(t, env)

	newCode := func(mutate func(*domain.AuthorizationCode)) string {
		record := domain.AuthorizationCode{
			ClientID:            client.ID,
			UserID:              user.ID,
			RedirectURI:         testRedirectURI,
			Scopes:              []string{"read"},
			CodeChallenge:       s256Challenge("verifier"),
			CodeChallengeMethod: "S256",
		}
		if mutate != nil {
			mutate(&record)
		}
		return insertAuthCode(t, env, record)
	}

	t.Run("missing code", func(t *testing.T) {
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:   domain.GrantAuthorizationCode,
			ClientID:    client.ID,
			RedirectURI: testRedirectURI,
		})
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantAuthorizationCode,
			ClientID:     client.ID,
			Code:         "never-issued",
			RedirectURI:  testRedirectURI,
			CodeVerifier: "verifier",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		code := newCode(nil)
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantAuthorizationCode,
			ClientID:     client.ID,
			Code:         code,
			RedirectURI:  "https://evil.test/callback",
			CodeVerifier: "verifier",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("code issued to another client", func(t *testing.T) {
		code := newCode(nil)
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantAuthorizationCode,
			ClientID:     other.ID,
			ClientSecret: testClientSecret,
			Code:         code,
			RedirectURI:  testRedirectURI,
			CodeVerifier: "verifier",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("expired code", func(t *testing.T) {
		code := newCode(func(r *domain.AuthorizationCode) {
			r.CreatedAt = time.Now().Add(-time.Hour)
			r.ExpiresAt = time.Now().Add(-50 * time.Minute)
		})
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantAuthorizationCode,
			ClientID:     client.ID,
			Code:         code,
			RedirectURI:  testRedirectURI,
			CodeVerifier: "verifier",
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	// A code persisted without a challenge must not be redeemable by a
	// public client, whatever stripped the challenge on the way in.
	t.Run("public client code without challenge", func(t *testing.T) {
		code := newCode(func(r *domain.AuthorizationCode) {
			r.CodeChallenge = ""
			r.CodeChallengeMethod = ""
		})
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:   domain.GrantAuthorizationCode,
			ClientID:    client.ID,
			Code:        code,
			RedirectURI: testRedirectURI,
		})
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestExchangeClientCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	client := seedConfidentialClient(t, env)

	t.Run("issues access token without refresh", func(t *testing.T) {
		resp, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantClientCredentials,
			ClientID:     client.ID,
			ClientSecret: testClientSecret,
			Scope:        "read write",
		})
		require.NoError(t, err)
		require.NotEmpty(t, resp.AccessToken)
		require.Empty(t, resp.RefreshToken)
		require.Empty(t, resp.IDToken)
		require.Equal(t, "read write", resp.Scope)

		claims, _, err := env.Codec.Verify(ctx, resp.AccessToken)
		require.NoError(t, err)
		require.Equal(t, client.ID, claims.Subject)
		require.Equal(t, client.ID, claims.ClientID)
	})

	t.Run("empty scope falls back to eligible defaults", func(t *testing.T) {
		resp, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantClientCredentials,
			ClientID:     client.ID,
			ClientSecret: testClientSecret,
		})
		require.NoError(t, err)
		// openid and friends are user-delegated only, so the default set
		// keeps just the machine scopes.
		require.Equal(t, "admin read write", resp.Scope)
	})

	t.Run("user-only scopes filter to nothing", func(t *testing.T) {
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantClientCredentials,
			ClientID:     client.ID,
			ClientSecret: testClientSecret,
			Scope:        "openid profile",
		})
		require.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantClientCredentials,
			ClientID:     client.ID,
			ClientSecret: "wrong",
		})
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("public clients are refused", func(t *testing.T) {
		public := seedPublicClient(t, env)
		_, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType: domain.GrantClientCredentials,
			ClientID:  public.ID,
		})
		// The public client does not carry the grant at all, which reads
		// as unauthorized_client before the no-secret check can run.
		require.ErrorIs(t, err, ErrUnauthorizedClient)
	})
}

func TestExchangeRefreshTokenRotation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)

	code := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"openid", "read", "write"},
		CodeChallenge:       s256Challenge("verifier"),
		CodeChallengeMethod: "S256",
	})
	first, err := env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantAuthorizationCode,
		ClientID:     client.ID,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "verifier",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	second, err := env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantRefreshToken,
		ClientID:     client.ID,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	require.NotEmpty(t, second.RefreshToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, "openid read write", second.Scope)
	require.NotEmpty(t, second.IDToken) // user grant with openid keeps the identity fresh

	// The rotated-out token is dead.
	_, err = env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantRefreshToken,
		ClientID:     client.ID,
		RefreshToken: first.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)

	t.Run("narrowing is allowed", func(t *testing.T) {
		narrowed, err := env.Token.Exchange(ctx, TokenRequest{
			GrantType:    domain.GrantRefreshToken,
			ClientID:     client.ID,
			RefreshToken: second.RefreshToken,
			Scope:        "read",
		})
		require.NoError(t, err)
		require.Equal(t, "read", narrowed.Scope)

		t.Run("widening back is refused", func(t *testing.T) {
			_, err := env.Token.Exchange(ctx, TokenRequest{
				GrantType:    domain.GrantRefreshToken,
				ClientID:     client.ID,
				RefreshToken: narrowed.RefreshToken,
				Scope:        "read write",
			})
			require.ErrorIs(t, err, ErrInvalidScope)
		})
	})
}

func TestExchangeRefreshTokenClientBinding(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "alice")
	client := seedPublicClient(t, env)
	other := seedConfidentialClient(t, env)

	code := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"read"},
		CodeChallenge:       s256Challenge("verifier"),
		CodeChallengeMethod: "S256",
	})
	first, err := env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantAuthorizationCode,
		ClientID:     client.ID,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "verifier",
	})
	require.NoError(t, err)

	_, err = env.Token.Exchange(ctx, TokenRequest{
		GrantType:    domain.GrantRefreshToken,
		ClientID:     other.ID,
		ClientSecret: testClientSecret,
		RefreshToken: first.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeRejectsUnknownGrantType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.Token.Exchange(context.Background(), TokenRequest{GrantType: "password"})
	require.ErrorIs(t, err, ErrUnsupportedGrantType)
}

func TestAuthenticateClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	client := seedConfidentialClient(t, env)

	t.Run("missing client_id", func(t *testing.T) {
		_, err := authenticateClient(ctx, env.Store.Clients(), "", "", domain.GrantClientCredentials)
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := authenticateClient(ctx, env.Store.Clients(), "ghost", "", domain.GrantClientCredentials)
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("deactivated client", func(t *testing.T) {
		require.NoError(t, env.Store.Clients().SetClientActive(ctx, client.ID, false))
		_, err := authenticateClient(ctx, env.Store.Clients(), client.ID, testClientSecret, domain.GrantClientCredentials)
		require.ErrorIs(t, err, ErrInvalidClient)
		require.NoError(t, env.Store.Clients().SetClientActive(ctx, client.ID, true))
	})

	t.Run("grant not allowed", func(t *testing.T) {
		public := seedPublicClient(t, env)
		_, err := authenticateClient(ctx, env.Store.Clients(), public.ID, "", domain.GrantJWTBearer)
		require.ErrorIs(t, err, ErrUnauthorizedClient)
	})

	t.Run("confidential without secret", func(t *testing.T) {
		_, err := authenticateClient(ctx, env.Store.Clients(), client.ID, "", domain.GrantClientCredentials)
		require.ErrorIs(t, err, ErrInvalidClient)
	})
}
