package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/idx"
)

func TestHousekeepingSweepsExpiredRows(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env, "janitor")
	client := seedPublicClient(t, env)
	past := time.Now().Add(-time.Hour)

	expiredCode := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID:  client.ID,
		UserID:    user.ID,
		Scopes:    []string{"read"},
		CreatedAt: past.Add(-10 * time.Minute),
		ExpiresAt: past,
	})
	liveCode := insertAuthCode(t, env, domain.AuthorizationCode{
		ClientID: client.ID,
		UserID:   user.ID,
		Scopes:   []string{"read"},
	})

	accessID := idx.New().String()
	require.NoError(t, env.Store.AccessTokens().CreateAccessToken(ctx, domain.AccessToken{
		ID:        accessID,
		ClientID:  client.ID,
		UserID:    &user.ID,
		Scopes:    []string{"read"},
		ExpiresAt: past,
		CreatedAt: past.Add(-time.Hour),
	}))

	refreshOpaque := cryptox.MustGenerateToken(cryptox.TokenSize256)
	require.NoError(t, env.Store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID:               idx.New().String(),
		TokenFingerprint: cryptox.FingerprintToken(refreshOpaque),
		AccessTokenID:    accessID,
		ClientID:         client.ID,
		UserID:           &user.ID,
		Scopes:           []string{"read"},
		ExpiresAt:        past,
		CreatedAt:        past.Add(-time.Hour),
	}))

	deviceOpaque := cryptox.MustGenerateToken(cryptox.TokenSize256)
	require.NoError(t, env.Store.DeviceCodes().CreateDeviceCode(ctx, domain.DeviceCode{
		ID:                    idx.New().String(),
		DeviceCodeFingerprint: cryptox.FingerprintToken(deviceOpaque),
		UserCode:              "SWEEPTST",
		ClientID:              client.ID,
		Scopes:                []string{"read"},
		ExpiresAt:             past,
		IntervalSeconds:       5,
		CreatedAt:             past.Add(-30 * time.Minute),
	}))

	proofJTI := idx.New().String()
	require.NoError(t, env.Store.DPoPProofs().InsertProof(ctx, domain.DPoPProof{
		JTI:       proofJTI,
		JKT:       "thumbprint",
		SeenAt:    past,
		ExpiresAt: past,
	}))

	require.NoError(t, env.Store.MFASessions().CreateMFASession(ctx, domain.MFASession{
		ID:        idx.New().String(),
		UserID:    user.ID,
		ClientID:  client.ID,
		Scopes:    []string{"read"},
		AMR:       []string{"pwd"},
		ExpiresAt: past,
		CreatedAt: past.Add(-5 * time.Minute),
	}))

	require.NoError(t, env.Store.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
		ID:                  idx.New().String(),
		Kid:                 "authd-sweep-test",
		Algorithm:           "RS256",
		PrivateKeyEncrypted: []byte("ciphertext"),
		CreatedAt:           past.Add(-24 * time.Hour),
		ExpiresAt:           past,
	}))

	svc := NewHousekeepingService(env.Store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	svc.cleanup()

	_, err := env.Store.AuthorizationCodes().GetAuthorizationCodeByFingerprint(ctx, cryptox.FingerprintToken(expiredCode))
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.Store.AccessTokens().GetAccessTokenByID(ctx, accessID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.Store.RefreshTokens().GetRefreshTokenByFingerprint(ctx, cryptox.FingerprintToken(refreshOpaque))
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.Store.DeviceCodes().GetDeviceCodeByUserCode(ctx, "SWEEPTST")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = env.Store.SigningKeys().GetSigningKeyByKid(ctx, "authd-sweep-test")
	require.ErrorIs(t, err, store.ErrNotFound)

	// The proof row is gone when its jti can be inserted again.
	require.NoError(t, env.Store.DPoPProofs().InsertProof(ctx, domain.DPoPProof{
		JTI:       proofJTI,
		JKT:       "thumbprint",
		SeenAt:    time.Now(),
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}))

	// Live rows survive the sweep.
	_, err = env.Store.AuthorizationCodes().GetAuthorizationCodeByFingerprint(ctx, cryptox.FingerprintToken(liveCode))
	require.NoError(t, err)
}

func TestHousekeepingStartStop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	svc := NewHousekeepingService(env.Store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
	svc.Start()
	svc.Stop()
}
