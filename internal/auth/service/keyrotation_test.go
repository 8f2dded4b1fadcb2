package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/jwtx"
)

// newRotationKeyManager builds an in-memory manager for rotation tests.
// ES256 keeps key generation fast; RSABits only matters for the RS256 cases.
func newRotationKeyManager(t *testing.T, algorithm string, numKeys int) *jwtx.KeyManager {
	t.Helper()

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: algorithm,
		Issuer:    testIssuer,
		RSABits:   2048,
		NumKeys:   numKeys,
	})
	require.NoError(t, err)
	return km
}

func setRotationMasterKey(t *testing.T) {
	t.Helper()

	os.Setenv("AUTHD_MASTER_KEY", "rotation-master-key-for-tests")
	t.Cleanup(func() {
		os.Unsetenv("AUTHD_MASTER_KEY")
		cryptox.ResetMasterKeyForTesting()
	})
}

// newPersistentRotation wires a database-backed manager seeded with a single
// key, the same way the app boots in persistent mode.
func newPersistentRotation(t *testing.T) (*testEnv, *jwtx.KeyManager, *KeyRotationService) {
	t.Helper()

	env := newTestEnv(t)
	setRotationMasterKey(t)

	km, err := jwtx.NewPersistentKeyManager(context.Background(), jwtx.PersistentKeyManagerOptions{
		Store:     store.NewKeyStoreAdapter(env.Store),
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    testIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)

	svc := &KeyRotationService{
		Store:       env.Store,
		KeyManager:  km,
		Algorithm:   jwtx.AlgorithmES256,
		GracePeriod: 15 * 24 * time.Hour,
	}
	return env, km, svc
}

func TestRotateKeyEphemeral(t *testing.T) {
	ctx := context.Background()

	t.Run("adds a signer alongside", func(t *testing.T) {
		km := newRotationKeyManager(t, jwtx.AlgorithmES256, 1)
		svc := &KeyRotationService{KeyManager: km, Algorithm: jwtx.AlgorithmES256}
		origKid := km.GetSigners()[0].KID()

		resp, err := svc.RotateKey(ctx, RotateKeyRequest{})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(resp.NewKey.Kid, "authd-"))
		require.Equal(t, jwtx.AlgorithmES256, resp.NewKey.Algorithm)
		require.Empty(t, resp.NewKey.PrivateKeyEncrypted, "ephemeral keys never persist")
		require.Empty(t, resp.RetiredKeys)
		require.Equal(t, 2, resp.ActiveKeys)

		keys, err := svc.ListSigningKeys(ctx)
		require.NoError(t, err)
		kids := make([]string, len(keys))
		for i, k := range keys {
			kids[i] = k.Kid
		}
		require.ElementsMatch(t, []string{origKid, resp.NewKey.Kid}, kids)
	})

	t.Run("retires a single key without a signing gap", func(t *testing.T) {
		// Rotation from one key must not pass through a zero-key state.
		km := newRotationKeyManager(t, jwtx.AlgorithmES256, 1)
		svc := &KeyRotationService{KeyManager: km, Algorithm: jwtx.AlgorithmES256}
		origKid := km.GetSigners()[0].KID()

		resp, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true})
		require.NoError(t, err)
		require.Len(t, resp.RetiredKeys, 1)
		require.Equal(t, origKid, resp.RetiredKeys[0].Kid)
		require.NotNil(t, resp.RetiredKeys[0].RetiredAt)
		require.Equal(t, 1, resp.ActiveKeys)

		signers := km.GetSigners()
		require.Len(t, signers, 1)
		require.Equal(t, resp.NewKey.Kid, signers[0].KID())

		// Outstanding tokens signed by the retired key must keep verifying.
		_, err = km.KeySet.Get(origKid)
		require.NoError(t, err)
	})

	t.Run("retires every previous key", func(t *testing.T) {
		km := newRotationKeyManager(t, jwtx.AlgorithmES256, 3)
		svc := &KeyRotationService{KeyManager: km, Algorithm: jwtx.AlgorithmES256}

		resp, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true})
		require.NoError(t, err)
		require.Len(t, resp.RetiredKeys, 3)
		require.Equal(t, 1, resp.ActiveKeys)
		require.Equal(t, resp.NewKey.Kid, km.GetSigners()[0].KID())
	})
}

func TestRotateKeyAlgorithms(t *testing.T) {
	ctx := context.Background()

	for _, algorithm := range []string{jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA} {
		t.Run(algorithm, func(t *testing.T) {
			km := newRotationKeyManager(t, algorithm, 1)
			svc := &KeyRotationService{KeyManager: km, Algorithm: algorithm, RSABits: 2048}

			resp, err := svc.RotateKey(ctx, RotateKeyRequest{})
			require.NoError(t, err)
			require.Equal(t, algorithm, resp.NewKey.Algorithm)
			require.Equal(t, 2, resp.ActiveKeys)
		})
	}

	t.Run("unsupported algorithm", func(t *testing.T) {
		km := newRotationKeyManager(t, jwtx.AlgorithmES256, 1)
		svc := &KeyRotationService{KeyManager: km, Algorithm: jwtx.AlgorithmHS256}

		_, err := svc.RotateKey(ctx, RotateKeyRequest{})
		require.ErrorContains(t, err, "unsupported algorithm")
	})
}

func TestRotateKeyPersistent(t *testing.T) {
	ctx := context.Background()
	env, km, svc := newPersistentRotation(t)
	initialKid := km.GetSigners()[0].KID()

	keys, err := svc.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1, "startup should have seeded exactly one key")

	first, err := svc.RotateKey(ctx, RotateKeyRequest{})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first.NewKey.Kid, "authd-"))
	require.Empty(t, first.RetiredKeys)
	require.Equal(t, 2, first.ActiveKeys)
	require.WithinDuration(t, time.Now().Add(svc.GracePeriod), first.NewKey.ExpiresAt, time.Minute)

	// The stored row holds the real key material, encrypted under the
	// master key.
	stored, err := env.Store.SigningKeys().GetSigningKeyByKid(ctx, first.NewKey.Kid)
	require.NoError(t, err)
	require.NotEmpty(t, stored.PrivateKeyEncrypted)
	require.True(t, stored.IsActive(time.Now()))

	pemData, err := cryptox.DecryptPrivateKey(stored.PrivateKeyEncrypted)
	require.NoError(t, err)
	require.Contains(t, string(pemData), "PRIVATE KEY")

	second, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true})
	require.NoError(t, err)
	require.Len(t, second.RetiredKeys, 2)
	for _, k := range second.RetiredKeys {
		require.NotNil(t, k.RetiredAt)
	}
	require.Equal(t, 1, second.ActiveKeys)
	require.Equal(t, second.NewKey.Kid, km.GetSigners()[0].KID())

	active, err := env.Store.SigningKeys().ListActiveSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, second.NewKey.Kid, active[0].Kid)

	all, err := svc.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Retired keys stay in the keyset for the grace period.
	_, err = km.KeySet.Get(initialKid)
	require.NoError(t, err)
}

func TestRetireKeyEphemeral(t *testing.T) {
	ctx := context.Background()
	km := newRotationKeyManager(t, jwtx.AlgorithmES256, 2)
	svc := &KeyRotationService{KeyManager: km, Algorithm: jwtx.AlgorithmES256}

	signers := km.GetSigners()
	firstKid, secondKid := signers[0].KID(), signers[1].KID()

	err := svc.RetireKey(ctx, "authd-no-such-key")
	require.ErrorContains(t, err, "not found")

	require.NoError(t, svc.RetireKey(ctx, firstKid))
	require.Equal(t, 1, km.NumSigners())

	_, err = km.KeySet.Get(firstKid)
	require.NoError(t, err, "retired key should keep verifying")

	keys, err := svc.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, secondKid, keys[0].Kid)

	err = svc.RetireKey(ctx, secondKid)
	require.ErrorContains(t, err, "cannot retire the last signing key")
}

func TestRetireKeyPersistent(t *testing.T) {
	ctx := context.Background()
	env, km, svc := newPersistentRotation(t)
	initialKid := km.GetSigners()[0].KID()

	rotated, err := svc.RotateKey(ctx, RotateKeyRequest{})
	require.NoError(t, err)

	require.NoError(t, svc.RetireKey(ctx, initialKid))

	row, err := env.Store.SigningKeys().GetSigningKeyByKid(ctx, initialKid)
	require.NoError(t, err)
	require.NotNil(t, row.RetiredAt)

	signers := km.GetSigners()
	require.Len(t, signers, 1)
	require.Equal(t, rotated.NewKey.Kid, signers[0].KID())

	err = svc.RetireKey(ctx, initialKid)
	require.ErrorContains(t, err, "already retired")

	err = svc.RetireKey(ctx, "authd-no-such-key")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestKeyRotationRequiresManager(t *testing.T) {
	ctx := context.Background()
	svc := &KeyRotationService{Algorithm: jwtx.AlgorithmES256}

	_, err := svc.RotateKey(ctx, RotateKeyRequest{})
	require.ErrorContains(t, err, "key manager is required")

	err = svc.RetireKey(ctx, "authd-any")
	require.ErrorContains(t, err, "key manager is required")

	_, err = svc.ListSigningKeys(ctx)
	require.ErrorContains(t, err, "key manager is required")
}
