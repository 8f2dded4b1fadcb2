package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/idx"
	"github.com/lockplane/authd/pkg/jwtx"
)

// DefaultKeyGracePeriod is how long a retired signing key stays in the JWKS
// for verification before it can be deleted.
const DefaultKeyGracePeriod = 30 * 24 * time.Hour

// KeyRotationService rotates and retires the asymmetric signing keys used for
// ID tokens and the JWKS document.
//
// With Store == nil the service runs in ephemeral mode: new keys live only in
// the KeyManager and retired keys stay verifiable until the process restarts.
// With a Store, keys are encrypted and persisted, and retired keys remain
// verifiable for the grace period across restarts.
type KeyRotationService struct {
	Store       store.Store // nil for ephemeral mode
	KeyManager  *jwtx.KeyManager
	Algorithm   string
	RSABits     int
	GracePeriod time.Duration
}

// RotateKeyRequest controls a rotation.
type RotateKeyRequest struct {
	// RetireExisting marks the current active keys as retired. When false the
	// new key signs alongside the existing ones.
	RetireExisting bool
}

// RotateKeyResponse reports the outcome of a rotation.
type RotateKeyResponse struct {
	NewKey      domain.SigningKey   `json:"new_key"`
	RetiredKeys []domain.SigningKey `json:"retired_keys,omitempty"`
	ActiveKeys  int                 `json:"active_keys"`
}

// RotateKey generates a fresh key pair, registers it as a signer and
// optionally retires the keys that were active before the call. Tokens signed
// by a retired key keep verifying until the key ages out of the JWKS.
func (s *KeyRotationService) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	if s.KeyManager == nil {
		return nil, fmt.Errorf("key manager is required")
	}

	kid, err := generateRandomKeyID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key ID: %w", err)
	}

	var pemData []byte
	switch s.Algorithm {
	case jwtx.AlgorithmRS256:
		rsaBits := s.RSABits
		if rsaBits == 0 {
			rsaBits = 4096
		}
		pemData, err = cryptox.GenerateRSAKey(rsaBits)
	case jwtx.AlgorithmES256:
		pemData, err = cryptox.GenerateES256Key()
	case jwtx.AlgorithmEdDSA:
		pemData, err = cryptox.GenerateEd25519Key()
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", s.Algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	var signer jwtx.Signer
	switch s.Algorithm {
	case jwtx.AlgorithmRS256:
		signer, err = jwtx.NewSignerRS256(kid, pemData)
	case jwtx.AlgorithmES256:
		signer, err = jwtx.NewSignerES256(kid, pemData)
	case jwtx.AlgorithmEdDSA:
		signer, err = jwtx.NewSignerEdDSA(kid, pemData)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	now := time.Now()
	gracePeriod := s.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = DefaultKeyGracePeriod
	}

	var retiredKeys []domain.SigningKey
	var newKey domain.SigningKey

	if s.Store != nil {
		encryptedKey, err := cryptox.EncryptPrivateKey(pemData)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt private key: %w", err)
		}

		newKey = domain.SigningKey{
			ID:                  idx.New().String(),
			Kid:                 kid,
			Algorithm:           s.Algorithm,
			PrivateKeyEncrypted: encryptedKey,
			CreatedAt:           now,
			ExpiresAt:           now.Add(gracePeriod),
		}

		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, newKey); err != nil {
				return fmt.Errorf("failed to create new signing key: %w", err)
			}

			if !req.RetireExisting {
				return nil
			}

			activeKeys, err := tx.SigningKeys().ListActiveSigningKeys(ctx)
			if err != nil {
				return fmt.Errorf("failed to list active keys: %w", err)
			}

			for _, key := range activeKeys {
				if key.Kid == newKey.Kid {
					continue
				}
				if err := tx.SigningKeys().RetireSigningKey(ctx, key.Kid); err != nil {
					return fmt.Errorf("failed to retire key %s: %w", key.Kid, err)
				}
				key.RetiredAt = &now
				retiredKeys = append(retiredKeys, key)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		newKey = domain.SigningKey{
			Kid:       kid,
			Algorithm: s.Algorithm,
			CreatedAt: now,
		}

		if req.RetireExisting {
			for _, current := range s.KeyManager.GetSigners() {
				retiredKeys = append(retiredKeys, domain.SigningKey{
					Kid:       current.KID(),
					Algorithm: s.Algorithm,
					RetiredAt: &now,
				})
			}
		}
	}

	if err := s.KeyManager.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("failed to add signer to key manager: %w", err)
	}

	// In-memory retirement happens after the new signer is registered, so
	// the manager never drops to zero active keys, and after the commit, so
	// a rollback leaves it untouched. A retired key may predate this process
	// and not be loaded, which is fine.
	for _, key := range retiredKeys {
		_ = s.KeyManager.RetireSignerByKid(key.Kid)
	}

	return &RotateKeyResponse{
		NewKey:      newKey,
		RetiredKeys: retiredKeys,
		ActiveKeys:  s.KeyManager.NumSigners(),
	}, nil
}

// ListSigningKeys returns every signing key with its status. Persistent mode
// reads from the database; ephemeral mode reflects the KeyManager's signers.
func (s *KeyRotationService) ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	if s.Store != nil {
		return s.Store.SigningKeys().ListAllSigningKeys(ctx)
	}

	if s.KeyManager == nil {
		return nil, fmt.Errorf("key manager is required")
	}

	signers := s.KeyManager.GetSigners()
	keys := make([]domain.SigningKey, len(signers))
	for i, signer := range signers {
		keys[i] = domain.SigningKey{
			Kid:       signer.KID(),
			Algorithm: s.Algorithm,
		}
	}
	return keys, nil
}

// RetireKey retires one key without minting a replacement. The key keeps
// verifying existing tokens until the grace period ends (persistent mode) or
// the process restarts (ephemeral mode).
func (s *KeyRotationService) RetireKey(ctx context.Context, kid string) error {
	if s.KeyManager == nil {
		return fmt.Errorf("key manager is required")
	}

	if s.Store == nil {
		if err := s.KeyManager.RetireSignerByKid(kid); err != nil {
			return fmt.Errorf("failed to retire key: %w", err)
		}
		return nil
	}

	key, err := s.Store.SigningKeys().GetSigningKeyByKid(ctx, kid)
	if err != nil {
		return fmt.Errorf("failed to get key: %w", err)
	}
	if key.RetiredAt != nil {
		return fmt.Errorf("key %s is already retired", kid)
	}

	if err := s.Store.SigningKeys().RetireSigningKey(ctx, kid); err != nil {
		return fmt.Errorf("failed to retire key: %w", err)
	}

	// The signer may not be loaded in this process.
	_ = s.KeyManager.RetireSignerByKid(kid)

	return nil
}

func generateRandomKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("failed to generate random key ID: %w", err)
	}
	return fmt.Sprintf("authd-%s", token), nil
}
