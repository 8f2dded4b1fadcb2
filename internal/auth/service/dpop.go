package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/pkg/dpopx"
	"github.com/lockplane/authd/pkg/slogx"
)

// DPoPService verifies RFC 9449 proofs and tracks consumed proof IDs in the
// store so a proof cannot be replayed, even across processes sharing the
// database.
type DPoPService struct {
	Store    store.Store
	Verifier *dpopx.Verifier

	// ProofTTL is how long a consumed jti stays in the replay table. Must
	// comfortably exceed the verifier's iat window.
	ProofTTL time.Duration
}

// VerifyProof validates the proof against the request method and URI and
// consumes its jti. Returns the key thumbprint the proof was signed with.
func (s *DPoPService) VerifyProof(ctx context.Context, proof, method, uri string) (string, error) {
	l := slogx.FromContext(ctx)

	res, err := s.Verifier.Verify(proof, method, uri)
	if err != nil {
		l.Info("rejected DPoP proof", slog.Any("error", err))
		return "", fmt.Errorf("%w: %v", ErrInvalidDPoPProof, err)
	}

	ttl := s.ProofTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	now := time.Now()
	err = s.Store.DPoPProofs().InsertProof(ctx, domain.DPoPProof{
		JTI:       res.JTI,
		JKT:       res.JKT,
		SeenAt:    now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			l.Warn("replayed DPoP proof", slog.String("jti", res.JTI))
			return "", fmt.Errorf("%w: proof replayed", ErrInvalidDPoPProof)
		}
		return "", err
	}

	return res.JKT, nil
}

// CheckBinding enforces the sender-constraint on a presented access token.
// Tokens without a stored thumbprint are plain bearer tokens and pass with
// no proof. Bound tokens need a fresh proof signed by the matching key and
// carrying the ath hash of exactly this token string.
func (s *DPoPService) CheckBinding(
	ctx context.Context,
	record *domain.AccessToken,
	proof, method, uri, accessToken string,
) error {
	if record.DPoPJKT == nil || *record.DPoPJKT == "" {
		return nil
	}
	if proof == "" {
		return fmt.Errorf("%w: token is DPoP-bound", ErrInvalidDPoPProof)
	}

	l := slogx.FromContext(ctx)

	res, err := s.Verifier.Verify(proof, method, uri)
	if err != nil {
		l.Info("rejected DPoP proof on bound token", slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrInvalidDPoPProof, err)
	}

	if subtle.ConstantTimeCompare([]byte(res.JKT), []byte(*record.DPoPJKT)) != 1 {
		l.Warn("DPoP key mismatch", slog.String("token_id", record.ID))
		return fmt.Errorf("%w: proof key does not match token binding", ErrInvalidDPoPProof)
	}

	// Resource-request proofs must hash the presented token (RFC 9449 §4.3).
	wantATH := dpopx.AccessTokenHash(accessToken)
	if subtle.ConstantTimeCompare([]byte(res.AccessTokenHash), []byte(wantATH)) != 1 {
		return fmt.Errorf("%w: ath claim missing or does not match token", ErrInvalidDPoPProof)
	}

	ttl := s.ProofTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	err = s.Store.DPoPProofs().InsertProof(ctx, domain.DPoPProof{
		JTI:       res.JTI,
		JKT:       res.JKT,
		SeenAt:    now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("%w: proof replayed", ErrInvalidDPoPProof)
		}
		return err
	}
	return nil
}
