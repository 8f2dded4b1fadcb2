package sqlite

import (
	"context"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
)

type dpopProofsRepo struct {
	db dbtx
}

// InsertProof relies on the jti primary key: a replayed proof trips the
// constraint and surfaces as store.ErrAlreadyExists.
func (r *dpopProofsRepo) InsertProof(ctx context.Context, p domain.DPoPProof) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dpop_proofs (jti, jkt, seen_at, expires_at) VALUES (?, ?, ?, ?)`,
		p.JTI,
		p.JKT,
		p.SeenAt,
		p.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *dpopProofsRepo) DeleteExpiredProofs(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM dpop_proofs WHERE expires_at < ?`, time.Now())
	return err
}
