package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
)

type mfaSessionsRepo struct {
	db dbtx
}

const mfaSessionColumns = `id, user_id, client_id, redirect_uri, scopes, state, nonce,
	code_challenge, code_challenge_method, authorization_details, amr, attempts, expires_at, created_at`

func (r *mfaSessionsRepo) CreateMFASession(ctx context.Context, session domain.MFASession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mfa_sessions (id, user_id, client_id, redirect_uri, scopes, state, nonce,
			code_challenge, code_challenge_method, authorization_details, amr, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.ClientID,
		session.RedirectURI,
		joinScopes(session.Scopes),
		session.State,
		session.Nonce,
		session.CodeChallenge,
		session.CodeChallengeMethod,
		mapOptionalRawJSON(session.AuthorizationDetails),
		joinScopes(session.AMR),
		session.ExpiresAt,
	)
	return mapConstraint(err)
}

// GetMFASession returns the session only while it is still live; expired
// sessions are indistinguishable from absent ones.
func (r *mfaSessionsRepo) GetMFASession(ctx context.Context, mfaToken string) (domain.MFASession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mfaSessionColumns+` FROM mfa_sessions
		 WHERE id = ? AND expires_at > ?`, mfaToken, time.Now())
	return scanMFASession(row)
}

func (r *mfaSessionsRepo) IncrementMFASessionAttempts(
	ctx context.Context,
	mfaToken string,
) (domain.MFASession, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE mfa_sessions SET attempts = attempts + 1
		 WHERE id = ?
		 RETURNING `+mfaSessionColumns, mfaToken)
	return scanMFASession(row)
}

func (r *mfaSessionsRepo) DeleteMFASession(ctx context.Context, mfaToken string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_sessions WHERE id = ?`, mfaToken)
	return err
}

func (r *mfaSessionsRepo) DeleteExpiredMFASessions(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_sessions WHERE expires_at < ?`, time.Now())
	return err
}

func scanMFASession(row scanner) (domain.MFASession, error) {
	var (
		s       domain.MFASession
		scopes  string
		details sql.NullString
		amr     string
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ClientID,
		&s.RedirectURI,
		&scopes,
		&s.State,
		&s.Nonce,
		&s.CodeChallenge,
		&s.CodeChallengeMethod,
		&details,
		&amr,
		&s.Attempts,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	if err != nil {
		return domain.MFASession{}, mapNotFound(err)
	}
	s.Scopes = splitAndFilter(scopes)
	s.AuthorizationDetails = mapRawJSON(details)
	s.AMR = splitAndFilter(amr)
	return s, nil
}
