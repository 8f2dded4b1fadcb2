package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
)

type accessTokensRepo struct {
	db dbtx
}

func (r *accessTokensRepo) CreateAccessToken(ctx context.Context, t domain.AccessToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_tokens (id, client_id, user_id, scopes, authorization_details, dpop_jkt, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.ClientID,
		mapOptionalString(t.UserID),
		joinScopes(t.Scopes),
		mapOptionalRawJSON(t.AuthorizationDetails),
		mapOptionalString(t.DPoPJKT),
		t.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *accessTokensRepo) GetAccessTokenByID(ctx context.Context, id string) (domain.AccessToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, client_id, user_id, scopes, authorization_details, dpop_jkt,
			expires_at, revoked_at, created_at
		 FROM access_tokens WHERE id = ?`, id)

	var (
		t         domain.AccessToken
		userID    sql.NullString
		scopes    string
		details   sql.NullString
		dpopJKT   sql.NullString
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.ClientID,
		&userID,
		&scopes,
		&details,
		&dpopJKT,
		&t.ExpiresAt,
		&revokedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return domain.AccessToken{}, mapNotFound(err)
	}
	t.UserID = mapNullStringPtr(userID)
	t.Scopes = splitAndFilter(scopes)
	t.AuthorizationDetails = mapRawJSON(details)
	t.DPoPJKT = mapNullStringPtr(dpopJKT)
	t.RevokedAt = mapNullTimePtr(revokedAt)
	return t, nil
}

func (r *accessTokensRepo) RevokeAccessToken(ctx context.Context, id string) error {
	// Revoking an already-revoked token keeps the original timestamp.
	_, err := r.db.ExecContext(ctx,
		`UPDATE access_tokens SET revoked_at = CURRENT_TIMESTAMP WHERE id = ? AND revoked_at IS NULL`,
		id)
	return err
}

func (r *accessTokensRepo) DeleteExpiredAccessTokens(ctx context.Context) error {
	// Go-bound timestamps are stored as integers, so the cutoff must be
	// bound the same way rather than compared to CURRENT_TIMESTAMP text.
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE expires_at < ?`, time.Now())
	return err
}
