package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, token_fingerprint, access_token_id, client_id, user_id, scopes, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.TokenFingerprint,
		t.AccessTokenID,
		t.ClientID,
		mapOptionalString(t.UserID),
		joinScopes(t.Scopes),
		t.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByFingerprint(
	ctx context.Context,
	fingerprint string,
) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, token_fingerprint, access_token_id, client_id, user_id, scopes,
			expires_at, revoked_at, created_at
		 FROM refresh_tokens WHERE token_fingerprint = ?`, fingerprint)

	var (
		t         domain.RefreshToken
		userID    sql.NullString
		scopes    string
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.TokenFingerprint,
		&t.AccessTokenID,
		&t.ClientID,
		&userID,
		&scopes,
		&t.ExpiresAt,
		&revokedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.UserID = mapNullStringPtr(userID)
	t.Scopes = splitAndFilter(scopes)
	t.RevokedAt = mapNullTimePtr(revokedAt)
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = CURRENT_TIMESTAMP WHERE id = ? AND revoked_at IS NULL`,
		id)
	return err
}

func (r *refreshTokensRepo) RevokeRefreshTokensByAccessTokenID(ctx context.Context, accessTokenID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = CURRENT_TIMESTAMP
		 WHERE access_token_id = ? AND revoked_at IS NULL`,
		accessTokenID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now())
	return err
}
