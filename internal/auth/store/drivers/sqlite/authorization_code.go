package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
)

type authorizationCodesRepo struct {
	db dbtx
}

func (r *authorizationCodesRepo) CreateAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authorization_codes (id, code_fingerprint, client_id, user_id, redirect_uri,
			scopes, code_challenge, code_challenge_method, nonce, authorization_details, amr, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.ID,
		code.CodeFingerprint,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		joinScopes(code.Scopes),
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Nonce,
		mapOptionalRawJSON(code.AuthorizationDetails),
		joinScopes(code.AMR),
		code.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *authorizationCodesRepo) GetAuthorizationCodeByFingerprint(
	ctx context.Context,
	fingerprint string,
) (domain.AuthorizationCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, code_fingerprint, client_id, user_id, redirect_uri, scopes,
			code_challenge, code_challenge_method, nonce, authorization_details, amr,
			expires_at, used_at, created_at
		 FROM authorization_codes WHERE code_fingerprint = ?`, fingerprint)

	var (
		c       domain.AuthorizationCode
		scopes  string
		details sql.NullString
		amr     string
		usedAt  sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.CodeFingerprint,
		&c.ClientID,
		&c.UserID,
		&c.RedirectURI,
		&scopes,
		&c.CodeChallenge,
		&c.CodeChallengeMethod,
		&c.Nonce,
		&details,
		&amr,
		&c.ExpiresAt,
		&usedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return domain.AuthorizationCode{}, mapNotFound(err)
	}
	c.Scopes = splitAndFilter(scopes)
	c.AuthorizationDetails = mapRawJSON(details)
	c.AMR = splitAndFilter(amr)
	c.UsedAt = mapNullTimePtr(usedAt)
	return c, nil
}

// MarkAuthorizationCodeUsed consumes the code. The WHERE guard on used_at
// means only one of two racing redemptions sees a row update; the loser gets
// ErrNotFound.
func (r *authorizationCodesRepo) MarkAuthorizationCodeUsed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE authorization_codes SET used_at = CURRENT_TIMESTAMP WHERE id = ? AND used_at IS NULL`,
		id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *authorizationCodesRepo) DeleteExpiredAuthorizationCodes(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE expires_at < ?`, time.Now())
	return err
}
