package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lockplane/authd/internal/auth/domain"
)

type deviceCodesRepo struct {
	db dbtx
}

const deviceCodeColumns = `id, device_code_fingerprint, user_code, client_id, scopes, user_id,
	denied, expires_at, interval_seconds, last_polled_at, created_at`

func (r *deviceCodesRepo) CreateDeviceCode(ctx context.Context, d domain.DeviceCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_codes (id, device_code_fingerprint, user_code, client_id, scopes, expires_at, interval_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.DeviceCodeFingerprint,
		d.UserCode,
		d.ClientID,
		joinScopes(d.Scopes),
		d.ExpiresAt,
		d.IntervalSeconds,
	)
	return mapConstraint(err)
}

func (r *deviceCodesRepo) GetDeviceCodeByFingerprint(
	ctx context.Context,
	fingerprint string,
) (domain.DeviceCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceCodeColumns+` FROM device_codes WHERE device_code_fingerprint = ?`,
		fingerprint)
	return scanDeviceCode(row)
}

func (r *deviceCodesRepo) GetDeviceCodeByUserCode(
	ctx context.Context,
	userCode string,
) (domain.DeviceCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceCodeColumns+` FROM device_codes WHERE user_code = ?`, userCode)
	return scanDeviceCode(row)
}

// ApproveDeviceCode only succeeds while the row is still pending. A second
// approval, a denial racing an approval, or an expired row all return
// ErrNotFound.
func (r *deviceCodesRepo) ApproveDeviceCode(ctx context.Context, id string, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE device_codes SET user_id = ?
		 WHERE id = ? AND user_id IS NULL AND denied = 0 AND expires_at > ?`,
		userID, id, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *deviceCodesRepo) DenyDeviceCode(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE device_codes SET denied = 1
		 WHERE id = ? AND user_id IS NULL AND denied = 0 AND expires_at > ?`,
		id, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *deviceCodesRepo) UpdateLastPolledAt(ctx context.Context, id string, t time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_codes SET last_polled_at = ? WHERE id = ?`, t, id)
	return err
}

func (r *deviceCodesRepo) DeleteDeviceCode(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM device_codes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *deviceCodesRepo) DeleteExpiredDeviceCodes(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM device_codes WHERE expires_at < ?`, time.Now())
	return err
}

func scanDeviceCode(row scanner) (domain.DeviceCode, error) {
	var (
		d            domain.DeviceCode
		scopes       string
		userID       sql.NullString
		lastPolledAt sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.DeviceCodeFingerprint,
		&d.UserCode,
		&d.ClientID,
		&scopes,
		&userID,
		&d.Denied,
		&d.ExpiresAt,
		&d.IntervalSeconds,
		&lastPolledAt,
		&d.CreatedAt,
	)
	if err != nil {
		return domain.DeviceCode{}, mapNotFound(err)
	}
	d.Scopes = splitAndFilter(scopes)
	d.UserID = mapNullStringPtr(userID)
	d.LastPolledAt = mapNullTimePtr(lastPolledAt)
	return d, nil
}
