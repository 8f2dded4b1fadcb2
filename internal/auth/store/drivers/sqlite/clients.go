package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
)

type clientsRepo struct {
	db dbtx
}

const clientColumns = `id, name, secret_hash, redirect_uris, allowed_scopes, allowed_grant_types,
	jwks, is_active, protected, created_at, updated_at`

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	redirectURIs, err := encodeJSON(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("encoding redirect_uris: %w", err)
	}
	allowedScopes, err := encodeJSON(c.AllowedScopes)
	if err != nil {
		return fmt.Errorf("encoding allowed_scopes: %w", err)
	}
	allowedGrants, err := encodeJSON(c.AllowedGrantTypes)
	if err != nil {
		return fmt.Errorf("encoding allowed_grant_types: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, secret_hash, redirect_uris, allowed_scopes, allowed_grant_types, jwks, is_active, protected)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.Name,
		mapOptionalString(c.SecretHash),
		redirectURIs,
		allowedScopes,
		allowedGrants,
		mapOptionalRawJSON(c.JWKS),
		c.IsActive,
		c.Protected,
	)
	return mapConstraint(err)
}

func (r *clientsRepo) SetClientActive(ctx context.Context, clientID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE clients SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		active, clientID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *clientsRepo) DeleteClient(ctx context.Context, clientID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM clients WHERE id = ? AND protected = 0`, clientID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *clientsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func scanClient(row scanner) (domain.Client, error) {
	var (
		c             domain.Client
		secretHash    sql.NullString
		redirectURIs  string
		allowedScopes string
		allowedGrants string
		jwks          sql.NullString
	)
	err := row.Scan(
		&c.ID,
		&c.Name,
		&secretHash,
		&redirectURIs,
		&allowedScopes,
		&allowedGrants,
		&jwks,
		&c.IsActive,
		&c.Protected,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	c.SecretHash = mapNullStringPtr(secretHash)
	if c.RedirectURIs, err = decodeJSON(redirectURIs); err != nil {
		return domain.Client{}, fmt.Errorf("decoding redirect_uris: %w", err)
	}
	if c.AllowedScopes, err = decodeJSON(allowedScopes); err != nil {
		return domain.Client{}, fmt.Errorf("decoding allowed_scopes: %w", err)
	}
	if c.AllowedGrantTypes, err = decodeJSON(allowedGrants); err != nil {
		return domain.Client{}, fmt.Errorf("decoding allowed_grant_types: %w", err)
	}
	c.JWKS = mapRawJSON(jwks)
	return c, nil
}

// requireAffected turns a zero-row UPDATE/DELETE into store.ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
