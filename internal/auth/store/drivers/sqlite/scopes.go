package sqlite

import (
	"context"

	"github.com/lockplane/authd/internal/auth/domain"
)

type scopesRepo struct {
	db dbtx
}

func (r *scopesRepo) ListScopes(ctx context.Context) ([]domain.Scope, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, is_authorization_code, is_client_credentials,
			is_password_client, is_personal_access_client
		 FROM scopes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []domain.Scope
	for rows.Next() {
		var s domain.Scope
		if err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Description,
			&s.IsAuthorizationCode,
			&s.IsClientCredentials,
			&s.IsPasswordClient,
			&s.IsPersonalAccessClient,
		); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}
