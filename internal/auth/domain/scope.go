package domain

// Scope is one row of the scope registry. Rows are seeded by migration and
// read-only at runtime; the per-grant flags say which grant types may issue
// the scope.
type Scope struct {
	ID          string
	Name        string
	Description string

	IsAuthorizationCode    bool
	IsClientCredentials    bool
	IsPasswordClient       bool
	IsPersonalAccessClient bool
}

// AllowedForGrant reports whether the scope may be issued under grantType.
// The device flow follows the authorization-code eligibility since both are
// user-delegated; jwt-bearer follows client_credentials. Refresh is bounded
// by the original grant's scopes, so every scope passes here.
func (s *Scope) AllowedForGrant(grantType string) bool {
	switch grantType {
	case GrantAuthorizationCode, GrantDeviceCode:
		return s.IsAuthorizationCode
	case GrantClientCredentials, GrantJWTBearer:
		return s.IsClientCredentials
	case GrantRefreshToken:
		return true
	default:
		return false
	}
}
