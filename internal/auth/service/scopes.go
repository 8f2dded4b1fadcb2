package service

import (
	"context"
	"slices"
	"sync"

	"github.com/lockplane/authd/internal/auth/domain"
	"github.com/lockplane/authd/internal/auth/store"
)

// ScopeService filters requested scopes down to what the server supports
// for a grant type and what the client is allowed to ask for. The registry
// is seeded by migration and never changes at runtime, so it is loaded once
// and cached for the life of the process.
type ScopeService struct {
	Store store.Store

	once    sync.Once
	byName  map[string]domain.Scope
	loadErr error
}

func (s *ScopeService) registry(ctx context.Context) (map[string]domain.Scope, error) {
	s.once.Do(func() {
		scopes, err := s.Store.Scopes().ListScopes(ctx)
		if err != nil {
			s.loadErr = err
			return
		}
		s.byName = make(map[string]domain.Scope, len(scopes))
		for _, sc := range scopes {
			s.byName[sc.Name] = sc
		}
	})
	return s.byName, s.loadErr
}

// Filter intersects the requested scopes with the registry entries eligible
// for grantType and with the client's allowed_scopes. Unknown and
// ineligible names are dropped silently; order follows the request and
// duplicates collapse. An empty request filters to an empty result, and the
// caller decides whether that means "default scopes" or invalid_scope.
func (s *ScopeService) Filter(
	ctx context.Context,
	requested []string,
	client domain.Client,
	grantType string,
) ([]string, error) {
	reg, err := s.registry(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		entry, ok := reg[name]
		if !ok || !entry.AllowedForGrant(grantType) {
			continue
		}
		if !client.AllowsScope(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// Defaults returns the client's full allowed scope set filtered for the
// grant type. Used when a token request names no scopes at all.
func (s *ScopeService) Defaults(ctx context.Context, client domain.Client, grantType string) ([]string, error) {
	return s.Filter(ctx, client.AllowedScopes, client, grantType)
}

// Supported lists every registered scope name, for the discovery document's
// scopes_supported member.
func (s *ScopeService) Supported(ctx context.Context) ([]string, error) {
	reg, err := s.registry(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(reg))
	for name := range reg {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
