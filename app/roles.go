package app

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/domain/object"
	"github.com/mobibase/mobibase/ports"
)

// RoleService resolves the role names a user holds, including roles
// granted transitively through nested role membership. Results are
// memoized in the shared cache until a _Role write clears it.
type RoleService struct {
	storage ports.Storage
	cache   ports.CacheController
	logger  zerolog.Logger
}

// NewRoleService creates a role resolver.
func NewRoleService(storage ports.Storage, cacheStore ports.CacheController, logger zerolog.Logger) *RoleService {
	return &RoleService{storage: storage, cache: cacheStore, logger: logger}
}

// RolesFor returns the names of every role the user belongs to.
func (s *RoleService) RolesFor(ctx context.Context, userID string) ([]string, error) {
	if s.cache != nil {
		if names, ok := s.cache.GetRoles(userID); ok {
			return names, nil
		}
	}

	direct, err := s.storage.Find(ctx, ClassRole,
		object.Filter{}.Contains("users", userID), ports.ReadOptions{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	queue := make([]string, 0, len(direct))
	for _, role := range direct {
		name := object.String(role, "name")
		if name != "" && !seen[name] {
			seen[name] = true
			queue = append(queue, name)
		}
	}

	// Walk parent roles: a role containing role R grants R's members its
	// own name too.
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		parents, err := s.storage.Find(ctx, ClassRole,
			object.Filter{}.Contains("roles", name), ports.ReadOptions{})
		if err != nil {
			return nil, err
		}
		for _, parent := range parents {
			parentName := object.String(parent, "name")
			if parentName != "" && !seen[parentName] {
				seen[parentName] = true
				queue = append(queue, parentName)
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	if s.cache != nil {
		s.cache.PutRoles(userID, names)
	}
	return names, nil
}

// Ensure interface compliance.
var _ ports.RoleResolver = (*RoleService)(nil)
