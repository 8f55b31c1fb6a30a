package rbac

import (
	"context"
	"fmt"
)

// RoleFinder looks up custom roles by name.
type RoleFinder interface {
	FindByName(ctx context.Context, orgID, name string) (*Role, error)
}

// PermissionResolver computes what a set of role names grants in an
// organization. It reads current state on every call.
type PermissionResolver struct {
	roles RoleFinder
}

// NewPermissionResolver creates a resolver backed by roles.
func NewPermissionResolver(roles RoleFinder) *PermissionResolver {
	return &PermissionResolver{roles: roles}
}

// EffectivePermissions returns what one role grants. Built-in roles never
// touch the store. An unknown custom role grants nothing.
func (pr *PermissionResolver) EffectivePermissions(ctx context.Context, roleName, orgID string) (PermissionMap, error) {
	if perms, ok := BuiltInPermissions(roleName); ok {
		return perms, nil
	}

	role, err := pr.roles.FindByName(ctx, orgID, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}
	if role == nil {
		return PermissionMap{}, nil
	}
	return role.Permissions.Normalize(), nil
}

// CombinedPermissions returns the union of every role's permissions.
// Duplicate names are resolved once; order does not matter.
func (pr *PermissionResolver) CombinedPermissions(ctx context.Context, roleNames []string, orgID string) (PermissionMap, error) {
	combined := PermissionMap{}
	seen := make(map[string]bool, len(roleNames))
	for _, name := range roleNames {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		perms, err := pr.EffectivePermissions(ctx, name, orgID)
		if err != nil {
			return nil, err
		}
		combined = combined.Union(perms)
	}
	return combined, nil
}
