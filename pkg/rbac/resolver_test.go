package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionResolver_EffectivePermissions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	_, err := store.Create(ctx, "org_1", "task-doer", PermissionMap{"task": {"read", "complete"}})
	require.NoError(t, err)
	resolver := NewPermissionResolver(store)

	t.Run("built-in role", func(t *testing.T) {
		perms, err := resolver.EffectivePermissions(ctx, RoleEmployee, "org_1")
		require.NoError(t, err)
		want, _ := BuiltInPermissions(RoleEmployee)
		assert.Equal(t, want, perms)
	})

	t.Run("custom role", func(t *testing.T) {
		perms, err := resolver.EffectivePermissions(ctx, "task-doer", "org_1")
		require.NoError(t, err)
		assert.Equal(t, PermissionMap{"task": {"read", "complete"}}, perms)
	})

	t.Run("custom role from another organization", func(t *testing.T) {
		perms, err := resolver.EffectivePermissions(ctx, "task-doer", "org_2")
		require.NoError(t, err)
		assert.Empty(t, perms)
	})

	t.Run("unknown role grants nothing", func(t *testing.T) {
		perms, err := resolver.EffectivePermissions(ctx, "ghost", "org_1")
		require.NoError(t, err)
		assert.NotNil(t, perms)
		assert.Empty(t, perms)
	})

	t.Run("built-in names are exact", func(t *testing.T) {
		perms, err := resolver.EffectivePermissions(ctx, "Owner", "org_1")
		require.NoError(t, err)
		assert.Empty(t, perms)
	})
}

func TestPermissionResolver_BuiltInsSkipStore(t *testing.T) {
	store := newMemStore()
	store.findErr = errStoreDown
	resolver := NewPermissionResolver(store)

	perms, err := resolver.EffectivePermissions(context.Background(), RoleOwner, "org_1")
	require.NoError(t, err)
	assert.True(t, perms.Has(ResourceOrganization, ActionDelete))

	_, err = resolver.EffectivePermissions(context.Background(), "task-doer", "org_1")
	assert.ErrorIs(t, err, errStoreDown)
	assert.Contains(t, err.Error(), `"task-doer"`)
}

func TestPermissionResolver_CombinedPermissions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	_, err := store.Create(ctx, "org_1", "risk-reader", PermissionMap{"risk": {"read"}, "task": {"read", "assign"}})
	require.NoError(t, err)
	resolver := NewPermissionResolver(store)

	combined, err := resolver.CombinedPermissions(ctx, []string{RoleContractor, "risk-reader", "ghost", ""}, "org_1")
	require.NoError(t, err)
	assert.True(t, combined.Has("risk", "read"))
	assert.True(t, combined.Has("task", "assign"))
	assert.True(t, combined.Has("task", "complete"))
	assert.Equal(t, []string{"read", "assign", "complete"}, combined["task"])

	reversed, err := resolver.CombinedPermissions(ctx, []string{"", "ghost", "risk-reader", RoleContractor, RoleContractor}, "org_1")
	require.NoError(t, err)
	assert.Equal(t, combined, reversed)

	none, err := resolver.CombinedPermissions(ctx, nil, "org_1")
	require.NoError(t, err)
	assert.Empty(t, none)

	store.findErr = errStoreDown
	_, err = resolver.CombinedPermissions(ctx, []string{RoleAdmin, "risk-reader"}, "org_1")
	assert.ErrorIs(t, err, errStoreDown)
}
