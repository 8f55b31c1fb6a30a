package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionMap_Union(t *testing.T) {
	a := PermissionMap{"task": {"complete", "read"}, "policy": {"read"}}
	b := PermissionMap{"task": {"read", "assign"}, "risk": {"assess"}}

	ab := a.Union(b)
	assert.Equal(t, PermissionMap{
		"task":   {"read", "assign", "complete"},
		"policy": {"read"},
		"risk":   {"assess"},
	}, ab)

	assert.Equal(t, ab, b.Union(a), "union is commutative")
	assert.Equal(t, ab, ab.Union(a), "union is idempotent")
	assert.Equal(t, a.Normalize(), a.Union(nil))

	// Inputs are not modified.
	assert.Equal(t, []string{"complete", "read"}, a["task"])
}

func TestPermissionMap_Normalize(t *testing.T) {
	pm := PermissionMap{
		"task":    {"complete", "read", "complete"},
		"policy":  {},
		"unknown": {"zeta", "alpha"},
	}
	assert.Equal(t, PermissionMap{
		"task":    {"read", "complete"},
		"unknown": {"alpha", "zeta"},
	}, pm.Normalize())
}

func TestPermissionMap_Missing(t *testing.T) {
	held := PermissionMap{"task": {"read", "complete"}, "evidence": {"read"}}

	assert.Empty(t, held.Missing(PermissionMap{"task": {"read"}}))
	assert.True(t, held.Covers(PermissionMap{}))
	assert.True(t, held.Covers(PermissionMap{"task": {"complete", "read"}}))

	missing := held.Missing(PermissionMap{"task": {"read", "delete"}, "audit": {"read"}})
	assert.Equal(t, []Permission{
		{Resource: "audit", Action: "read"},
		{Resource: "task", Action: "delete"},
	}, missing)
	assert.Equal(t, "audit:read", missing[0].String())
}

func TestPermissionMap_Pairs(t *testing.T) {
	pm := PermissionMap{"task": {"complete", "read"}, "evidence": {"upload"}}
	assert.Equal(t, []Permission{
		{Resource: "evidence", Action: "upload"},
		{Resource: "task", Action: "read"},
		{Resource: "task", Action: "complete"},
	}, pm.Pairs())
	assert.Empty(t, PermissionMap{}.Pairs())
}

func TestPermissionMap_ValueScan(t *testing.T) {
	pm := PermissionMap{"task": {"read"}}

	v, err := pm.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"task":["read"]}`, v)

	v, err = PermissionMap(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	var scanned PermissionMap
	require.NoError(t, scanned.Scan([]byte(`{"evidence":["upload","read"]}`)))
	assert.Equal(t, PermissionMap{"evidence": {"upload", "read"}}, scanned)

	require.NoError(t, scanned.Scan(`{"task":["read"]}`))
	assert.Equal(t, pm, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Equal(t, PermissionMap{}, scanned)

	assert.Error(t, scanned.Scan(42))
	assert.Error(t, scanned.Scan([]byte(`not json`)))
}
