package rbac

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// Permission is a single resource/action pair.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// String returns the "resource:action" form
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// PermissionMap maps a resource to the actions granted (or requested) on it.
type PermissionMap map[string][]string

// Has reports whether action is granted on resource.
func (pm PermissionMap) Has(resource, action string) bool {
	for _, a := range pm[resource] {
		if a == action {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (pm PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(pm))
	for resource, actions := range pm {
		out[resource] = append([]string(nil), actions...)
	}
	return out
}

// Union returns a new map holding every pair in pm or other. Action lists
// are deduplicated and put in catalog order, so the result does not depend
// on argument order.
func (pm PermissionMap) Union(other PermissionMap) PermissionMap {
	out := pm.Clone()
	for resource, actions := range other {
		out[resource] = append(out[resource], actions...)
	}
	return out.Normalize()
}

// Normalize deduplicates and orders every action list and drops resources
// left with no actions.
func (pm PermissionMap) Normalize() PermissionMap {
	out := make(PermissionMap, len(pm))
	for resource, actions := range pm {
		seen := make(map[string]bool, len(actions))
		unique := make([]string, 0, len(actions))
		for _, a := range actions {
			if !seen[a] {
				seen[a] = true
				unique = append(unique, a)
			}
		}
		if len(unique) == 0 {
			continue
		}
		sortActions(resource, unique)
		out[resource] = unique
	}
	return out
}

// Pairs lists every resource/action pair, ordered by resource then action.
func (pm PermissionMap) Pairs() []Permission {
	resources := make([]string, 0, len(pm))
	for resource := range pm {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	var pairs []Permission
	for _, resource := range resources {
		actions := append([]string(nil), pm[resource]...)
		sortActions(resource, actions)
		for _, action := range actions {
			pairs = append(pairs, Permission{Resource: resource, Action: action})
		}
	}
	return pairs
}

// Missing returns the pairs in required that pm does not grant.
func (pm PermissionMap) Missing(required PermissionMap) []Permission {
	var missing []Permission
	for _, p := range required.Pairs() {
		if !pm.Has(p.Resource, p.Action) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Covers reports whether pm grants every pair in required.
func (pm PermissionMap) Covers(required PermissionMap) bool {
	return len(pm.Missing(required)) == 0
}

// Value stores the map as a JSONB object.
func (pm PermissionMap) Value() (driver.Value, error) {
	if pm == nil {
		return "{}", nil
	}
	b, err := json.Marshal(pm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	// Text, not []byte: lib/pq sends byte slices as bytea.
	return string(b), nil
}

// Scan reads a JSONB object.
func (pm *PermissionMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*pm = PermissionMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into PermissionMap", src)
	}

	out := PermissionMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	*pm = out
	return nil
}

// sortActions orders actions by their position in the catalog for resource;
// actions the catalog does not know sort last, alphabetically.
func sortActions(resource string, actions []string) {
	rank := actionRank[resource]
	sort.SliceStable(actions, func(i, j int) bool {
		ri, iok := rank[actions[i]]
		rj, jok := rank[actions[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return actions[i] < actions[j]
		}
	})
}
