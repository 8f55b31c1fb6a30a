package rbac

import (
	"fmt"
	"strings"
)

// Built-in role names
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleAuditor    = "auditor"
	RoleEmployee   = "employee"
	RoleContractor = "contractor"
)

// ResourceAccessControl guards role management itself. Owner and admin hold
// it; it is absent from ValidResources so no custom role can grant it.
const ResourceAccessControl = "ac"

// Resource names that carry special rules.
const (
	ResourceOrganization = "organization"
	ActionDelete         = "delete"
)

type resourceDef struct {
	name    string
	actions []string
}

// catalog is the complete resource/action vocabulary, in display order.
var catalog = []resourceDef{
	{"organization", []string{"read", "update", "delete"}},
	{"member", []string{"create", "read", "update", "delete"}},
	{"invitation", []string{"create", "read", "delete"}},
	{"control", []string{"create", "read", "update", "delete", "assign", "export"}},
	{"evidence", []string{"create", "read", "update", "delete", "upload", "export"}},
	{"policy", []string{"create", "read", "update", "delete", "publish", "approve", "assign", "export"}},
	{"risk", []string{"create", "read", "update", "delete", "assess", "export"}},
	{"vendor", []string{"create", "read", "update", "delete", "assess", "export"}},
	{"task", []string{"create", "read", "update", "delete", "assign", "complete", "export"}},
	{"framework", []string{"create", "read", "update", "delete"}},
	{"audit", []string{"create", "read", "update", "export"}},
	{"finding", []string{"create", "read", "update", "delete", "export"}},
	{"questionnaire", []string{"create", "read", "update", "delete", "respond", "export"}},
	{"integration", []string{"create", "read", "update", "delete"}},
	{"apiKey", []string{"create", "read", "delete"}},
	{"app", []string{"read"}},
	{"trust", []string{"read", "update"}},
}

var accessControlActions = []string{"create", "read", "update", "delete"}

var builtInRoleNames = []string{RoleOwner, RoleAdmin, RoleAuditor, RoleEmployee, RoleContractor}

var builtInDescriptions = map[string]string{
	RoleOwner:      "Full access to the organization, including deleting it",
	RoleAdmin:      "Full access except deleting the organization",
	RoleAuditor:    "Read and export compliance data; record findings",
	RoleEmployee:   "Complete assigned tasks, upload evidence and respond to questionnaires",
	RoleContractor: "Complete assigned tasks and upload evidence",
}

var (
	validResources     PermissionMap
	actionRank         map[string]map[string]int
	builtInPermissions map[string]PermissionMap
)

func init() {
	validResources = make(PermissionMap, len(catalog))
	actionRank = make(map[string]map[string]int, len(catalog)+1)
	for _, def := range catalog {
		validResources[def.name] = def.actions
		actionRank[def.name] = rankOf(def.actions)
	}
	actionRank[ResourceAccessControl] = rankOf(accessControlActions)

	owner := validResources.Clone()
	owner[ResourceAccessControl] = append([]string(nil), accessControlActions...)

	admin := owner.Clone()
	admin[ResourceOrganization] = []string{"read", "update"}

	auditor := PermissionMap{
		"organization":  {"read"},
		"member":        {"read"},
		"control":       {"read", "export"},
		"evidence":      {"read", "export"},
		"policy":        {"read", "export"},
		"risk":          {"read", "export"},
		"vendor":        {"read", "export"},
		"task":          {"read", "export"},
		"framework":     {"read"},
		"audit":         {"read", "export"},
		"finding":       {"create", "read", "update", "export"},
		"questionnaire": {"read", "export"},
		"trust":         {"read"},
	}

	employee := PermissionMap{
		"task":          {"read", "complete"},
		"evidence":      {"read", "upload"},
		"policy":        {"read"},
		"questionnaire": {"read", "respond"},
		"trust":         {"read", "update"},
	}

	contractor := employee.Clone()
	delete(contractor, "questionnaire")

	builtInPermissions = map[string]PermissionMap{
		RoleOwner:      owner.Normalize(),
		RoleAdmin:      admin.Normalize(),
		RoleAuditor:    auditor.Normalize(),
		RoleEmployee:   employee.Normalize(),
		RoleContractor: contractor.Normalize(),
	}
}

func rankOf(actions []string) map[string]int {
	rank := make(map[string]int, len(actions))
	for i, a := range actions {
		rank[a] = i
	}
	return rank
}

// ValidResources returns every resource a custom role may grant and the
// actions allowed on each. The result is a copy.
func ValidResources() PermissionMap {
	return validResources.Clone()
}

// ResourceNames returns the catalog's resources in display order.
func ResourceNames() []string {
	names := make([]string, len(catalog))
	for i, def := range catalog {
		names[i] = def.name
	}
	return names
}

// IsBuiltInRole reports whether name is exactly a built-in role name.
func IsBuiltInRole(name string) bool {
	_, ok := builtInPermissions[name]
	return ok
}

// IsReservedName reports whether name collides with a built-in role,
// ignoring case.
func IsReservedName(name string) bool {
	return IsBuiltInRole(strings.ToLower(strings.TrimSpace(name)))
}

// BuiltInPermissions returns a copy of a built-in role's permissions. ok is
// false for any other name.
func BuiltInPermissions(roleName string) (PermissionMap, bool) {
	perms, ok := builtInPermissions[roleName]
	if !ok {
		return nil, false
	}
	return perms.Clone(), true
}

// BuiltInRoleDescription returns the static description of a built-in role.
func BuiltInRoleDescription(roleName string) string {
	return builtInDescriptions[roleName]
}

// ValidatePermissionShape checks every resource and action against the
// catalog. It does not consider who is asking.
func ValidatePermissionShape(perms PermissionMap) error {
	if len(perms) == 0 {
		return fmt.Errorf("%w: at least one permission is required", ErrInvalidPermissions)
	}

	for _, p := range perms.Pairs() {
		if _, ok := validResources[p.Resource]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidResource, p.Resource)
		}
		if !validResources.Has(p.Resource, p.Action) {
			return fmt.Errorf("%w: %q is not allowed on %q", ErrInvalidAction, p.Action, p.Resource)
		}
	}

	for resource, actions := range perms {
		if len(actions) == 0 {
			if _, ok := validResources[resource]; !ok {
				return fmt.Errorf("%w: %q", ErrInvalidResource, resource)
			}
			return fmt.Errorf("%w: no actions listed for %q", ErrInvalidPermissions, resource)
		}
	}
	return nil
}
