package rbac

import (
	"errors"
	"fmt"
	"net/http"
)

// Role management failures. None are transient.
var (
	ErrReservedName        = errors.New("role name is reserved")
	ErrInvalidName         = errors.New("invalid role name")
	ErrInvalidResource     = errors.New("invalid resource")
	ErrInvalidAction       = errors.New("invalid action")
	ErrInvalidPermissions  = errors.New("invalid permissions")
	ErrPrivilegeEscalation = errors.New("cannot grant permissions you do not have")
	ErrOwnerRequired       = errors.New("only an owner can grant organization:delete")
	ErrDuplicateName       = errors.New("a role with this name already exists")
	ErrRoleLimitExceeded   = errors.New("custom role limit reached")
	ErrNotFound            = errors.New("role not found")
	ErrRoleInUse           = errors.New("role is assigned to members")
	ErrForbidden           = errors.New("insufficient permissions")
)

// RoleInUseError reports how many members block a deletion.
type RoleInUseError struct {
	RoleName string
	Count    int
}

func (e *RoleInUseError) Error() string {
	noun := "members"
	if e.Count == 1 {
		noun = "member"
	}
	return fmt.Sprintf("role %q is assigned to %d %s; reassign them before deleting", e.RoleName, e.Count, noun)
}

// Unwrap lets errors.Is match ErrRoleInUse.
func (e *RoleInUseError) Unwrap() error {
	return ErrRoleInUse
}

// IsRoleInUse returns the blocking error when err is a RoleInUseError.
func IsRoleInUse(err error) (*RoleInUseError, bool) {
	var inUse *RoleInUseError
	if errors.As(err, &inUse) {
		return inUse, true
	}
	return nil, false
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{ErrReservedName, "reserved_name", http.StatusBadRequest},
	{ErrInvalidName, "invalid_name", http.StatusBadRequest},
	{ErrInvalidResource, "invalid_resource", http.StatusBadRequest},
	{ErrInvalidAction, "invalid_action", http.StatusBadRequest},
	{ErrInvalidPermissions, "invalid_permissions", http.StatusBadRequest},
	{ErrPrivilegeEscalation, "privilege_escalation", http.StatusForbidden},
	{ErrOwnerRequired, "owner_required", http.StatusForbidden},
	{ErrDuplicateName, "duplicate_name", http.StatusConflict},
	{ErrRoleLimitExceeded, "role_limit_exceeded", http.StatusUnprocessableEntity},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrRoleInUse, "role_in_use", http.StatusConflict},
	{ErrForbidden, "insufficient_permissions", http.StatusForbidden},
}

// ErrorCode returns the API error code and HTTP status for a role management
// error. ok is false for errors outside the taxonomy.
func ErrorCode(err error) (code string, status int, ok bool) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.status, true
		}
	}
	return "internal_error", http.StatusInternalServerError, false
}
