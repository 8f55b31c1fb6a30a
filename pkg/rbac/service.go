package rbac

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/platinummonkey/grc-api/pkg/audit"
	"github.com/platinummonkey/grc-api/pkg/observability"
)

// DefaultMaxCustomRoles is the per-organization custom role cap.
const DefaultMaxCustomRoles = 20

const (
	minNameLength = 2
	maxNameLength = 50
)

var (
	createNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	renamePattern     = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 _-]*$`)
)

// CreateRoleInput is a new custom role definition.
type CreateRoleInput struct {
	Name        string        `json:"name"`
	Permissions PermissionMap `json:"permissions"`
}

// UpdateRoleInput changes a role's name and/or permissions.
type UpdateRoleInput struct {
	Name        *string       `json:"name,omitempty"`
	Permissions PermissionMap `json:"permissions,omitempty"`
}

// ServiceConfig configures a RoleService.
type ServiceConfig struct {
	MaxCustomRoles int
}

// RoleService creates, updates and deletes custom roles. No caller can
// grant a permission their own roles do not hold.
type RoleService struct {
	store    Store
	resolver *PermissionResolver
	maxRoles int
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRoleService creates a role service. auditLogger, logger and metrics may be nil.
func NewRoleService(store Store, resolver *PermissionResolver, cfg ServiceConfig, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *RoleService {
	if cfg.MaxCustomRoles <= 0 {
		cfg.MaxCustomRoles = DefaultMaxCustomRoles
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RoleService{
		store:    store,
		resolver: resolver,
		maxRoles: cfg.MaxCustomRoles,
		audit:    auditLogger,
		logger:   logger,
		metrics:  metrics,
	}
}

// CreateRole validates and persists a custom role.
func (s *RoleService) CreateRole(ctx context.Context, orgID string, in CreateRoleInput, callerRoles []string) (role *Role, err error) {
	name := strings.TrimSpace(in.Name)
	defer func() { s.record(ctx, "create", name, nil, role, err) }()

	if err := validateName(name, createNamePattern); err != nil {
		return nil, err
	}
	if err := ValidatePermissionShape(in.Permissions); err != nil {
		return nil, err
	}
	perms := in.Permissions.Normalize()
	if err := s.checkGrant(ctx, orgID, perms, callerRoles); err != nil {
		return nil, err
	}

	existing, err := s.store.FindByName(ctx, orgID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	count, err := s.store.Count(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if count >= s.maxRoles {
		return nil, fmt.Errorf("%w: organizations may define at most %d custom roles", ErrRoleLimitExceeded, s.maxRoles)
	}

	return s.store.Create(ctx, orgID, name, perms)
}

// UpdateRole renames a role and/or replaces its permissions. Each change is
// validated as strictly as on creation.
func (s *RoleService) UpdateRole(ctx context.Context, orgID, roleID string, in UpdateRoleInput, callerRoles []string) (role *Role, err error) {
	var current *Role
	defer func() { s.record(ctx, "update", roleID, current, role, err) }()

	current, err = s.store.FindByID(ctx, orgID, roleID)
	if err != nil {
		return nil, err
	}

	patch := RolePatch{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name != current.Name {
			if err := validateName(name, renamePattern); err != nil {
				return nil, err
			}
			other, err := s.store.FindByName(ctx, orgID, name)
			if err != nil {
				return nil, err
			}
			if other != nil && other.ID != current.ID {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
			}
			patch.Name = &name
		}
	}

	if in.Permissions != nil {
		if err := ValidatePermissionShape(in.Permissions); err != nil {
			return nil, err
		}
		perms := in.Permissions.Normalize()
		if err := s.checkGrant(ctx, orgID, perms, callerRoles); err != nil {
			return nil, err
		}
		patch.Permissions = perms
	}

	if patch.Name == nil && patch.Permissions == nil {
		return current, nil
	}
	return s.store.Update(ctx, orgID, roleID, patch)
}

// DeleteRole removes a custom role no active member holds.
func (s *RoleService) DeleteRole(ctx context.Context, orgID, roleID string) (err error) {
	var role *Role
	defer func() { s.record(ctx, "delete", roleID, role, nil, err) }()

	role, err = s.store.FindByID(ctx, orgID, roleID)
	if err != nil {
		return err
	}

	count, err := s.store.CountMembersWithRole(ctx, orgID, role.Name)
	if err != nil {
		return err
	}
	if count > 0 {
		return &RoleInUseError{RoleName: role.Name, Count: count}
	}

	return s.store.Delete(ctx, orgID, roleID)
}

// ListRoles returns the built-in roles followed by the organization's
// custom roles.
func (s *RoleService) ListRoles(ctx context.Context, orgID string) ([]*Role, error) {
	custom, err := s.store.List(ctx, orgID)
	if err != nil {
		return nil, err
	}

	roles := BuiltInRoles()
	for _, role := range custom {
		role.IsBuiltIn = false
		roles = append(roles, role)
	}
	return roles, nil
}

// GetRole returns one custom role with its member count.
func (s *RoleService) GetRole(ctx context.Context, orgID, roleID string) (*Role, error) {
	role, err := s.store.FindByID(ctx, orgID, roleID)
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountMembersWithRole(ctx, orgID, role.Name)
	if err != nil {
		return nil, err
	}
	role.MemberCount = count
	return role, nil
}

// BuiltInRoles returns descriptors for the built-in roles.
func BuiltInRoles() []*Role {
	roles := make([]*Role, 0, len(builtInRoleNames))
	for _, name := range builtInRoleNames {
		perms, _ := BuiltInPermissions(name)
		roles = append(roles, &Role{
			Name:        name,
			Description: BuiltInRoleDescription(name),
			Permissions: perms,
			IsBuiltIn:   true,
		})
	}
	return roles
}

// checkGrant enforces that callerRoles may hand out perms. The owner rule is
// checked first so it is reported even when the union would allow the grant.
func (s *RoleService) checkGrant(ctx context.Context, orgID string, perms PermissionMap, callerRoles []string) error {
	if perms.Has(ResourceOrganization, ActionDelete) && !containsRole(callerRoles, RoleOwner) {
		return ErrOwnerRequired
	}

	held, err := s.resolver.CombinedPermissions(ctx, callerRoles, orgID)
	if err != nil {
		return err
	}
	if missing := held.Missing(perms); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrPrivilegeEscalation, joinPermissions(missing))
	}
	return nil
}

// record emits the operation metric and audit event. target is the
// requested name for create and the role ID otherwise; it identifies the
// role when the operation failed before one was loaded.
func (s *RoleService) record(ctx context.Context, operation, target string, before, after *Role, err error) {
	outcome := "success"
	status := audit.EventStatusSuccess
	if err != nil {
		outcome, _, _ = ErrorCode(err)
		status = audit.EventStatusFailure
		if errors.Is(err, ErrPrivilegeEscalation) || errors.Is(err, ErrOwnerRequired) {
			status = audit.EventStatusDenied
		}
		if _, _, known := ErrorCode(err); !known {
			s.logger.WithContext(ctx).WithError(err).WithField("operation", operation).Error("Role operation failed")
		}
	}
	s.metrics.RecordRoleOperation(operation, outcome)

	event := audit.NewEvent(ctx, roleEventTypes[operation], status)
	event.ResourceType = audit.ResourceTypeRole
	role := after
	if role == nil {
		role = before
	}
	switch {
	case role != nil:
		event.ResourceID, event.ResourceName = role.ID, role.Name
	case operation == "create":
		event.ResourceName = target
	default:
		event.ResourceID = target
	}

	switch {
	case err != nil:
		event.ErrorMessage = err.Error()
	case before != nil && after != nil:
		event.Changes = &audit.ChangeDetails{
			Before: roleSnapshot(before),
			After:  roleSnapshot(after),
		}
	case role != nil && role.Permissions != nil:
		event.Metadata["permissions"] = role.Permissions
	}

	if auditErr := s.audit.Log(ctx, event); auditErr != nil {
		s.logger.WithContext(ctx).WithError(auditErr).Warn("Failed to write audit event")
	}
}

func roleSnapshot(role *Role) map[string]interface{} {
	return map[string]interface{}{
		"name":        role.Name,
		"permissions": role.Permissions.Clone(),
	}
}

var roleEventTypes = map[string]audit.EventType{
	"create": audit.EventTypeRoleCreate,
	"update": audit.EventTypeRoleUpdate,
	"delete": audit.EventTypeRoleDelete,
}

func validateName(name string, pattern *regexp.Regexp) error {
	if IsReservedName(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if len(name) < minNameLength || len(name) > maxNameLength {
		return fmt.Errorf("%w: must be %d to %d characters", ErrInvalidName, minNameLength, maxNameLength)
	}
	if !pattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, pattern.String())
	}
	return nil
}

func containsRole(roles []string, name string) bool {
	for _, r := range roles {
		if r == name {
			return true
		}
	}
	return false
}
