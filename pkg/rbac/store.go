package rbac

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"

	"github.com/platinummonkey/grc-api/pkg/storage/postgres"
)

// Role is a built-in role descriptor or a persisted custom role.
type Role struct {
	ID             string        `json:"id,omitempty"`
	OrganizationID string        `json:"organizationId,omitempty"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Permissions    PermissionMap `json:"permissions"`
	IsBuiltIn      bool          `json:"isBuiltIn"`
	MemberCount    int           `json:"memberCount"`
	CreatedAt      *time.Time    `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time    `json:"updatedAt,omitempty"`
}

// RolePatch holds the fields of an update. A nil field is left unchanged.
type RolePatch struct {
	Name        *string
	Permissions PermissionMap
}

// Store persists custom roles. Every operation is scoped to one organization.
type Store interface {
	// FindByName returns nil, nil when no role has that name.
	FindByName(ctx context.Context, orgID, name string) (*Role, error)
	// FindByID returns ErrNotFound when the role does not exist.
	FindByID(ctx context.Context, orgID, id string) (*Role, error)
	// List returns roles ordered by name with live member counts.
	List(ctx context.Context, orgID string) ([]*Role, error)
	Count(ctx context.Context, orgID string) (int, error)
	// Create returns ErrDuplicateName when the name is taken.
	Create(ctx context.Context, orgID, name string, perms PermissionMap) (*Role, error)
	Update(ctx context.Context, orgID, id string, patch RolePatch) (*Role, error)
	Delete(ctx context.Context, orgID, id string) error
	// CountMembersWithRole counts active members assigned exactly name.
	CountMembersWithRole(ctx context.Context, orgID, name string) (int, error)
}

// NewRoleID returns a new sortable role identifier.
func NewRoleID() string {
	return "rol_" + ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// PostgresStore stores custom roles in organization_roles.
type PostgresStore struct {
	db *sql.DB
	// listDB serves display-only reads and may be a replica.
	listDB *sql.DB
	newID  func() string
}

// NewPostgresStore creates a role store. Authorization reads always use db;
// listDB (when non-nil) serves List.
func NewPostgresStore(db, listDB *sql.DB) *PostgresStore {
	if listDB == nil {
		listDB = db
	}
	return &PostgresStore{db: db, listDB: listDB, newID: NewRoleID}
}

const roleColumns = `id, organization_id, name, permissions, created_at, updated_at`

// memberMatch is true when a members row (aliased m) carries the role named
// by the given placeholder, including legacy comma-joined entries.
const memberMatch = `NOT m.deactivated AND EXISTS (
	SELECT 1 FROM unnest(m.roles) AS entry, unnest(string_to_array(entry, ',')) AS part
	WHERE btrim(part) = %s
)`

// renameMembersQuery replaces $2 with $3 in every member's roles, splitting
// legacy comma-joined entries into separate elements on the way.
const renameMembersQuery = `
	UPDATE members m
	SET roles = ARRAY(
		SELECT CASE WHEN btrim(p.part) = $2 THEN $3 ELSE btrim(p.part) END
		FROM unnest(m.roles) WITH ORDINALITY AS e(entry, i),
		     unnest(string_to_array(e.entry, ',')) WITH ORDINALITY AS p(part, j)
		WHERE btrim(p.part) <> ''
		ORDER BY e.i, p.j
	),
	updated_at = NOW()
	WHERE m.organization_id = $1 AND EXISTS (
		SELECT 1 FROM unnest(m.roles) AS entry, unnest(string_to_array(entry, ',')) AS part
		WHERE btrim(part) = $2
	)`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner, extra ...interface{}) (*Role, error) {
	role := &Role{}
	var createdAt, updatedAt time.Time
	dest := append([]interface{}{
		&role.ID, &role.OrganizationID, &role.Name, &role.Permissions, &createdAt, &updatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	role.CreatedAt = &createdAt
	role.UpdatedAt = &updatedAt
	role.Permissions = role.Permissions.Normalize()
	return role, nil
}

// FindByName looks up a custom role by exact name.
func (s *PostgresStore) FindByName(ctx context.Context, orgID, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM organization_roles WHERE organization_id = $1 AND name = $2`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, orgID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find role: %w", err)
	}
	return role, nil
}

// FindByID retrieves a custom role by ID.
func (s *PostgresStore) FindByID(ctx context.Context, orgID, id string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM organization_roles WHERE organization_id = $1 AND id = $2`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, orgID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// List returns the organization's custom roles with member counts.
func (s *PostgresStore) List(ctx context.Context, orgID string) ([]*Role, error) {
	query := `
		SELECT r.id, r.organization_id, r.name, r.permissions, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM members m
		        WHERE m.organization_id = r.organization_id AND ` + fmt.Sprintf(memberMatch, "r.name") + `) AS member_count
		FROM organization_roles r
		WHERE r.organization_id = $1
		ORDER BY r.name
	`

	rows, err := s.listDB.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		var count int
		role, err := scanRole(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.MemberCount = count
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// Count returns the number of custom roles in the organization.
func (s *PostgresStore) Count(ctx context.Context, orgID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_roles WHERE organization_id = $1`, orgID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count roles: %w", err)
	}
	return count, nil
}

// Create inserts a custom role.
func (s *PostgresStore) Create(ctx context.Context, orgID, name string, perms PermissionMap) (*Role, error) {
	query := `
		INSERT INTO organization_roles (id, organization_id, name, permissions)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + roleColumns

	role, err := scanRole(s.db.QueryRowContext(ctx, query, s.newID(), orgID, name, perms.Normalize()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

// Update applies patch. A rename also rewrites the name in members' role
// assignments so existing holders keep the role.
func (s *PostgresStore) Update(ctx context.Context, orgID, id string, patch RolePatch) (*Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldName string
	err = tx.QueryRowContext(ctx,
		`SELECT name FROM organization_roles WHERE organization_id = $1 AND id = $2 FOR UPDATE`, orgID, id,
	).Scan(&oldName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock role: %w", err)
	}

	var name sql.NullString
	if patch.Name != nil {
		name = sql.NullString{String: *patch.Name, Valid: true}
	}
	var perms interface{}
	if patch.Permissions != nil {
		perms = patch.Permissions.Normalize()
	}

	query := `
		UPDATE organization_roles
		SET name = COALESCE($3, name),
		    permissions = COALESCE($4::jsonb, permissions),
		    updated_at = NOW()
		WHERE organization_id = $1 AND id = $2
		RETURNING ` + roleColumns

	role, err := scanRole(tx.QueryRowContext(ctx, query, orgID, id, name, perms))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name.String)
		}
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	if role.Name != oldName {
		if _, err := tx.ExecContext(ctx, renameMembersQuery, orgID, oldName, role.Name); err != nil {
			return nil, fmt.Errorf("failed to rename member assignments: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role update: %w", err)
	}
	return role, nil
}

// Delete removes a custom role. Callers check member references first.
func (s *PostgresStore) Delete(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM organization_roles WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMembersWithRole counts active members holding name.
func (s *PostgresStore) CountMembersWithRole(ctx context.Context, orgID, name string) (int, error) {
	query := `SELECT COUNT(*) FROM members m WHERE m.organization_id = $1 AND ` + fmt.Sprintf(memberMatch, "$2")

	var count int
	if err := s.db.QueryRowContext(ctx, query, orgID, name).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count role members: %w", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint == "" || pqErr.Constraint == postgres.RoleNameConstraint
	}
	return false
}
