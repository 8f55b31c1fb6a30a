package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore looks up membership rows in the members table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a membership store on db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetMember retrieves a user's membership in an organization.
func (s *PostgresStore) GetMember(ctx context.Context, orgID, userID string) (*Member, error) {
	query := `
		SELECT id, organization_id, user_id, roles, deactivated, created_at, updated_at
		FROM members
		WHERE organization_id = $1 AND user_id = $2
	`
	member := &Member{}
	var roles pq.StringArray
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&member.ID, &member.OrganizationID, &member.UserID, &roles,
		&member.Deactivated, &member.CreatedAt, &member.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	member.Roles = normalizeRoles(roles)
	return member, nil
}

// ActiveMemberRoles returns the member's role names and true when userID is
// an active member of orgID. A missing or deactivated membership returns
// false with a nil error.
func (s *PostgresStore) ActiveMemberRoles(ctx context.Context, orgID, userID string) ([]string, bool, error) {
	member, err := s.GetMember(ctx, orgID, userID)
	if errors.Is(err, ErrMemberNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !member.Active() {
		return nil, false, nil
	}
	return member.Roles, true, nil
}

// normalizeRoles trims names, drops blanks and duplicates, and splits legacy
// comma-joined entries such as "owner,admin".
func normalizeRoles(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	roles := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, name := range strings.Split(entry, ",") {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			roles = append(roles, name)
		}
	}
	return roles
}
