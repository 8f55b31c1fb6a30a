package orgs

import (
	"errors"
	"time"
)

// ErrMemberNotFound is returned when no membership row matches.
var ErrMemberNotFound = errors.New("member not found")

// Member is a user's membership in one organization. Roles holds built-in
// and custom role names in assignment order.
type Member struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Roles          []string  `json:"roles"`
	Deactivated    bool      `json:"deactivated"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Active reports whether the membership currently grants access.
func (m *Member) Active() bool {
	return m != nil && !m.Deactivated
}
