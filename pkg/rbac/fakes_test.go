package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/grc-api/pkg/audit"
)

// memStore is an in-memory Store. writes counts successful mutations.
type memStore struct {
	mu      sync.Mutex
	roles   map[string]*Role // by ID
	members map[string][]string
	nextID  int
	writes  int

	findErr error
}

func newMemStore() *memStore {
	return &memStore{roles: map[string]*Role{}, members: map[string][]string{}}
}

// assign gives a member (keyed by user) the listed roles in orgID.
func (m *memStore) assign(orgID, userID string, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[orgID+"/"+userID] = roles
}

func copyRole(r *Role) *Role {
	c := *r
	c.Permissions = r.Permissions.Clone()
	return &c
}

func (m *memStore) FindByName(ctx context.Context, orgID, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, r := range m.roles {
		if r.OrganizationID == orgID && r.Name == name {
			return copyRole(r), nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByID(ctx context.Context, orgID, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok || r.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return copyRole(r), nil
}

func (m *memStore) List(ctx context.Context, orgID string) ([]*Role, error) {
	m.mu.Lock()
	var roles []*Role
	for _, r := range m.roles {
		if r.OrganizationID == orgID {
			roles = append(roles, copyRole(r))
		}
	}
	m.mu.Unlock()

	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	for _, r := range roles {
		n, _ := m.CountMembersWithRole(ctx, orgID, r.Name)
		r.MemberCount = n
	}
	return roles, nil
}

func (m *memStore) Count(ctx context.Context, orgID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.roles {
		if r.OrganizationID == orgID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Create(ctx context.Context, orgID, name string, perms PermissionMap) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.OrganizationID == orgID && r.Name == name {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	m.nextID++
	now := time.Now()
	role := &Role{
		ID:             fmt.Sprintf("rol_%03d", m.nextID),
		OrganizationID: orgID,
		Name:           name,
		Permissions:    perms.Normalize(),
		CreatedAt:      &now,
		UpdatedAt:      &now,
	}
	m.roles[role.ID] = role
	m.writes++
	return copyRole(role), nil
}

func (m *memStore) Update(ctx context.Context, orgID, id string, patch RolePatch) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok || r.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		for key, roles := range m.members {
			for i, name := range roles {
				if name == r.Name {
					roles[i] = *patch.Name
				}
			}
			m.members[key] = roles
		}
		r.Name = *patch.Name
	}
	if patch.Permissions != nil {
		r.Permissions = patch.Permissions.Normalize()
	}
	now := time.Now()
	r.UpdatedAt = &now
	m.writes++
	return copyRole(r), nil
}

func (m *memStore) Delete(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok || r.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(m.roles, id)
	m.writes++
	return nil
}

func (m *memStore) CountMembersWithRole(ctx context.Context, orgID, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	prefix := orgID + "/"
	for key, roles := range m.members {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		for _, r := range roles {
			if r == name {
				n++
				break
			}
		}
	}
	return n, nil
}

var errStoreDown = errors.New("store unavailable")

// recordingAudit keeps every logged event.
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (a *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) types() []audit.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.EventType, len(a.events))
	for i, e := range a.events {
		out[i] = e.EventType
	}
	return out
}

// outcomes returns "type/status" for every logged event.
func (a *recordingAudit) outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = string(e.EventType) + "/" + string(e.Status)
	}
	return out
}
