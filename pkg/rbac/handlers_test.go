package rbac

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grc-api/pkg/auth"
	"github.com/platinummonkey/grc-api/pkg/contextkeys"
	"github.com/platinummonkey/grc-api/pkg/httputil"
)

type handlerFixture struct {
	store   *memStore
	session *stubChecker
	router  *mux.Router
	caller  *auth.AuthContext
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store := newMemStore()
	resolver := NewPermissionResolver(store)
	service := NewRoleService(store, resolver, ServiceConfig{}, nil, nil, nil)
	session := &stubChecker{allowed: true}
	guard := NewGuard(session, resolver, nil, nil, nil)

	f := &handlerFixture{store: store, session: session, caller: jwtContext(RoleAdmin)}
	f.router = mux.NewRouter()
	f.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if f.caller != nil {
				r = r.WithContext(contextkeys.WithAuth(r.Context(), f.caller))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewHandlers(service, resolver, guard, nil).RegisterRoutes(f.router)
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer session-token")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandlers_RoleLifecycle(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/roles", map[string]interface{}{
		"name":        "task-doer",
		"permissions": map[string][]string{"task": {"read", "complete"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "task-doer", created.Name)
	assert.False(t, created.IsBuiltIn)

	rec = f.do(t, http.MethodGet, "/v1/roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list roleListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 6, list.Count)

	rec = f.do(t, http.MethodGet, "/v1/roles/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPatch, "/v1/roles/"+created.ID, map[string]interface{}{
		"name": "Task Doers",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Task Doers", updated.Name)

	f.store.assign(testOrg, "usr_2", "Task Doers")
	rec = f.do(t, http.MethodDelete, "/v1/roles/"+created.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "role_in_use", resp.Code)
	assert.Equal(t, "1", resp.Details["memberCount"])

	f.store.assign(testOrg, "usr_2")
	rec = f.do(t, http.MethodDelete, "/v1/roles/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/roles/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)
}

func TestHandlers_CreateRoleErrors(t *testing.T) {
	tests := []struct {
		name       string
		caller     *auth.AuthContext
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "reserved name",
			body:       map[string]interface{}{"name": "admin", "permissions": map[string][]string{"task": {"read"}}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "reserved_name",
		},
		{
			name:       "invalid action",
			body:       map[string]interface{}{"name": "pilot", "permissions": map[string][]string{"task": {"fly"}}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_action",
		},
		{
			name:       "unknown field",
			body:       map[string]interface{}{"name": "pilot", "scopes": []string{"all"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "owner required",
			body:       map[string]interface{}{"name": "deleter", "permissions": map[string][]string{"organization": {"delete"}}},
			wantStatus: http.StatusForbidden,
			wantCode:   "owner_required",
		},
		{
			name:       "api key callers hold no grants",
			caller:     apiKeyContext(),
			body:       map[string]interface{}{"name": "vendor-boss", "permissions": map[string][]string{"vendor": {"delete"}}},
			wantStatus: http.StatusForbidden,
			wantCode:   "privilege_escalation",
		},
		{
			name:       "caller without access control",
			caller:     jwtContext(RoleEmployee),
			body:       map[string]interface{}{"name": "task-doer", "permissions": map[string][]string{"task": {"read"}}},
			wantStatus: http.StatusForbidden,
			wantCode:   "insufficient_permissions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			if tt.caller != nil {
				f.caller = tt.caller
			}
			rec := f.do(t, http.MethodPost, "/v1/roles", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			assert.Zero(t, f.store.writes)
		})
	}
}

func TestHandlers_DuplicateAndLimit(t *testing.T) {
	f := newHandlerFixture(t)
	body := map[string]interface{}{"name": "task-doer", "permissions": map[string][]string{"task": {"read"}}}

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/roles", body).Code)
	rec := f.do(t, http.MethodPost, "/v1/roles", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_name", decodeError(t, rec).Code)

	f.store.mu.Lock()
	for i := 0; i < DefaultMaxCustomRoles; i++ {
		id := NewRoleID()
		f.store.roles[id] = &Role{ID: id, OrganizationID: testOrg, Name: id, Permissions: PermissionMap{"task": {"read"}}}
	}
	f.store.mu.Unlock()

	rec = f.do(t, http.MethodPost, "/v1/roles", map[string]interface{}{"name": "one-more", "permissions": map[string][]string{"task": {"read"}}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "role_limit_exceeded", decodeError(t, rec).Code)
}

func TestHandlers_Catalog(t *testing.T) {
	t.Run("session grants organization read", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.caller = jwtContext(RoleContractor)

		rec := f.do(t, http.MethodGet, "/v1/permissions", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp catalogResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, ValidResources(), resp.Resources)
		require.Len(t, resp.ResourceOrder, len(resp.Resources))
		assert.Equal(t, "organization", resp.ResourceOrder[0])
		assert.Equal(t, "trust", resp.ResourceOrder[len(resp.ResourceOrder)-1])
		require.Len(t, resp.Roles, 5)
		assert.Equal(t, RoleOwner, resp.Roles[0].Name)
		assert.Equal(t, PermissionMap{"organization": {"read"}}, f.session.got)
	})

	t.Run("session denies", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.session.allowed = false

		rec := f.do(t, http.MethodGet, "/v1/permissions", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "insufficient_permissions", decodeError(t, rec).Code)
		assert.Equal(t, int32(1), f.session.calls.Load())
	})

	t.Run("session service down", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.session.err = errors.New("connection refused")

		rec := f.do(t, http.MethodGet, "/v1/permissions", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("role routes skip the session service", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.session.allowed = false

		rec := f.do(t, http.MethodGet, "/v1/roles", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, f.session.calls.Load())
	})
}

func TestHandlers_Me(t *testing.T) {
	t.Run("user", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.caller = jwtContext(RoleContractor)

		rec := f.do(t, http.MethodGet, "/v1/auth/me", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			OrganizationID string        `json:"organizationId"`
			CredentialKind string        `json:"credentialKind"`
			Roles          []string      `json:"roles"`
			Permissions    PermissionMap `json:"permissions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, testOrg, resp.OrganizationID)
		assert.Equal(t, "jwt", resp.CredentialKind)
		assert.Equal(t, []string{RoleContractor}, resp.Roles)
		want, _ := BuiltInPermissions(RoleContractor)
		assert.Equal(t, want, resp.Permissions)
	})

	t.Run("api key", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.caller = apiKeyContext()

		rec := f.do(t, http.MethodGet, "/v1/auth/me", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), `"permissions"`)
		assert.Contains(t, rec.Body.String(), `"apiKeyId":"key_1"`)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.caller = nil

		rec := f.do(t, http.MethodGet, "/v1/auth/me", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
