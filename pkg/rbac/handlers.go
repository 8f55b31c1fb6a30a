package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/grc-api/pkg/auth"
	"github.com/platinummonkey/grc-api/pkg/httputil"
	"github.com/platinummonkey/grc-api/pkg/middleware"
	"github.com/platinummonkey/grc-api/pkg/observability"
)

// Handlers serves the role management API.
type Handlers struct {
	service  *RoleService
	resolver *PermissionResolver
	guard    *Guard
	logger   *observability.Logger
}

// NewHandlers creates role management handlers
func NewHandlers(service *RoleService, resolver *PermissionResolver, guard *Guard, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{service: service, resolver: resolver, guard: guard, logger: logger}
}

// RegisterRoutes registers the role routes on an authenticated router.
// Role management requires the caller's own roles to grant ac:<action>.
// The catalog is gated by the session service on organization:read.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	ac := func(action string, fn http.HandlerFunc) http.Handler {
		return h.guard.ProtectWithRoles(Require(ResourceAccessControl, action))(fn)
	}

	router.Handle("/v1/roles", ac("create", h.CreateRole)).Methods(http.MethodPost)
	router.Handle("/v1/roles", ac("read", h.ListRoles)).Methods(http.MethodGet)
	router.Handle("/v1/roles/{roleId}", ac("read", h.GetRole)).Methods(http.MethodGet)
	router.Handle("/v1/roles/{roleId}", ac("update", h.UpdateRole)).Methods(http.MethodPatch)
	router.Handle("/v1/roles/{roleId}", ac("delete", h.DeleteRole)).Methods(http.MethodDelete)

	router.Handle("/v1/permissions",
		h.guard.Protect(Require(ResourceOrganization, "read"))(http.HandlerFunc(h.GetCatalog)),
	).Methods(http.MethodGet)
	router.HandleFunc("/v1/auth/me", h.Me).Methods(http.MethodGet)
}

type roleListResponse struct {
	Data  []*Role `json:"data"`
	Count int     `json:"count"`
}

// CreateRole creates a new custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		h.writeError(w, r, ErrForbidden)
		return
	}

	var req CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.CreateRole(r.Context(), authCtx.OrganizationID, req, authCtx.Roles)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, role)
}

// ListRoles lists built-in and custom roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		h.writeError(w, r, ErrForbidden)
		return
	}

	roles, err := h.service.ListRoles(r.Context(), authCtx.OrganizationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, roleListResponse{Data: roles, Count: len(roles)})
}

// GetRole returns one custom role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		h.writeError(w, r, ErrForbidden)
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	role, err := h.service.GetRole(r.Context(), authCtx.OrganizationID, roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// UpdateRole renames a role or replaces its permissions
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		h.writeError(w, r, ErrForbidden)
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	var req UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), authCtx.OrganizationID, roleID, req, authCtx.Roles)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole deletes an unassigned custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		h.writeError(w, r, ErrForbidden)
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	if err := h.service.DeleteRole(r.Context(), authCtx.OrganizationID, roleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type catalogResponse struct {
	Resources     PermissionMap `json:"resources"`
	ResourceOrder []string      `json:"resourceOrder"`
	Roles         []*Role       `json:"builtInRoles"`
}

// GetCatalog returns the grantable resources and the built-in roles.
// JSON objects are unordered, so the display order is sent alongside.
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, catalogResponse{
		Resources:     ValidResources(),
		ResourceOrder: ResourceNames(),
		Roles:         BuiltInRoles(),
	})
}

type meResponse struct {
	*auth.AuthContext
	Permissions PermissionMap `json:"permissions,omitempty"`
}

// Me returns the caller's auth context and, for users, their combined
// permissions.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		h.writeError(w, r, ErrForbidden)
		return
	}

	resp := meResponse{AuthContext: authCtx}
	if authCtx.IsJWT() {
		perms, err := h.resolver.CombinedPermissions(r.Context(), authCtx.Roles, authCtx.OrganizationID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Permissions = perms
	}
	_ = httputil.WriteSuccess(w, resp)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status, known := ErrorCode(err)
	if !known {
		h.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Role request failed")
		httputil.WriteInternalError(w, r)
		return
	}

	resp := httputil.ErrorResponse{Error: err.Error(), Code: code}
	if inUse, ok := IsRoleInUse(err); ok {
		resp.Details = map[string]string{"memberCount": strconv.Itoa(inUse.Count)}
	}
	httputil.WriteErrorResponse(w, r, status, resp)
}
