package rbac

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/grc-api/pkg/audit"
	"github.com/platinummonkey/grc-api/pkg/auth"
	"github.com/platinummonkey/grc-api/pkg/httputil"
	"github.com/platinummonkey/grc-api/pkg/middleware"
	"github.com/platinummonkey/grc-api/pkg/observability"
)

// Requirement declares actions an endpoint needs on one resource.
type Requirement struct {
	Resource string
	Actions  []string
}

// Require builds a Requirement.
func Require(resource string, actions ...string) Requirement {
	return Requirement{Resource: resource, Actions: actions}
}

// RequirementMap merges requirements into one permission request.
func RequirementMap(reqs ...Requirement) PermissionMap {
	perms := PermissionMap{}
	for _, req := range reqs {
		perms[req.Resource] = append(perms[req.Resource], req.Actions...)
	}
	return perms.Normalize()
}

type guardMode string

const (
	// modeSession delegates to the identity provider's session check.
	modeSession guardMode = "session"
	// modeRoles evaluates the caller's roles with the PermissionResolver.
	modeRoles guardMode = "roles"
)

type decision string

const (
	decisionAllow  decision = "allow"
	decisionDeny   decision = "deny"
	decisionBypass decision = "bypass"
)

// Guard enforces declared permission requirements before a handler runs.
// Any failure to reach a decision denies.
type Guard struct {
	session  SessionPermissionChecker
	resolver *PermissionResolver
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewGuard creates an authorization guard. auditLogger, logger and metrics may be nil.
func NewGuard(session SessionPermissionChecker, resolver *PermissionResolver, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Guard{
		session:  session,
		resolver: resolver,
		audit:    auditLogger,
		logger:   logger,
		metrics:  metrics,
	}
}

// Protect requires reqs, asking the session service for JWT callers.
func (g *Guard) Protect(reqs ...Requirement) func(http.Handler) http.Handler {
	return g.protect(modeSession, reqs)
}

// ProtectWithRoles requires reqs, evaluating the caller's own roles locally.
func (g *Guard) ProtectWithRoles(reqs ...Requirement) func(http.Handler) http.Handler {
	return g.protect(modeRoles, reqs)
}

func (g *Guard) protect(mode guardMode, reqs []Requirement) func(http.Handler) http.Handler {
	required := RequirementMap(reqs...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.authorize(r, mode, required) {
				next.ServeHTTP(w, r)
				return
			}
			writeForbidden(w, r, required)
		})
	}
}

// authorize returns true only for an explicit allow. A panic anywhere in
// the decision is recovered as a denial.
func (g *Guard) authorize(r *http.Request, mode guardMode, required PermissionMap) (allowed bool) {
	ctx := r.Context()
	logger := g.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"method":   r.Method,
		"path":     r.URL.Path,
		"required": formatPermissions(required),
		"mode":     string(mode),
	})

	var authCtx *auth.AuthContext
	defer func() {
		if rec := recover(); rec != nil {
			err := observability.MustRecover(rec)
			logger.WithError(err).Error("Authorization guard panicked, denying request")
			allowed = false
			g.deny(ctx, r, mode, required, authCtx, err.Error())
		}
	}()

	if len(required) == 0 {
		g.metrics.RecordAuthzDecision(string(mode), string(decisionAllow))
		return true
	}

	authCtx = middleware.GetAuthContext(r)
	if authCtx == nil {
		logger.Error("No auth context on guarded route, denying request")
		g.deny(ctx, r, mode, required, nil, "no auth context")
		return false
	}

	if authCtx.IsAPIKey() {
		// TODO: enforce API key scopes once keys carry a permission set.
		logger.WithFields(map[string]interface{}{
			"organization_id": authCtx.OrganizationID,
			"api_key_id":      authCtx.APIKeyID,
		}).Warn("API key request bypassed permission check")
		g.metrics.RecordAuthzDecision(string(mode), string(decisionBypass))
		g.logAudit(ctx, r, audit.EventTypeAuthzAPIKeyBypass, audit.EventStatusSuccess, authCtx, required, "")
		return true
	}

	var err error
	switch mode {
	case modeRoles:
		allowed, err = g.checkRoles(ctx, authCtx, required)
	default:
		allowed, err = g.checkSession(ctx, r.Header, required)
	}

	if err != nil {
		logger.WithError(err).Error("Permission check failed, denying request")
		g.deny(ctx, r, mode, required, authCtx, err.Error())
		return false
	}
	if !allowed {
		logger.Info("Permission denied")
		g.deny(ctx, r, mode, required, authCtx, "")
		return false
	}

	logger.Debug("Permission granted")
	g.metrics.RecordAuthzDecision(string(mode), string(decisionAllow))
	return true
}

func (g *Guard) checkSession(ctx context.Context, headers http.Header, required PermissionMap) (bool, error) {
	if headers.Get("Authorization") == "" && headers.Get("Cookie") == "" {
		return false, nil
	}
	if g.session == nil {
		return false, fmt.Errorf("session permission checker not configured")
	}
	return g.session.Check(ctx, headers, required)
}

func (g *Guard) checkRoles(ctx context.Context, authCtx *auth.AuthContext, required PermissionMap) (bool, error) {
	held, err := g.resolver.CombinedPermissions(ctx, authCtx.Roles, authCtx.OrganizationID)
	if err != nil {
		return false, err
	}
	return held.Covers(required), nil
}

func (g *Guard) deny(ctx context.Context, r *http.Request, mode guardMode, required PermissionMap, authCtx *auth.AuthContext, reason string) {
	g.metrics.RecordAuthzDecision(string(mode), string(decisionDeny))
	g.logAudit(ctx, r, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied, authCtx, required, reason)
}

func (g *Guard) logAudit(ctx context.Context, r *http.Request, eventType audit.EventType, status audit.EventStatus, authCtx *auth.AuthContext, required PermissionMap, reason string) {
	event := audit.NewEvent(ctx, eventType, status)
	event.ResourceType = audit.ResourceTypeEndpoint
	event.Method = r.Method
	event.Path = r.URL.Path
	event.ErrorMessage = reason
	event.Metadata["required"] = required
	if authCtx != nil {
		event.OrganizationID = authCtx.OrganizationID
		event.ActorUserID = authCtx.ActorUserID
		event.ActorEmail = authCtx.ActorEmail
		event.APIKeyID = authCtx.APIKeyID
	}
	if err := g.audit.Log(ctx, event); err != nil {
		g.logger.WithContext(ctx).WithError(err).Warn("Failed to write audit event")
	}
}

func writeForbidden(w http.ResponseWriter, r *http.Request, required PermissionMap) {
	httputil.WriteForbidden(w, r, "insufficient_permissions",
		fmt.Sprintf("%s: requires %s", ErrForbidden, formatPermissions(required)))
}

func formatPermissions(perms PermissionMap) string {
	return joinPermissions(perms.Pairs())
}

func joinPermissions(pairs []Permission) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
