package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/grc-api/pkg/auth"
	"github.com/platinummonkey/grc-api/pkg/contextkeys"
	"github.com/platinummonkey/grc-api/pkg/httputil"
	"github.com/platinummonkey/grc-api/pkg/observability"
)

// CredentialResolver turns a request into an AuthContext.
type CredentialResolver interface {
	Resolve(r *http.Request) (*auth.AuthContext, error)
}

// AuthMiddleware authenticates every request it wraps. There is no optional
// mode: a request that cannot be resolved never reaches the handler.
type AuthMiddleware struct {
	resolver CredentialResolver
	logger   *observability.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(resolver CredentialResolver, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{resolver: resolver, logger: logger}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := m.resolver.Resolve(r)
		if err != nil {
			code, status := auth.ErrorCode(err)
			m.logger.WithContext(r.Context()).
				WithFields(map[string]interface{}{"code": code, "path": r.URL.Path}).
				WithError(err).
				Debug("Authentication failed")

			if status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
			httputil.WriteErrorCode(w, r, status, code, publicMessage(err))
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithOrgID(ctx, authCtx.OrganizationID)
		if authCtx.ActorUserID != "" {
			ctx = contextkeys.WithUserID(ctx, authCtx.ActorUserID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// publicMessage strips internal detail from resolver errors.
func publicMessage(err error) string {
	for _, sentinel := range []error{
		auth.ErrAuthenticationRequired,
		auth.ErrInvalidCredentialFormat,
		auth.ErrMalformedCredential,
		auth.ErrInvalidOrExpiredCredential,
		auth.ErrMissingOrganizationContext,
		auth.ErrOrganizationAccessDenied,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return auth.ErrInvalidOrExpiredCredential.Error()
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	ctx := r.Context().Value(contextkeys.AuthKey)
	if ctx == nil {
		return nil
	}
	authCtx, ok := ctx.(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
