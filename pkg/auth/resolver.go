package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/grc-api/pkg/async"
	"github.com/platinummonkey/grc-api/pkg/observability"
)

const (
	// DefaultAPIKeyHeader carries an API key.
	DefaultAPIKeyHeader = "X-API-Key"
	// DefaultOrgHeader names the organization a bearer-token caller acts in.
	DefaultOrgHeader = "X-Organization-Id"

	touchTimeout = 2 * time.Second
)

// MembershipChecker reports whether a user is an active member of an
// organization and, if so, their role names.
type MembershipChecker interface {
	ActiveMemberRoles(ctx context.Context, orgID, userID string) ([]string, bool, error)
}

// ResolverConfig names the headers the resolver reads.
type ResolverConfig struct {
	APIKeyHeader string
	OrgHeader    string
}

// Resolver turns an inbound request into an AuthContext or fails closed.
type Resolver struct {
	keys      APIKeyStore
	tokens    TokenVerifier
	members   MembershipChecker
	generator *KeyGenerator
	cfg       ResolverConfig
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewResolver creates a credential resolver. metrics may be nil.
func NewResolver(keys APIKeyStore, tokens TokenVerifier, members MembershipChecker, cfg ResolverConfig, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.OrgHeader == "" {
		cfg.OrgHeader = DefaultOrgHeader
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{
		keys:      keys,
		tokens:    tokens,
		members:   members,
		generator: NewKeyGenerator(),
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Resolve authenticates r. An API key header takes precedence over a bearer
// token; with neither present it returns ErrAuthenticationRequired.
func (res *Resolver) Resolve(r *http.Request) (*AuthContext, error) {
	if rawKey := strings.TrimSpace(r.Header.Get(res.cfg.APIKeyHeader)); rawKey != "" {
		authCtx, err := res.resolveAPIKey(r.Context(), rawKey, strings.TrimSpace(r.Header.Get(res.cfg.OrgHeader)))
		res.record(CredentialAPIKey, err)
		return authCtx, err
	}

	if token, ok, err := bearerToken(r.Header.Get("Authorization")); ok {
		var authCtx *AuthContext
		if err == nil {
			authCtx, err = res.resolveJWT(r.Context(), token, strings.TrimSpace(r.Header.Get(res.cfg.OrgHeader)))
		}
		res.record(CredentialJWT, err)
		return authCtx, err
	}

	res.record("none", ErrAuthenticationRequired)
	return nil, ErrAuthenticationRequired
}

func (res *Resolver) resolveAPIKey(ctx context.Context, rawKey, orgHeader string) (*AuthContext, error) {
	if err := res.generator.ValidateKeyFormat(rawKey); err != nil {
		return nil, err
	}

	key, err := res.keys.FindByHash(ctx, res.generator.HashKey(rawKey))
	if err != nil {
		res.logger.WithContext(ctx).WithError(err).Error("API key lookup failed")
		return nil, fmt.Errorf("%w: key lookup failed", ErrInvalidOrExpiredCredential)
	}

	now := res.now()
	if !key.Usable(now) {
		return nil, ErrInvalidOrExpiredCredential
	}

	// A key is bound to one organization; a conflicting header is refused
	// rather than silently ignored.
	if orgHeader != "" && orgHeader != key.OrganizationID {
		return nil, fmt.Errorf("%w: api key is not valid for organization %s", ErrOrganizationAccessDenied, orgHeader)
	}

	async.SafeGo(context.WithoutCancel(ctx), res.logger.WithField("api_key_id", key.ID), touchTimeout, "api key last used",
		func(ctx context.Context) error {
			return res.keys.TouchLastUsed(ctx, key.ID, now)
		})

	return &AuthContext{
		OrganizationID: key.OrganizationID,
		CredentialKind: CredentialAPIKey,
		APIKeyID:       key.ID,
	}, nil
}

func (res *Resolver) resolveJWT(ctx context.Context, token, orgID string) (*AuthContext, error) {
	identity, err := res.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	if orgID == "" {
		return nil, ErrMissingOrganizationContext
	}

	roles, ok, err := res.members.ActiveMemberRoles(ctx, orgID, identity.UserID)
	if err != nil {
		res.logger.WithContext(ctx).WithError(err).
			WithFields(map[string]interface{}{"organization_id": orgID, "user_id": identity.UserID}).
			Error("Membership lookup failed, denying access")
		return nil, ErrOrganizationAccessDenied
	}
	if !ok {
		return nil, ErrOrganizationAccessDenied
	}

	return &AuthContext{
		OrganizationID: orgID,
		CredentialKind: CredentialJWT,
		ActorUserID:    identity.UserID,
		ActorEmail:     identity.Email,
		Roles:          roles,
	}, nil
}

func (res *Resolver) record(kind CredentialKind, err error) {
	outcome := "success"
	if err != nil {
		outcome, _ = ErrorCode(err)
	}
	res.metrics.RecordAuthentication(string(kind), outcome)
}

// bearerToken parses an Authorization header. ok is false when the header
// is absent or uses another scheme.
func bearerToken(header string) (token string, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, nil
	}
	scheme, value, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false, nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", true, fmt.Errorf("%w: empty bearer token", ErrInvalidCredentialFormat)
	}
	return value, true, nil
}
