package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TokenVerifier verifies a bearer token and extracts the user it names.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// JWKSConfig configures a JWKSVerifier.
type JWKSConfig struct {
	IssuerURL string
	JWKSURL   string
	// Audience is required in aud when set.
	Audience string
	// Timeout bounds each verification, including any key fetch.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// JWKSVerifier checks signatures against the issuer's published key set and
// enforces iss, aud and exp.
type JWKSVerifier struct {
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
}

// userClaims are the identity fields the identity provider embeds.
type userClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NewJWKSVerifier builds a verifier. Keys are fetched lazily and refreshed
// when an unknown kid is seen.
func NewJWKSVerifier(cfg JWKSConfig) *JWKSVerifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), client), cfg.JWKSURL)
	verifier := oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{
		ClientID:             cfg.Audience,
		SkipClientIDCheck:    cfg.Audience == "",
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256, oidc.EdDSA},
	})

	return &JWKSVerifier{verifier: verifier, timeout: cfg.Timeout}
}

// Verify validates rawToken and returns its user identity. Signature, issuer,
// audience and expiry failures (and key fetch timeouts) all yield
// ErrInvalidOrExpiredCredential; a valid token without user fields yields
// ErrMalformedCredential.
func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if strings.Count(rawToken, ".") != 2 {
		return nil, fmt.Errorf("%w: token is not a JWS compact serialization", ErrInvalidCredentialFormat)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrExpiredCredential, err)
	}

	var claims userClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	userID := claims.ID
	if userID == "" {
		userID = token.Subject
	}
	if userID == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: token is missing user information", ErrMalformedCredential)
	}

	return &Identity{UserID: userID, Email: claims.Email}, nil
}
