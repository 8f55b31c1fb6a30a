package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/grc-api/pkg/observability"
)

// SessionPermissionChecker asks the identity provider whether the session
// carried by headers holds perms in its active organization.
type SessionPermissionChecker interface {
	Check(ctx context.Context, headers http.Header, perms PermissionMap) (bool, error)
}

// ErrNoSessionCredentials is returned when neither Authorization nor Cookie
// is present to forward.
var ErrNoSessionCredentials = errors.New("no session credentials to forward")

// forwardedHeaders are the only request headers sent to the session service.
var forwardedHeaders = []string{"Authorization", "Cookie", "X-Organization-Id"}

// SessionCheckerConfig configures an HTTPSessionChecker.
type SessionCheckerConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client

	// Consecutive transport failures before the breaker opens.
	MaxFailures uint32
	// How long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// HTTPSessionChecker calls the identity provider's has-permission endpoint.
// Transport errors and 5xx responses count against a circuit breaker; an
// open breaker fails fast, which callers treat as a denial.
type HTTPSessionChecker struct {
	url     string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[bool]
	metrics *observability.Metrics
}

type sessionCheckRequest struct {
	Permissions PermissionMap `json:"permissions"`
}

type sessionCheckResponse struct {
	Success bool `json:"success"`
}

// NewHTTPSessionChecker creates a session permission client. metrics may be nil.
func NewHTTPSessionChecker(cfg SessionCheckerConfig, logger *observability.Logger, metrics *observability.Metrics) *HTTPSessionChecker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "session-permission-check",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state change")
		},
	})

	return &HTTPSessionChecker{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		client:  client,
		breaker: breaker,
		metrics: metrics,
	}
}

// Check forwards the caller's session headers with perms. It returns false
// with ErrNoSessionCredentials, without a network call, when there is
// nothing to forward.
func (c *HTTPSessionChecker) Check(ctx context.Context, headers http.Header, perms PermissionMap) (bool, error) {
	if headers.Get("Authorization") == "" && headers.Get("Cookie") == "" {
		return false, ErrNoSessionCredentials
	}

	start := time.Now()
	allowed, err := c.breaker.Execute(func() (bool, error) {
		return c.do(ctx, headers, perms)
	})

	outcome := "allowed"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "circuit_open"
		err = fmt.Errorf("session permission check unavailable: %w", err)
	case err != nil:
		outcome = "error"
	case !allowed:
		outcome = "denied"
	}
	c.metrics.ObserveSessionCheck(outcome, time.Since(start))

	if err != nil {
		return false, err
	}
	return allowed, nil
}

// State reports the breaker state.
func (c *HTTPSessionChecker) State() gobreaker.State {
	return c.breaker.State()
}

func (c *HTTPSessionChecker) do(ctx context.Context, headers http.Header, perms PermissionMap) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(sessionCheckRequest{Permissions: perms})
	if err != nil {
		return false, fmt.Errorf("failed to encode permission request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build permission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, name := range forwardedHeaders {
		if v := headers.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("permission check request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("permission check returned status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		// The session itself was rejected; a clean denial.
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("permission check returned status %d", resp.StatusCode)
	}

	var result sessionCheckResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode permission response: %w", err)
	}
	return result.Success, nil
}
