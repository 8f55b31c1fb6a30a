package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/grc-api/pkg/httputil"
	"github.com/platinummonkey/grc-api/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per key
	RequestsPerSecond float64
	// Burst allows temporary bursts above the rate
	Burst int
	// Window is the fixed window used by the Redis limiter
	Window time.Duration
	// MaxKeys bounds the number of in-memory buckets
	MaxKeys int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             40,
		Window:            time.Minute,
		MaxKeys:           10000,
	}
}

// RequestsPerWindow is the number of requests one key may make per Window.
func (c RateLimitConfig) RequestsPerWindow() int {
	return int(math.Ceil(c.RequestsPerSecond*c.Window.Seconds())) + c.Burst
}

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
	Remaining(ctx context.Context, key string) (int, error)
}

// windowedLimiter reports when a key's window resets.
type windowedLimiter interface {
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RateLimiter is an in-process token bucket per key. Least recently used
// buckets are evicted once MaxKeys is reached.
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) (*RateLimiter, error) {
	if config.MaxKeys <= 0 {
		config.MaxKeys = DefaultRateLimitConfig().MaxKeys
	}
	if config.RequestsPerSecond <= 0 || config.Burst <= 0 {
		return nil, fmt.Errorf("rate limit requires positive rate and burst")
	}

	buckets, err := lru.New[string, *rate.Limiter](config.MaxKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket cache: %w", err)
	}

	return &RateLimiter{config: config, buckets: buckets}, nil
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.bucket(key).Allow(), nil
}

// Limit returns the burst size, the most requests a fresh key may make at once.
func (rl *RateLimiter) Limit() int {
	return rl.config.Burst
}

// Remaining returns the whole tokens currently available for key
func (rl *RateLimiter) Remaining(_ context.Context, key string) (int, error) {
	rl.mu.Lock()
	b, ok := rl.buckets.Get(key)
	rl.mu.Unlock()
	if !ok {
		return rl.config.Burst, nil
	}
	return max(int(b.Tokens()), 0), nil
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, ok := rl.buckets.Get(key); ok {
		return b
	}
	b := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)
	rl.buckets.Add(key, b)
	return b
}

// RateLimitMiddleware provides HTTP rate limiting. Authenticated callers are
// keyed by organization and actor; everything else by client IP.
type RateLimitMiddleware struct {
	limiter    Limiter
	backend    string
	retryAfter time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewRateLimitMiddleware creates a new rate limit middleware. metrics may be nil.
func NewRateLimitMiddleware(limiter Limiter, backend string, retryAfter time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RateLimitMiddleware{
		limiter:    limiter,
		backend:    backend,
		retryAfter: retryAfter,
		logger:     logger,
		metrics:    metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := RateLimitKey(r)

		allowed, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			// Limiter backends fail open.
			m.logger.WithContext(r.Context()).WithError(err).WithField("backend", m.backend).Warn("Rate limiter unavailable, allowing request")
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limiter.Limit()))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			m.metrics.RecordRateLimited(m.backend)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(m.retryAfterFor(r.Context(), key).Seconds()))))
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteTooManyRequests(w, r, "rate limit exceeded")
			return
		}

		if remaining, err := m.limiter.Remaining(r.Context(), key); err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterFor uses the key's remaining window when the limiter tracks one.
func (m *RateLimitMiddleware) retryAfterFor(ctx context.Context, key string) time.Duration {
	if windowed, ok := m.limiter.(windowedLimiter); ok {
		if ttl, err := windowed.TTL(ctx, key); err == nil && ttl > 0 {
			return ttl
		}
	}
	return m.retryAfter
}

// RateLimitKey derives the limiter key for r.
func RateLimitKey(r *http.Request) string {
	authCtx := GetAuthContext(r)
	switch {
	case authCtx == nil:
		return "ip:" + httputil.ClientIP(r)
	case authCtx.IsAPIKey():
		return fmt.Sprintf("org:%s:key:%s", authCtx.OrganizationID, authCtx.APIKeyID)
	default:
		return fmt.Sprintf("org:%s:user:%s", authCtx.OrganizationID, authCtx.ActorUserID)
	}
}
