package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/grc-api/pkg/async"
	"github.com/platinummonkey/grc-api/pkg/observability"
)

// AsyncConfig sizes an AsyncLogger.
type AsyncConfig struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
	DrainTimeout time.Duration
}

// DefaultAsyncConfig returns the settings used by the server.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Workers:      4,
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
		DrainTimeout: 10 * time.Second,
	}
}

// AsyncLogger moves writes to a slow sink off the request path. When the
// queue is full the event is written synchronously so nothing is dropped.
type AsyncLogger struct {
	inner  Logger
	pool   *async.WorkerPool
	drain  time.Duration
	logger *observability.Logger
}

// NewAsyncLogger wraps inner with a bounded worker pool.
func NewAsyncLogger(inner Logger, cfg AsyncConfig, logger *observability.Logger) *AsyncLogger {
	defaults := DefaultAsyncConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &AsyncLogger{
		inner:  inner,
		pool:   async.NewWorkerPool(context.Background(), cfg.Workers, cfg.QueueSize, "audit", cfg.WriteTimeout, logger),
		drain:  cfg.DrainTimeout,
		logger: logger,
	}
}

// Log queues the event. Errors from the sink are logged by the pool.
func (a *AsyncLogger) Log(ctx context.Context, event *AuditEvent) error {
	err := a.pool.TrySubmit(func(ctx context.Context) error {
		return a.inner.Log(ctx, event)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, async.ErrQueueFull):
		a.logger.WithContext(ctx).WithField("event_type", string(event.EventType)).Warn("Audit queue full, writing synchronously")
		return a.inner.Log(context.WithoutCancel(ctx), event)
	default:
		return fmt.Errorf("audit event not queued: %w", err)
	}
}

// Close drains queued events and then closes the wrapped sink.
func (a *AsyncLogger) Close() error {
	drainErr := a.pool.Shutdown(a.drain)
	return errors.Join(drainErr, a.inner.Close())
}
