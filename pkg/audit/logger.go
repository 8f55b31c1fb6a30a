package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/grc-api/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes and releases the sink
	Close() error
}

// NewEvent creates an event stamped with the current time and the request
// ID, organization and user found in ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Status:         status,
		RequestID:      contextkeys.GetRequestID(ctx),
		OrganizationID: contextkeys.GetOrgID(ctx),
		ActorUserID:    contextkeys.GetUserID(ctx),
		Metadata:       make(map[string]interface{}),
	}
}

// NewNoOpLogger returns a logger that discards events.
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (noOpLogger) Close() error { return nil }
