package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StreamLogger writes each event as one JSON line to w.
type StreamLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamLogger creates a JSON lines audit logger writing to w
func NewStreamLogger(w io.Writer) *StreamLogger {
	return &StreamLogger{w: w}
}

// Log writes event as a single line
func (l *StreamLogger) Log(ctx context.Context, event *AuditEvent) error {
	line, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is a Closer
func (l *StreamLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
