package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/idpgate/pkg/contextkeys"
	"github.com/platinummonkey/idpgate/pkg/httputil"
	"github.com/platinummonkey/idpgate/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// RequestInfo is the request metadata attached to every event logged while
// serving that request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Method    string
	Path      string
}

// WithRequest stores the request metadata of r in ctx.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, contextkeys.AuditRequestKey, RequestInfo{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
	})
}

// NewEvent creates an event populated with the request context in ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if info, ok := ctx.Value(contextkeys.AuditRequestKey).(RequestInfo); ok {
		event.IPAddress = info.IPAddress
		event.UserAgent = info.UserAgent
		event.Method = info.Method
		event.Path = info.Path
	}

	return event
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (NoOpLogger) Close() error {
	return nil
}
