// Package contextkeys provides centralized context key definitions
//
// All context keys used across the gateway are defined here so that
// packages setting and reading a value agree on its key and type.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID string
	// Set by: httputil.RequestIDMiddleware
	// Used by: loggers, audit events
	RequestIDKey Key = "request_id"

	// LoggerKey contains a logrus.FieldLogger
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext
	LoggerKey Key = "logger"

	// ClientIPKey contains the resolved client address string
	// Set by: httputil.ClientIPMiddleware
	// Used by: httputil.ClientIP
	ClientIPKey Key = "client_ip"

	// AuditRequestKey contains audit.RequestInfo
	// Set by: the api handlers via audit.WithRequest
	// Used by: audit.NewEvent
	AuditRequestKey Key = "audit_request_info"
)
