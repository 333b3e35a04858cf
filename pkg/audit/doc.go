// Package audit records security events for the authentication gateway.
//
// Every self-service and administrative operation emits one AuditEvent.
// Administrative events are marked Privileged. Events never carry
// passwords, temporary passwords, verification codes or tokens.
//
// # Sinks
//
//   - DBLogger: PostgreSQL table, created on startup if missing
//   - LogrusLogger: structured log lines tagged audit=true
//   - MultiLogger: fan-out to several sinks
//   - NoOpLogger: discards events
//
// # Usage
//
//	event := audit.NewEvent(ctx, audit.EventTypeLogin, audit.EventStatusSuccess)
//	event.Username = username
//	if err := logger.Log(ctx, event); err != nil {
//		log.WithError(err).Warn("audit write failed")
//	}
//
// Request metadata (client IP, user agent, path) is attached by calling
// WithRequest on the request context before the operation runs.
package audit
