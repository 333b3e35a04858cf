package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Self-service events
	EventTypeRegister             EventType = "auth.register"
	EventTypeLogin                EventType = "auth.login"
	EventTypeLoginFailed          EventType = "auth.login_failed"
	EventTypeChallengeIssued      EventType = "auth.challenge_issued"
	EventTypeChallengeCompleted   EventType = "auth.challenge_completed"
	EventTypeChallengeFailed      EventType = "auth.challenge_failed"
	EventTypePasswordResetRequest EventType = "auth.password_reset_request"
	EventTypePasswordResetConfirm EventType = "auth.password_reset_confirm"

	// Privileged events
	EventTypeAdminUserCreate   EventType = "admin.user_create"
	EventTypeAdminInitiateAuth EventType = "admin.initiate_auth"
	EventTypeAdminAccessDenied EventType = "admin.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry. It never carries
// passwords, temporary passwords, verification codes, tokens or session
// tokens.
type AuditEvent struct {
	// Core fields
	ID         int64       `json:"id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	EventType  EventType   `json:"event_type"`
	Status     EventStatus `json:"status"`
	Privileged bool        `json:"privileged"`

	// Subject of the operation
	Username string `json:"username,omitempty"`
	Subject  string `json:"subject,omitempty"` // provider user ID, when known

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message   string                 `json:"message,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
