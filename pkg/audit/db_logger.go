package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// DefaultTable is the audit table used when none is configured
const DefaultTable = "auth_audit_logs"

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db    *sql.DB
	name  string
	table string // quoted name
}

// NewDBLogger creates a new database-based audit logger writing to table.
// An empty table name selects DefaultTable.
func NewDBLogger(ctx context.Context, db *sql.DB, table string) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if table == "" {
		table = DefaultTable
	}

	logger := &DBLogger{
		db:    db,
		name:  table,
		table: pq.QuoteIdentifier(table),
	}

	// Ensure the audit table exists
	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit table if it doesn't exist
func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		privileged BOOLEAN NOT NULL DEFAULT FALSE,
		username VARCHAR(255),
		subject VARCHAR(255),
		ip_address VARCHAR(255),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		error_kind VARCHAR(50),
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(timestamp DESC);
	CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s(username);
	CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s(event_type);
	`,
		l.table,
		pq.QuoteIdentifier("idx_"+l.name+"_timestamp"),
		pq.QuoteIdentifier("idx_"+l.name+"_username"),
		pq.QuoteIdentifier("idx_"+l.name+"_event_type"),
	)

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			timestamp, event_type, status, privileged,
			username, subject,
			ip_address, user_agent, request_id, method, path,
			message, error_kind, metadata
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14
		) RETURNING id
	`, l.table)

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status), event.Privileged,
		event.Username, event.Subject,
		event.IPAddress, event.UserAgent, event.RequestID, event.Method, event.Path,
		event.Message, event.ErrorKind, metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
