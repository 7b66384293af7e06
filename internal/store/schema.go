package store

import (
	"context"
	"fmt"
)

// schema is applied on startup. Statements are idempotent so restarting
// the service against an existing database is safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id    TEXT PRIMARY KEY,
		experiment_id TEXT,
		user_ip       TEXT,
		user_agent    TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_activity TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id           BIGSERIAL PRIMARY KEY,
		session_id   TEXT NOT NULL REFERENCES sessions(session_id),
		event_type   TEXT NOT NULL,
		url          TEXT,
		timestamp_ms BIGINT,
		payload      JSONB,
		received_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at)`,
}

// EnsureSchema creates the sessions and events tables if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	c.logger.Info("database schema ready")
	return nil
}
