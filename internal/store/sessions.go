package store

import (
	"context"
	"fmt"
	"time"
)

// Session is a tracked client session.
type Session struct {
	SessionID    string
	ExperimentID string
	UserIP       string
	UserAgent    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// SessionStore persists sessions.
type SessionStore struct {
	client *Client
}

// NewSessionStore creates a session repository over the given client.
func NewSessionStore(client *Client) *SessionStore {
	return &SessionStore{client: client}
}

// CreateIfAbsent registers a session, returning whether a new row was
// created. Re-registering an existing session is not an error and leaves
// the original row untouched.
func (s *SessionStore) CreateIfAbsent(ctx context.Context, sessionID, experimentID, userIP, userAgent string) (bool, error) {
	res, err := s.client.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, experiment_id, user_ip, user_agent)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, experimentID, userIP, userAgent,
	)
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert session rows affected: %w", err)
	}
	return rows > 0, nil
}

// Exists reports whether the session is registered.
func (s *SessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.client.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = $1)`,
		sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query session: %w", err)
	}
	return exists, nil
}

// Touch advances the session's last activity timestamp.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	if _, err := s.client.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = now() WHERE session_id = $1`,
		sessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Count returns the number of registered sessions.
func (s *SessionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.client.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// CountActiveSince returns the number of sessions whose last activity is at
// or after the given instant.
func (s *SessionStore) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	if err := s.client.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE last_activity >= $1`,
		since,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}
