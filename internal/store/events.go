package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is a persisted interaction event. Payload carries the attributes
// beyond the well-known columns as raw JSON.
type Event struct {
	ID          int64
	SessionID   string
	EventType   string
	URL         string
	TimestampMs int64
	Payload     json.RawMessage
	ReceivedAt  time.Time
}

// InsertEvent is the writable subset of an event row.
type InsertEvent struct {
	SessionID   string
	EventType   string
	URL         string
	TimestampMs int64
	Payload     json.RawMessage
}

// EventStore persists events.
type EventStore struct {
	client *Client
}

// NewEventStore creates an event repository over the given client.
func NewEventStore(client *Client) *EventStore {
	return &EventStore{client: client}
}

// Insert writes a single event row.
func (s *EventStore) Insert(ctx context.Context, e InsertEvent) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	if _, err := s.client.db.ExecContext(ctx,
		`INSERT INTO events (session_id, event_type, url, timestamp_ms, payload)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, 0), $5)`,
		e.SessionID, e.EventType, e.URL, e.TimestampMs, []byte(payload),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Count returns the total number of stored events.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.client.db.QueryRowContext(ctx,
		`SELECT count(*) FROM events`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountByType returns event counts grouped by event type.
func (s *EventStore) CountByType(ctx context.Context) (map[string]int64, error) {
	rows, err := s.client.db.QueryContext(ctx,
		`SELECT event_type, count(*) FROM events GROUP BY event_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan event type count: %w", err)
		}
		counts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event type counts: %w", err)
	}
	return counts, nil
}

// CountBySession returns event counts grouped by session.
func (s *EventStore) CountBySession(ctx context.Context) (map[string]int64, error) {
	rows, err := s.client.db.QueryContext(ctx,
		`SELECT session_id, count(*) FROM events GROUP BY session_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("count events by session: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan session count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session counts: %w", err)
	}
	return counts, nil
}

// Filter narrows an event iteration. Zero values leave the corresponding
// dimension unconstrained; Start and End apply to the server receive time.
type Filter struct {
	SessionID string
	Start     time.Time
	End       time.Time
	Limit     int
}

// ForEach streams matching events in insertion order to fn, stopping on
// the first error. Used by the export endpoints to avoid loading the whole
// table into memory.
func (s *EventStore) ForEach(ctx context.Context, f Filter, fn func(Event) error) error {
	query := `SELECT id, session_id, event_type, COALESCE(url, ''),
	                 COALESCE(timestamp_ms, 0), payload, received_at
	          FROM events`

	var conds []string
	var args []any
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if !f.Start.IsZero() {
		args = append(args, f.Start)
		conds = append(conds, fmt.Sprintf("received_at >= $%d", len(args)))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		conds = append(conds, fmt.Sprintf("received_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.client.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Event
		var payload sql.RawBytes
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.URL,
			&e.TimestampMs, &payload, &e.ReceivedAt); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		e.Payload = json.RawMessage(append([]byte(nil), payload...))
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}
	return nil
}
