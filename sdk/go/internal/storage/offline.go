package storage

import (
	"fmt"
	"time"
)

// OfflineLog is a capacity-bounded FIFO log of serialized events that failed
// delivery or were collected while offline. When the log reaches maxSize,
// the oldest entries are evicted to make room. It is the only tracker state
// that survives a full agent restart.
type OfflineLog struct {
	db      *DB
	maxSize int
}

// NewOfflineLog creates an OfflineLog with the given DB and maximum size.
// maxSize must be > 0; if not, it defaults to 1000.
func NewOfflineLog(db *DB, maxSize int) *OfflineLog {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &OfflineLog{
		db:      db,
		maxSize: maxSize,
	}
}

// Append adds serialized events to the log in order. If the log would exceed
// capacity, the oldest entries are evicted first.
func (l *OfflineLog) Append(eventsJSON []string) error {
	if len(eventsJSON) == 0 {
		return nil
	}

	// A single batch larger than the log keeps only its newest entries.
	if len(eventsJSON) > l.maxSize {
		eventsJSON = eventsJSON[len(eventsJSON)-l.maxSize:]
	}

	count, err := l.Count()
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	if over := count + len(eventsJSON) - l.maxSize; over > 0 {
		if err := l.evictOldest(over); err != nil {
			return fmt.Errorf("evict oldest: %w", err)
		}
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, e := range eventsJSON {
		if _, err := tx.Exec(
			`INSERT INTO offline_events (event_json, created_at) VALUES (?, ?)`,
			e, now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	return nil
}

// DrainAll returns all logged events in FIFO order and clears the log in the
// same transaction. The wholesale clear trades per-event acknowledgment for
// simplicity: callers hand the drained events to the send queue and accept
// at-least-once delivery.
func (l *OfflineLog) DrainAll() ([]string, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin drain: %w", err)
	}

	rows, err := tx.Query(
		`SELECT event_json FROM offline_events ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := []string{}
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		tx.Rollback()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM offline_events`); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("clear events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain: %w", err)
	}

	return events, nil
}

// Count returns the number of events currently in the log.
func (l *OfflineLog) Count() (int, error) {
	var count int
	err := l.db.QueryRow("SELECT COUNT(*) FROM offline_events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// Clear removes all events from the log.
func (l *OfflineLog) Clear() error {
	_, err := l.db.Exec("DELETE FROM offline_events")
	if err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

// evictOldest removes the n oldest events from the log.
func (l *OfflineLog) evictOldest(n int) error {
	_, err := l.db.Exec(
		`DELETE FROM offline_events WHERE id IN (
			SELECT id FROM offline_events ORDER BY created_at ASC, id ASC LIMIT ?
		)`,
		n,
	)
	if err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}
