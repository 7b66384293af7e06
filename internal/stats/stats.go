// Package stats aggregates ingestion counts and exports the stored events
// as CSV or JSON.
package stats

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/yuxdigital/activitytrack/internal/store"
)

// recentWindow is the liveness window for the recent-session count.
const recentWindow = 24 * time.Hour

// exportRowLimit caps export result sets so a single request cannot pull
// the whole table.
const exportRowLimit = 50000

// SessionCounter provides session aggregates.
type SessionCounter interface {
	Count(ctx context.Context) (int64, error)
	CountActiveSince(ctx context.Context, since time.Time) (int64, error)
}

// EventSource provides event aggregates and iteration.
// It abstracts store.EventStore to enable unit testing with mocks.
type EventSource interface {
	Count(ctx context.Context) (int64, error)
	CountByType(ctx context.Context) (map[string]int64, error)
	CountBySession(ctx context.Context) (map[string]int64, error)
	ForEach(ctx context.Context, f store.Filter, fn func(store.Event) error) error
}

// Report summarizes everything ingested so far. RecentSessions counts
// sessions active within the last 24 hours.
type Report struct {
	TotalSessions   int64            `json:"totalSessions"`
	TotalEvents     int64            `json:"totalEvents"`
	RecentSessions  int64            `json:"recentSessions"`
	EventsByType    map[string]int64 `json:"eventsByType"`
	EventsBySession map[string]int64 `json:"eventsBySession"`
}

// Service computes reports and exports over the stores.
type Service struct {
	sessions SessionCounter
	events   EventSource
	logger   *slog.Logger
}

// NewService creates a stats service.
func NewService(sessions SessionCounter, events EventSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: sessions,
		events:   events,
		logger:   logger.With("component", "stats"),
	}
}

// Report computes the aggregate counts.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	totalSessions, err := s.sessions.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	recentSessions, err := s.sessions.CountActiveSince(ctx, time.Now().Add(-recentWindow))
	if err != nil {
		return nil, fmt.Errorf("count recent sessions: %w", err)
	}

	totalEvents, err := s.events.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	byType, err := s.events.CountByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("events by type: %w", err)
	}

	bySession, err := s.events.CountBySession(ctx)
	if err != nil {
		return nil, fmt.Errorf("events by session: %w", err)
	}

	return &Report{
		TotalSessions:   totalSessions,
		TotalEvents:     totalEvents,
		RecentSessions:  recentSessions,
		EventsByType:    byType,
		EventsBySession: bySession,
	}, nil
}

// boundFilter applies the export row cap to a caller-supplied filter.
func boundFilter(f store.Filter) store.Filter {
	if f.Limit <= 0 || f.Limit > exportRowLimit {
		f.Limit = exportRowLimit
	}
	return f
}

// exportRow is the flat JSON shape of one exported event.
type exportRow struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"sessionId"`
	EventType   string          `json:"type"`
	URL         string          `json:"url,omitempty"`
	TimestampMs int64           `json:"timestamp,omitempty"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ExportJSON streams matching events as a JSON array in insertion order.
func (s *Service) ExportJSON(ctx context.Context, f store.Filter, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	first := true
	err := s.events.ForEach(ctx, boundFilter(f), func(e store.Event) error {
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
		}
		first = false

		row := exportRow{
			ID:          e.ID,
			SessionID:   e.SessionID,
			EventType:   e.EventType,
			URL:         e.URL,
			TimestampMs: e.TimestampMs,
			ReceivedAt:  e.ReceivedAt,
			Payload:     e.Payload,
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.ID, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// csvBaseHeader is the fixed column prefix of the CSV export. Payload keys
// found across the exported rows follow as additional columns.
var csvBaseHeader = []string{"id", "session_id", "event_type", "url", "timestamp_ms", "received_at"}

// ExportCSV writes matching events as CSV in insertion order. Payload
// attributes are expanded into one column per key, with the header covering
// the union of keys seen across the export.
func (s *Service) ExportCSV(ctx context.Context, f store.Filter, w io.Writer) error {
	var rows []store.Event
	err := s.events.ForEach(ctx, boundFilter(f), func(e store.Event) error {
		rows = append(rows, e)
		return nil
	})
	if err != nil {
		return err
	}

	payloads := make([]map[string]any, len(rows))
	keySet := make(map[string]struct{})
	for i, e := range rows {
		if len(e.Payload) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			continue
		}
		payloads[i] = m
		for k := range m {
			keySet[k] = struct{}{}
		}
	}
	keys := slices.Sorted(maps.Keys(keySet))

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), csvBaseHeader...), keys...)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, e := range rows {
		timestamp := ""
		if e.TimestampMs != 0 {
			timestamp = strconv.FormatInt(e.TimestampMs, 10)
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.SessionID,
			e.EventType,
			e.URL,
			timestamp,
			e.ReceivedAt.UTC().Format(time.RFC3339),
		}
		for _, k := range keys {
			record = append(record, csvValue(payloads[i][k]))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// csvValue renders one payload attribute as a CSV cell. Nested values stay
// JSON-encoded.
func csvValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
