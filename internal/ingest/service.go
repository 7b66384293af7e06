// Package ingest implements the HTTP ingestion service: session
// registration and idempotent batch event intake with per-event failure
// reporting.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/yuxdigital/activitytrack/internal/events"
	"github.com/yuxdigital/activitytrack/internal/observability"
	"github.com/yuxdigital/activitytrack/internal/store"
)

// insertWorkers bounds the number of concurrent event inserts per batch.
const insertWorkers = 8

// eventPreviewLen caps the length of the payload preview echoed back in
// per-event errors.
const eventPreviewLen = 120

// SessionRepo is the session persistence interface.
// It abstracts store.SessionStore to enable unit testing with mocks.
type SessionRepo interface {
	CreateIfAbsent(ctx context.Context, sessionID, experimentID, userIP, userAgent string) (bool, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	Touch(ctx context.Context, sessionID string) error
}

// EventRepo is the event persistence interface.
type EventRepo interface {
	Insert(ctx context.Context, e store.InsertEvent) error
}

// Publisher notifies downstream consumers of accepted events. The stream
// is best-effort: publish failures never fail the ingestion request.
type Publisher interface {
	PublishBatch(ctx context.Context, batch []events.Accepted) (int, error)
}

// Service implements the ingestion business logic.
type Service struct {
	sessions  SessionRepo
	events    EventRepo
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService creates an ingestion service. publisher and metrics may be
// nil, disabling stream notifications and instrumentation respectively.
func NewService(sessions SessionRepo, eventRepo EventRepo, publisher Publisher, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		events:    eventRepo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("component", "ingest-service"),
	}
}

// RegisterSession registers a session, creating it when unknown.
// Re-registration of a known session reports Exists without error, so
// clients can call it unconditionally on startup.
func (s *Service) RegisterSession(ctx context.Context, req SessionRequest, client ClientInfo) (*SessionResponse, error) {
	if req.SessionID == "" {
		return nil, ErrSessionIDRequired
	}

	created, err := s.sessions.CreateIfAbsent(ctx, req.SessionID, req.ExperimentID, client.IP, client.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}

	if created {
		s.logger.Info("session created",
			"session_id", req.SessionID,
			"experiment_id", req.ExperimentID,
		)
		if s.metrics != nil {
			s.metrics.SessionsCreated.Add(ctx, 1)
		}
	}

	return &SessionResponse{
		SessionID: req.SessionID,
		Exists:    !created,
		Created:   created,
	}, nil
}

// IngestBatch validates and persists a batch of events for a registered
// session. Each event is persisted independently: one bad event produces
// a per-event error but never rejects its siblings, and a replayed batch
// is accepted again in full. An empty batch is accepted trivially without
// a session lookup. After processing, the session's liveness timestamp is
// advanced exactly once for the whole batch, regardless of how many
// events succeeded.
func (s *Service) IngestBatch(ctx context.Context, req TrackRequest) (*TrackResponse, error) {
	if req.SessionID == "" {
		return nil, ErrSessionIDRequired
	}
	if req.Events == nil {
		return nil, ErrEventsRequired
	}

	batch := *req.Events
	if len(batch) == 0 {
		return &TrackResponse{Success: true, Inserted: 0, Total: 0}, nil
	}

	start := time.Now()

	exists, err := s.sessions.Exists(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	type outcome struct {
		accepted *events.Accepted
		failure  *EventError
	}
	outcomes := make([]outcome, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, insertWorkers)

	for i, raw := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, raw json.RawMessage) {
			defer wg.Done()
			defer func() { <-sem }()

			accepted, err := s.persistEvent(ctx, req.SessionID, raw)
			if err != nil {
				outcomes[i] = outcome{failure: &EventError{
					Event: preview(raw),
					Error: err.Error(),
				}}
				return
			}
			outcomes[i] = outcome{accepted: accepted}
		}(i, raw)
	}
	wg.Wait()

	resp := &TrackResponse{Success: true, Total: len(batch)}
	var published []events.Accepted
	for _, o := range outcomes {
		if o.failure != nil {
			resp.Errors = append(resp.Errors, *o.failure)
			continue
		}
		resp.Inserted++
		published = append(published, *o.accepted)
	}

	// Liveness advances once per batch, even when every event was rejected.
	if err := s.sessions.Touch(ctx, req.SessionID); err != nil {
		s.logger.Warn("failed to touch session",
			"session_id", req.SessionID,
			"error", err,
		)
	}

	s.notify(ctx, published)
	s.recordBatch(ctx, resp, time.Since(start))

	s.logger.Info("batch ingested",
		"session_id", req.SessionID,
		"total", resp.Total,
		"inserted", resp.Inserted,
		"rejected", len(resp.Errors),
	)

	return resp, nil
}

// persistEvent validates and stores one event, returning its accepted form.
func (s *Service) persistEvent(ctx context.Context, sessionID string, raw json.RawMessage) (*events.Accepted, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("event must be a JSON object")
	}

	eventType, _ := obj["type"].(string)
	if eventType == "" {
		return nil, fmt.Errorf("type is required")
	}

	url, _ := obj["url"].(string)
	var timestampMs int64
	if ts, ok := obj["timestamp"].(float64); ok {
		timestampMs = int64(ts)
	}

	delete(obj, "type")
	delete(obj, "url")
	delete(obj, "timestamp")

	var payload json.RawMessage
	if len(obj) > 0 {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		payload = data
	}

	if err := s.events.Insert(ctx, store.InsertEvent{
		SessionID:   sessionID,
		EventType:   eventType,
		URL:         url,
		TimestampMs: timestampMs,
		Payload:     payload,
	}); err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}

	return &events.Accepted{
		SessionID:    sessionID,
		EventType:    eventType,
		URL:          url,
		TimestampMs:  timestampMs,
		ReceivedAtMs: time.Now().UnixMilli(),
		Payload:      payload,
	}, nil
}

// notify publishes accepted events to the stream, best-effort.
func (s *Service) notify(ctx context.Context, accepted []events.Accepted) {
	if s.publisher == nil || len(accepted) == 0 {
		return
	}

	published, err := s.publisher.PublishBatch(ctx, accepted)
	if s.metrics != nil {
		s.metrics.EventsPublished.Add(ctx, int64(published))
		s.metrics.PublishFailures.Add(ctx, int64(len(accepted)-published))
	}
	if err != nil {
		s.logger.Warn("failed to publish accepted events", "error", err)
	}
}

// recordBatch records ingestion instruments for one batch.
func (s *Service) recordBatch(ctx context.Context, resp *TrackResponse, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	s.metrics.EventsInserted.Add(ctx, int64(resp.Inserted))
	s.metrics.EventsRejected.Add(ctx, int64(len(resp.Errors)))
	s.metrics.IngestBatchSize.Record(ctx, int64(resp.Total))
	s.metrics.IngestDuration.Record(ctx, float64(elapsed.Milliseconds()),
		otelmetric.WithAttributes(
			attribute.Bool("partial", len(resp.Errors) > 0),
		))
}

// preview returns a truncated copy of the raw event for error reporting.
func preview(raw json.RawMessage) string {
	s := string(raw)
	if len(s) > eventPreviewLen {
		return s[:eventPreviewLen] + "..."
	}
	return s
}
