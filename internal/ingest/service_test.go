package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/yuxdigital/activitytrack/internal/events"
	"github.com/yuxdigital/activitytrack/internal/store"
)

// mockSessions mocks the session repository for testing.
type mockSessions struct {
	mu        sync.Mutex
	existing  map[string]bool
	touches   []string
	lastIP    string
	lastAgent string

	createErr error
	existsErr error
	touchErr  error
}

func newMockSessions(known ...string) *mockSessions {
	m := &mockSessions{existing: make(map[string]bool)}
	for _, id := range known {
		m.existing[id] = true
	}
	return m
}

func (m *mockSessions) CreateIfAbsent(_ context.Context, sessionID, _, userIP, userAgent string) (bool, error) {
	if m.createErr != nil {
		return false, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIP = userIP
	m.lastAgent = userAgent
	if m.existing[sessionID] {
		return false, nil
	}
	m.existing[sessionID] = true
	return true, nil
}

func (m *mockSessions) Exists(_ context.Context, sessionID string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existing[sessionID], nil
}

func (m *mockSessions) Touch(_ context.Context, sessionID string) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches = append(m.touches, sessionID)
	return nil
}

// mockEvents mocks the event repository. Inserts for event types listed
// in failTypes return an error.
type mockEvents struct {
	mu        sync.Mutex
	inserted  []store.InsertEvent
	failTypes map[string]bool
}

func (m *mockEvents) Insert(_ context.Context, e store.InsertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTypes[e.EventType] {
		return errors.New("insert failed")
	}
	m.inserted = append(m.inserted, e)
	return nil
}

func (m *mockEvents) insertedTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.inserted))
	for i, e := range m.inserted {
		types[i] = e.EventType
	}
	return types
}

// mockPublisher records published batches.
type mockPublisher struct {
	mu      sync.Mutex
	batches [][]events.Accepted
}

func (m *mockPublisher) PublishBatch(_ context.Context, batch []events.Accepted) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return len(batch), nil
}

func rawBatch(objects ...string) *[]json.RawMessage {
	batch := make([]json.RawMessage, len(objects))
	for i, o := range objects {
		batch[i] = json.RawMessage(o)
	}
	return &batch
}

func TestRegisterSession(t *testing.T) {
	sessions := newMockSessions("existing")
	svc := NewService(sessions, &mockEvents{}, nil, nil, nil)

	client := ClientInfo{IP: "198.51.100.7", UserAgent: "tracker-sdk/1.0"}
	resp, err := svc.RegisterSession(context.Background(), SessionRequest{SessionID: "fresh"}, client)
	if err != nil {
		t.Fatalf("RegisterSession: %v", err)
	}
	if !resp.Created || resp.Exists {
		t.Fatalf("unexpected response for new session: %+v", resp)
	}
	if sessions.lastIP != client.IP || sessions.lastAgent != client.UserAgent {
		t.Fatalf("client metadata not recorded: ip=%q agent=%q", sessions.lastIP, sessions.lastAgent)
	}

	resp, err = svc.RegisterSession(context.Background(), SessionRequest{SessionID: "existing"}, client)
	if err != nil {
		t.Fatalf("RegisterSession existing: %v", err)
	}
	if resp.Created || !resp.Exists {
		t.Fatalf("unexpected response for known session: %+v", resp)
	}
}

func TestRegisterSession_MissingID(t *testing.T) {
	svc := NewService(newMockSessions(), &mockEvents{}, nil, nil, nil)

	if _, err := svc.RegisterSession(context.Background(), SessionRequest{}, ClientInfo{}); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired, got %v", err)
	}
}

func TestIngestBatch_PartialFailure(t *testing.T) {
	sessions := newMockSessions("s1")
	eventRepo := &mockEvents{}
	svc := NewService(sessions, eventRepo, nil, nil, nil)

	resp, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "s1",
		Events:    rawBatch(`{"type":"click"}`, `{}`, `{"type":"scroll"}`),
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	if !resp.Success {
		t.Error("partial batch should still succeed")
	}
	if resp.Inserted != 2 || resp.Total != 3 {
		t.Errorf("inserted=%d total=%d, want 2/3", resp.Inserted, resp.Total)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 per-event error, got %d", len(resp.Errors))
	}
	if resp.Errors[0].Error != "type is required" {
		t.Errorf("unexpected error message: %q", resp.Errors[0].Error)
	}
	if got := len(eventRepo.insertedTypes()); got != 2 {
		t.Errorf("expected 2 persisted events, got %d", got)
	}
}

func TestIngestBatch_UnknownSession(t *testing.T) {
	svc := NewService(newMockSessions(), &mockEvents{}, nil, nil, nil)

	_, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "ghost",
		Events:    rawBatch(`{"type":"click"}`),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIngestBatch_EmptyBatchSkipsSessionLookup(t *testing.T) {
	sessions := newMockSessions()
	sessions.existsErr = errors.New("lookup should not happen")
	svc := NewService(sessions, &mockEvents{}, nil, nil, nil)

	resp, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "any",
		Events:    rawBatch(),
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if !resp.Success || resp.Inserted != 0 || resp.Total != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestIngestBatch_MissingFields(t *testing.T) {
	svc := NewService(newMockSessions("s1"), &mockEvents{}, nil, nil, nil)

	if _, err := svc.IngestBatch(context.Background(), TrackRequest{
		Events: rawBatch(`{"type":"click"}`),
	}); !errors.Is(err, ErrSessionIDRequired) {
		t.Fatalf("expected ErrSessionIDRequired, got %v", err)
	}

	// A request without an events array is distinct from an empty batch.
	if _, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "s1",
	}); !errors.Is(err, ErrEventsRequired) {
		t.Fatalf("expected ErrEventsRequired, got %v", err)
	}
}

func TestIngestBatch_TouchesSessionOnce(t *testing.T) {
	sessions := newMockSessions("s1")
	svc := NewService(sessions, &mockEvents{}, nil, nil, nil)

	_, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "s1",
		Events:    rawBatch(`{"type":"a"}`, `{"type":"b"}`, `{"type":"c"}`),
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if len(sessions.touches) != 1 {
		t.Fatalf("expected exactly 1 touch per batch, got %d", len(sessions.touches))
	}
}

func TestIngestBatch_TouchesSessionWhenNothingInserted(t *testing.T) {
	sessions := newMockSessions("s1")
	eventRepo := &mockEvents{failTypes: map[string]bool{"click": true}}
	svc := NewService(sessions, eventRepo, nil, nil, nil)

	resp, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "s1",
		Events:    rawBatch(`{"type":"click"}`),
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if resp.Inserted != 0 || len(resp.Errors) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	// Liveness still advances: the session existed and was addressed,
	// even though every event in the batch was rejected.
	if len(sessions.touches) != 1 {
		t.Fatalf("expected 1 touch for an all-failed batch, got %d", len(sessions.touches))
	}
}

func TestIngestBatch_DuplicatesAccepted(t *testing.T) {
	sessions := newMockSessions("s1")
	eventRepo := &mockEvents{}
	svc := NewService(sessions, eventRepo, nil, nil, nil)

	req := TrackRequest{
		SessionID: "s1",
		Events:    rawBatch(`{"type":"click","elementId":"buy"}`),
	}

	// A redelivered batch is persisted again in full; delivery is
	// at-least-once end to end.
	for i := 0; i < 2; i++ {
		resp, err := svc.IngestBatch(context.Background(), req)
		if err != nil {
			t.Fatalf("IngestBatch replay %d: %v", i, err)
		}
		if resp.Inserted != 1 {
			t.Fatalf("replay %d: inserted=%d, want 1", i, resp.Inserted)
		}
	}
	if got := len(eventRepo.insertedTypes()); got != 2 {
		t.Fatalf("expected both deliveries persisted, got %d rows", got)
	}
}

func TestIngestBatch_ExtractsEventFields(t *testing.T) {
	sessions := newMockSessions("s1")
	eventRepo := &mockEvents{}
	svc := NewService(sessions, eventRepo, nil, nil, nil)

	_, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "s1",
		Events:    rawBatch(`{"type":"click","url":"/checkout","timestamp":1712345678901,"elementId":"buy"}`),
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	eventRepo.mu.Lock()
	defer eventRepo.mu.Unlock()
	if len(eventRepo.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(eventRepo.inserted))
	}
	e := eventRepo.inserted[0]
	if e.SessionID != "s1" || e.EventType != "click" || e.URL != "/checkout" || e.TimestampMs != 1712345678901 {
		t.Fatalf("unexpected insert: %+v", e)
	}

	var payload map[string]any
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if payload["elementId"] != "buy" {
		t.Fatalf("payload missing extra attribute: %v", payload)
	}
	if _, ok := payload["type"]; ok {
		t.Fatal("well-known fields should not be duplicated in payload")
	}
}

func TestIngestBatch_PublishesAcceptedEvents(t *testing.T) {
	sessions := newMockSessions("s1")
	publisher := &mockPublisher{}
	svc := NewService(sessions, &mockEvents{failTypes: map[string]bool{"bad": true}}, publisher, nil, nil)

	_, err := svc.IngestBatch(context.Background(), TrackRequest{
		SessionID: "s1",
		Events:    rawBatch(`{"type":"click"}`, `{"type":"bad"}`),
	})
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.batches) != 1 {
		t.Fatalf("expected 1 published batch, got %d", len(publisher.batches))
	}
	if len(publisher.batches[0]) != 1 || publisher.batches[0][0].EventType != "click" {
		t.Fatalf("only persisted events should be published: %+v", publisher.batches[0])
	}
}
