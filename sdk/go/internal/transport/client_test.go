package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// immediateRetry retries without delay so tests run fast.
type immediateRetry struct {
	retries int
}

func (r *immediateRetry) NextDelay(attempt int) time.Duration {
	if attempt >= r.retries {
		return 0
	}
	return time.Nanosecond
}

func (r *immediateRetry) MaxAttempts() int { return r.retries }

func rawEvents(events ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(events))
	for i, e := range events {
		out[i] = json.RawMessage(e)
	}
	return out
}

func TestSendBatch_Success(t *testing.T) {
	var gotBody trackRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/track" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(SendResult{Success: true, Inserted: 2, Total: 2})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, &immediateRetry{retries: 0})

	result, err := client.SendBatch(context.Background(), "session-1", rawEvents(`{"type":"click"}`, `{"type":"scroll"}`))
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if result.Inserted != 2 || result.Total != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotBody.SessionID != "session-1" {
		t.Errorf("got sessionId %q, want %q", gotBody.SessionID, "session-1")
	}
	if len(gotBody.Events) != 2 {
		t.Errorf("got %d events, want 2", len(gotBody.Events))
	}
}

func TestSendBatch_EmptyBatch(t *testing.T) {
	// No request should be issued for an empty batch.
	client := NewClient("http://127.0.0.1:0", time.Second, &immediateRetry{retries: 0})

	result, err := client.SendBatch(context.Background(), "session-1", nil)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if !result.Success {
		t.Fatal("expected trivial success for empty batch")
	}
}

func TestSendBatch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, &immediateRetry{retries: 3})

	_, err := client.SendBatch(context.Background(), "unknown", rawEvents(`{"type":"click"}`))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSendBatch_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(SendResult{Success: true, Inserted: 1, Total: 1})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, &immediateRetry{retries: 5})

	result, err := client.SendBatch(context.Background(), "session-1", rawEvents(`{"type":"click"}`))
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if result.Inserted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSendBatch_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, &immediateRetry{retries: 2})

	_, err := client.SendBatch(context.Background(), "session-1", rawEvents(`{"type":"click"}`))
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected wrapped ErrServerError, got %v", err)
	}
}

func TestSendBatch_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, &immediateRetry{retries: 5})

	_, err := client.SendBatch(context.Background(), "session-1", rawEvents(`{"type":"click"}`))
	if err == nil {
		t.Fatal("expected error for bad request")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 attempt for 4xx, got %d", got)
	}
}

func TestSendBatch_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, &immediateRetry{retries: 0})

	_, err := client.SendBatch(context.Background(), "session-1", rawEvents(`{"type":"click"}`))
	if err == nil {
		t.Fatal("expected error for malformed response body")
	}
}

func TestInitSession_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/session" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(SessionResult{
			SessionID: req.SessionID,
			Exists:    false,
			Created:   true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)

	result, err := client.InitSession(context.Background(), "session-1", "exp-a")
	if err != nil {
		t.Fatalf("InitSession: %v", err)
	}
	if !result.Created || result.Exists {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestInitSession_Timeout(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	client := NewClient(server.URL, 10*time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.InitSession(ctx, "session-1", "")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
