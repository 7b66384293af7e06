package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors surfaced to the tracker for failure classification.
var (
	// ErrSessionNotFound indicates the server does not know the session;
	// the tracker must re-run session initialization before retrying.
	ErrSessionNotFound = errors.New("session not found")

	// ErrServerError wraps transient server-side failures (5xx) that were
	// not resolved within the retry budget.
	ErrServerError = errors.New("server error")
)

// SessionResult holds the outcome of a session initialization call.
type SessionResult struct {
	SessionID string `json:"sessionId"`
	Exists    bool   `json:"exists"`
	Created   bool   `json:"created,omitempty"`
}

// EventError describes a single event the server rejected within an
// otherwise accepted batch.
type EventError struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// SendResult holds the outcome of a batch send. A non-empty Errors list
// does not imply total failure: the batch may have partially succeeded.
type SendResult struct {
	Success  bool         `json:"success"`
	Inserted int          `json:"inserted"`
	Total    int          `json:"total"`
	Errors   []EventError `json:"errors"`
}

// sessionRequest is the wire body for POST /api/session.
type sessionRequest struct {
	SessionID    string `json:"sessionId"`
	ExperimentID string `json:"experimentId,omitempty"`
}

// trackRequest is the wire body for POST /api/track.
type trackRequest struct {
	SessionID string            `json:"sessionId"`
	Events    []json.RawMessage `json:"events"`
}

// Client sends session registrations and event batches to the tracking
// server over JSON HTTP. Transient failures (network errors, 5xx, 429) are
// retried with the configured strategy; client errors return immediately.
type Client struct {
	httpClient *http.Client
	endpoint   string
	retry      RetryStrategy
}

// NewClient creates a transport client for the given server base URL.
// If retry is nil, DefaultRetry is used.
func NewClient(endpoint string, timeout time.Duration, retry RetryStrategy) *Client {
	if retry == nil {
		retry = DefaultRetry
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		retry:      retry,
	}
}

// InitSession registers the session with the server. It makes a single
// attempt bounded by the context deadline; on expiry the caller degrades to
// offline mode rather than retrying synchronously.
func (c *Client) InitSession(ctx context.Context, sessionID, experimentID string) (*SessionResult, error) {
	body, err := json.Marshal(sessionRequest{
		SessionID:    sessionID,
		ExperimentID: experimentID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/session", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("session init: unexpected status %d", resp.StatusCode)
	}

	var result SessionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}

	return &result, nil
}

// SendBatch delivers a batch of serialized events in one request.
// It retries on network errors, 429, and 5xx with the configured strategy.
// A 404 returns ErrSessionNotFound so the caller can re-initialize; other
// 4xx responses and malformed response bodies fail without retry.
func (c *Client) SendBatch(ctx context.Context, sessionID string, events []json.RawMessage) (*SendResult, error) {
	if len(events) == 0 {
		return &SendResult{Success: true}, nil
	}

	body, err := json.Marshal(trackRequest{
		SessionID: sessionID,
		Events:    events,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	url := c.endpoint + "/api/track"

	var lastErr error
	maxAttempts := c.retry.MaxAttempts()

	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context canceled: %w", err)
		}

		if attempt > 0 {
			delay := c.retry.NextDelay(attempt - 1)
			if delay == 0 {
				break
			}
			if !sleepWithContext(ctx, delay) {
				return nil, fmt.Errorf("context canceled during retry wait: %w", ctx.Err())
			}
		}

		result, retryable, err := c.attemptSend(ctx, url, body)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
	}
	return nil, fmt.Errorf("all retries exhausted")
}

// attemptSend performs one delivery attempt. The second return value
// reports whether the failure is retryable.
func (c *Client) attemptSend(ctx context.Context, url string, body []byte) (*SendResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result SendResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, false, fmt.Errorf("malformed response: %w", err)
		}
		return &result, false, nil

	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, ErrSessionNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("rate limited: status %d", resp.StatusCode)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("client error: status %d", resp.StatusCode)

	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	}
}

// sleepWithContext sleeps for the given duration or until the context is
// canceled. Returns true if the full sleep completed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
