package ingest

import "encoding/json"

// SessionRequest is the body of POST /api/session.
type SessionRequest struct {
	SessionID    string `json:"sessionId"`
	ExperimentID string `json:"experimentId"`
}

// ClientInfo carries connection metadata recorded alongside a new session.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// SessionResponse acknowledges a session registration. Exists reports
// whether the session was already known; Created is set when a new row
// was written.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
	Exists    bool   `json:"exists"`
	Created   bool   `json:"created,omitempty"`
}

// TrackRequest is the body of POST /api/track. Events is a pointer so a
// missing array can be told apart from an empty one: missing is a client
// error, empty is a trivially accepted batch.
type TrackRequest struct {
	SessionID string             `json:"sessionId"`
	Events    *[]json.RawMessage `json:"events"`
}

// EventError identifies one rejected event within an accepted batch.
// Event holds a truncated preview of the offending payload.
type EventError struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// TrackResponse reports the outcome of a batch ingestion. Inserted may be
// lower than Total when individual events were rejected; the batch as a
// whole still succeeds.
type TrackResponse struct {
	Success  bool         `json:"success"`
	Inserted int          `json:"inserted"`
	Total    int          `json:"total"`
	Errors   []EventError `json:"errors,omitempty"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
