package ingest

import "errors"

// Sentinel errors for the ingest package.
var (
	ErrSessionIDRequired = errors.New("sessionId is required")
	ErrEventsRequired    = errors.New("events array is required")
	ErrSessionNotFound   = errors.New("session not found")
)
