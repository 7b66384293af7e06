// Package events provides the shared accepted-event type and NATS subject
// derivation used by the ingestion service and downstream consumers.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// TypeUnknown is used for events whose type cannot be mapped to a subject.
const TypeUnknown = "unknown"

// Accepted is an event that passed validation and was persisted. It is the
// payload published to the event stream for downstream consumers.
type Accepted struct {
	// SessionID is the originating session.
	SessionID string `json:"session_id"`

	// EventType classifies the interaction.
	EventType string `json:"event_type"`

	// URL is the page the event occurred on, if reported.
	URL string `json:"url,omitempty"`

	// TimestampMs is the client-side occurrence time in Unix milliseconds.
	TimestampMs int64 `json:"timestamp_ms,omitempty"`

	// ReceivedAtMs is the server-side acceptance time in Unix milliseconds.
	ReceivedAtMs int64 `json:"received_at_ms"`

	// Payload carries the event attributes beyond the well-known fields.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subject derives the NATS subject for an accepted event.
// Format: events.{type}, with the type sanitized for subject use.
func Subject(e Accepted) string {
	return fmt.Sprintf("events.%s", SanitizeSubjectName(e.EventType))
}

// SanitizeSubjectName makes an event type safe for use as a NATS subject
// token: lowercase, alphanumerics and underscores only. Empty input maps
// to TypeUnknown.
func SanitizeSubjectName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '_' || r == '-':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return TypeUnknown
	}
	return b.String()
}
