// Package tracker provides an embeddable client for recording user
// interaction events and delivering them in batches to an activity
// tracking server, with retry, offline buffering, and durable storage.
package tracker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a single user interaction. Type is required; URL and
// TimestampMs are filled in by the tracker when left zero. Payload holds
// arbitrary additional attributes and is flattened into the event object
// on the wire, so a payload key "x" serializes as a top-level "x" field.
type Event struct {
	// Type classifies the interaction (e.g. "click", "scroll", "pageview").
	Type string

	// URL is the page or screen the event occurred on.
	URL string

	// TimestampMs is the client-side occurrence time in Unix milliseconds.
	TimestampMs int64

	// Payload holds extra event attributes. The reserved keys "type",
	// "url", and "timestamp" are overridden by the fields above.
	Payload map[string]any
}

// MarshalJSON flattens the payload into the top-level object.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj["type"] = e.Type
	if e.URL != "" {
		obj["url"] = e.URL
	}
	if e.TimestampMs != 0 {
		obj["timestamp"] = e.TimestampMs
	}
	return json.Marshal(obj)
}

// UnmarshalJSON is the inverse of MarshalJSON: known fields are lifted
// out of the object and the remainder becomes the payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	if v, ok := obj["type"].(string); ok {
		e.Type = v
	}
	if v, ok := obj["url"].(string); ok {
		e.URL = v
	}
	if v, ok := obj["timestamp"].(float64); ok {
		e.TimestampMs = int64(v)
	}
	delete(obj, "type")
	delete(obj, "url")
	delete(obj, "timestamp")

	if len(obj) > 0 {
		e.Payload = obj
	} else {
		e.Payload = nil
	}
	return nil
}

// withDefaults stamps the occurrence time when the caller left it zero.
func (e Event) withDefaults() Event {
	if e.TimestampMs == 0 {
		e.TimestampMs = time.Now().UnixMilli()
	}
	return e
}
