package tracker

import (
	"encoding/json"
	"testing"
)

func TestEvent_MarshalFlattensPayload(t *testing.T) {
	event := Event{
		Type:        "click",
		URL:         "/checkout",
		TimestampMs: 1712345678901,
		Payload: map[string]any{
			"elementId": "buy-button",
			"x":         42.0,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if obj["type"] != "click" || obj["url"] != "/checkout" {
		t.Fatalf("unexpected object: %v", obj)
	}
	if obj["timestamp"] != float64(1712345678901) {
		t.Fatalf("unexpected timestamp: %v", obj["timestamp"])
	}
	if obj["elementId"] != "buy-button" || obj["x"] != 42.0 {
		t.Fatalf("payload not flattened: %v", obj)
	}
	if _, ok := obj["Payload"]; ok {
		t.Fatal("payload leaked as nested field")
	}
}

func TestEvent_ReservedKeysWin(t *testing.T) {
	event := Event{
		Type:    "scroll",
		Payload: map[string]any{"type": "spoofed"},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if obj["type"] != "scroll" {
		t.Fatalf("payload overrode reserved key: %v", obj["type"])
	}
}

func TestEvent_RoundTrip(t *testing.T) {
	original := Event{
		Type:        "pageview",
		URL:         "/home",
		TimestampMs: 1700000000000,
		Payload:     map[string]any{"referrer": "/login"},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Type != original.Type || decoded.URL != original.URL || decoded.TimestampMs != original.TimestampMs {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Payload["referrer"] != "/login" {
		t.Fatalf("payload lost: %+v", decoded.Payload)
	}
}

func TestEvent_UnmarshalWithoutPayload(t *testing.T) {
	var event Event
	if err := json.Unmarshal([]byte(`{"type":"click","url":"/a","timestamp":5}`), &event); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if event.Payload != nil {
		t.Fatalf("expected nil payload, got %v", event.Payload)
	}
}
