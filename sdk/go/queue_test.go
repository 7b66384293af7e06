package tracker

import (
	"encoding/json"
	"testing"
)

func queueEvents(q *sendQueue, types ...string) {
	for _, typ := range types {
		q.Append(json.RawMessage(`{"type":"` + typ + `"}`))
	}
}

func queueTypes(batch []json.RawMessage) []string {
	out := make([]string, len(batch))
	for i, raw := range batch {
		var e struct {
			Type string `json:"type"`
		}
		json.Unmarshal(raw, &e)
		out[i] = e.Type
	}
	return out
}

func TestSendQueue_FIFO(t *testing.T) {
	var q sendQueue
	queueEvents(&q, "a", "b", "c")

	batch := q.DrainBatch(2)
	if got := queueTypes(batch); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected batch: %v", got)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", q.Len())
	}
}

func TestSendQueue_DrainMoreThanQueued(t *testing.T) {
	var q sendQueue
	queueEvents(&q, "a")

	batch := q.DrainBatch(10)
	if len(batch) != 1 {
		t.Fatalf("expected 1 event, got %d", len(batch))
	}
	if q.DrainBatch(10) != nil {
		t.Fatal("expected nil batch from empty queue")
	}
}

func TestSendQueue_PrependPreservesOrder(t *testing.T) {
	var q sendQueue
	queueEvents(&q, "a", "b", "c", "d")

	// A failed batch goes back to the head ahead of newer events.
	batch := q.DrainBatch(2)
	queueEvents(&q, "e")
	q.PrependBatch(batch)

	all := q.DrainBatch(q.Len())
	want := []string{"a", "b", "c", "d", "e"}
	got := queueTypes(all)
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
}
