package tracker

import "encoding/json"

// sendQueue is the in-memory FIFO of serialized events awaiting delivery.
// It is not safe for concurrent use; the tracker guards it with its mutex.
type sendQueue struct {
	items []json.RawMessage
}

// Append adds an event to the tail of the queue.
func (q *sendQueue) Append(event json.RawMessage) {
	q.items = append(q.items, event)
}

// DrainBatch removes and returns up to n events from the head of the queue.
func (q *sendQueue) DrainBatch(n int) []json.RawMessage {
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	batch := make([]json.RawMessage, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}

// PrependBatch reinserts a failed batch at the head of the queue so the
// original event order is preserved on retry.
func (q *sendQueue) PrependBatch(batch []json.RawMessage) {
	if len(batch) == 0 {
		return
	}
	q.items = append(append(make([]json.RawMessage, 0, len(batch)+len(q.items)), batch...), q.items...)
}

// Len returns the number of queued events.
func (q *sendQueue) Len() int {
	return len(q.items)
}
