package storage

import (
	"fmt"
	"path/filepath"
	"testing"
)

// newTestLog creates an OfflineLog with a temporary database for testing.
func newTestLog(t *testing.T, maxSize int) (*OfflineLog, *DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewOfflineLog(db, maxSize), db
}

func TestAppend_DrainAll(t *testing.T) {
	l, _ := newTestLog(t, 100)

	events := []string{`{"type":"click"}`, `{"type":"scroll"}`, `{"type":"keyup"}`}
	if err := l.Append(events); err != nil {
		t.Fatalf("Append: %v", err)
	}

	count, err := l.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 events, got %d", count)
	}

	drained, err := l.DrainAll()
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained events, got %d", len(drained))
	}
	for i, want := range events {
		if drained[i] != want {
			t.Errorf("event %d: got %s, want %s", i, drained[i], want)
		}
	}

	// Drain clears the log wholesale.
	count, err = l.Count()
	if err != nil {
		t.Fatalf("Count after drain: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty log after drain, got %d", count)
	}
}

func TestDrainAll_Empty(t *testing.T) {
	l, _ := newTestLog(t, 100)

	drained, err := l.DrainAll()
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if len(drained) != 0 {
		t.Fatalf("expected 0 events, got %d", len(drained))
	}
}

func TestAppend_CapacityEviction(t *testing.T) {
	maxSize := 5
	l, _ := newTestLog(t, maxSize)

	// Fill past capacity: maxSize + 3 events, oldest 3 should be evicted.
	var events []string
	for i := 0; i < maxSize+3; i++ {
		events = append(events, fmt.Sprintf(`{"n":%d}`, i))
	}
	for _, e := range events {
		if err := l.Append([]string{e}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	count, err := l.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != maxSize {
		t.Fatalf("expected %d events after eviction, got %d", maxSize, count)
	}

	// Only the most recent maxSize entries survive, in order.
	drained, err := l.DrainAll()
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	for i, e := range drained {
		want := fmt.Sprintf(`{"n":%d}`, i+3)
		if e != want {
			t.Errorf("event %d: got %s, want %s", i, e, want)
		}
	}
}

func TestAppend_BatchLargerThanRemaining(t *testing.T) {
	l, _ := newTestLog(t, 4)

	if err := l.Append([]string{`{"n":0}`, `{"n":1}`, `{"n":2}`}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append([]string{`{"n":3}`, `{"n":4}`}); err != nil {
		t.Fatalf("Append overflow: %v", err)
	}

	count, err := l.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 events, got %d", count)
	}

	drained, err := l.DrainAll()
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if drained[0] != `{"n":1}` {
		t.Fatalf("expected oldest surviving event {\"n\":1}, got %s", drained[0])
	}
}

func TestAppend_SingleBatchAboveCapacity(t *testing.T) {
	maxSize := 4
	l, _ := newTestLog(t, maxSize)

	// One oversized append: only the newest maxSize entries may land.
	var events []string
	for i := 0; i < maxSize+3; i++ {
		events = append(events, fmt.Sprintf(`{"n":%d}`, i))
	}
	if err := l.Append(events); err != nil {
		t.Fatalf("Append: %v", err)
	}

	count, err := l.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != maxSize {
		t.Fatalf("expected %d events, got %d", maxSize, count)
	}

	drained, err := l.DrainAll()
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	for i, e := range drained {
		want := fmt.Sprintf(`{"n":%d}`, i+3)
		if e != want {
			t.Errorf("event %d: got %s, want %s", i, e, want)
		}
	}
}

func TestClear(t *testing.T) {
	l, _ := newTestLog(t, 100)

	if err := l.Append([]string{`{"type":"click"}`}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	count, err := l.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 events after clear, got %d", count)
	}
}
