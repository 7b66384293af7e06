package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/yuxdigital/activitytrack/internal/events"
)

func TestParquetWriter_RoundTrip(t *testing.T) {
	writer := NewParquetWriter(ParquetConfig{Compression: "snappy"})

	rows := []EventRow{
		{
			SessionID:    "s1",
			EventType:    "click",
			URL:          "/checkout",
			TimestampMS:  1712345678901,
			ReceivedAtMS: 1712345679000,
			PayloadJSON:  `{"elementId":"buy"}`,
			Year:         2024, Month: 4, Day: 5, Hour: 17,
		},
		{
			SessionID:    "s2",
			EventType:    "scroll",
			ReceivedAtMS: 1712345680000,
			PayloadJSON:  "{}",
			Year:         2024, Month: 4, Day: 5, Hour: 17,
		},
	}

	data, err := writer.Write(rows)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty parquet output")
	}

	decoded, err := parquet.Read[EventRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(decoded))
	}
	if decoded[0] != rows[0] {
		t.Fatalf("row mismatch:\n got %+v\nwant %+v", decoded[0], rows[0])
	}
}

func TestParquetWriter_EmptyBatch(t *testing.T) {
	writer := NewParquetWriter(ParquetConfig{})

	if _, err := writer.Write(nil); !errors.Is(err, ErrNoRowsToWrite) {
		t.Fatalf("expected ErrNoRowsToWrite, got %v", err)
	}
}

func TestParquetWriter_CompressionCodecs(t *testing.T) {
	rows := []EventRow{{SessionID: "s1", EventType: "click", ReceivedAtMS: 1, PayloadJSON: "{}"}}

	for _, codec := range []string{"snappy", "gzip", "zstd", "none", "bogus"} {
		t.Run(codec, func(t *testing.T) {
			writer := NewParquetWriter(ParquetConfig{Compression: codec})
			if _, err := writer.Write(rows); err != nil {
				t.Fatalf("Write with %s: %v", codec, err)
			}
		})
	}
}

func TestEventRowFrom(t *testing.T) {
	event := events.Accepted{
		SessionID:    "s1",
		EventType:    "click",
		URL:          "/a",
		TimestampMs:  100,
		ReceivedAtMs: 200,
		Payload:      json.RawMessage(`{"x":1}`),
	}

	row := EventRowFrom(event, 2025, 6, 1, 12)
	if row.SessionID != "s1" || row.EventType != "click" || row.PayloadJSON != `{"x":1}` {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Year != 2025 || row.Month != 6 || row.Day != 1 || row.Hour != 12 {
		t.Fatalf("unexpected partition columns: %+v", row)
	}

	// Events without extra attributes archive an empty JSON object.
	row = EventRowFrom(events.Accepted{SessionID: "s2", EventType: "scroll"}, 2025, 6, 1, 12)
	if row.PayloadJSON != "{}" {
		t.Fatalf("expected empty payload object, got %q", row.PayloadJSON)
	}
}

func TestPartitionTime(t *testing.T) {
	clientTime := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	serverTime := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)

	withClient := events.Accepted{
		TimestampMs:  clientTime.UnixMilli(),
		ReceivedAtMs: serverTime.UnixMilli(),
	}
	if got := PartitionTime(withClient); !got.Equal(clientTime) {
		t.Errorf("PartitionTime = %v, want client time %v", got, clientTime)
	}

	withoutClient := events.Accepted{ReceivedAtMs: serverTime.UnixMilli()}
	if got := PartitionTime(withoutClient); !got.Equal(serverTime) {
		t.Errorf("PartitionTime = %v, want server time %v", got, serverTime)
	}
}
