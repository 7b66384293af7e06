package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/yuxdigital/activitytrack/internal/events"
)

// EventRow is the flattened structure for Parquet storage.
// This schema is optimized for analytics queries via Hive/Athena.
type EventRow struct {
	SessionID    string `parquet:"session_id,snappy,dict"`
	EventType    string `parquet:"event_type,snappy,dict"`
	URL          string `parquet:"url,snappy,optional"`
	TimestampMS  int64  `parquet:"timestamp_ms,optional"`
	ReceivedAtMS int64  `parquet:"received_at_ms"`

	// Payload as JSON (keys vary per event type)
	PayloadJSON string `parquet:"payload_json,snappy"`

	// Partition columns (for Hive partitioning)
	Year  int `parquet:"year,dict"`
	Month int `parquet:"month,dict"`
	Day   int `parquet:"day,dict"`
	Hour  int `parquet:"hour,dict"`
}

// EventRowFrom converts an accepted event to an EventRow for the given
// partition.
func EventRowFrom(event events.Accepted, year, month, day, hour int) EventRow {
	payload := "{}"
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}

	return EventRow{
		SessionID:    event.SessionID,
		EventType:    event.EventType,
		URL:          event.URL,
		TimestampMS:  event.TimestampMs,
		ReceivedAtMS: event.ReceivedAtMs,
		PayloadJSON:  payload,
		Year:         year,
		Month:        month,
		Day:          day,
		Hour:         hour,
	}
}

// PartitionTime returns the time used for partitioning an event: the
// client-side occurrence time when reported, the server-side receipt time
// otherwise.
func PartitionTime(event events.Accepted) time.Time {
	if event.TimestampMs != 0 {
		return time.UnixMilli(event.TimestampMs).UTC()
	}
	return time.UnixMilli(event.ReceivedAtMs).UTC()
}

// ParquetWriter handles writing events to Parquet format.
type ParquetWriter struct {
	config ParquetConfig
}

// NewParquetWriter creates a new Parquet writer.
func NewParquetWriter(cfg ParquetConfig) *ParquetWriter {
	return &ParquetWriter{
		config: cfg,
	}
}

// Write writes a batch of event rows to Parquet format and returns the bytes.
func (w *ParquetWriter) Write(rows []EventRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNoRowsToWrite
	}

	var buf bytes.Buffer

	codec := w.getCompressionCodec()

	writer := parquet.NewGenericWriter[EventRow](&buf,
		parquet.Compression(codec),
		parquet.CreatedBy("activitytrack-archiver", "1.0.0", ""),
	)

	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// getCompressionCodec returns the compression codec based on config.
func (w *ParquetWriter) getCompressionCodec() compress.Codec {
	switch w.config.Compression {
	case "snappy":
		return &parquet.Snappy
	case "gzip":
		return &parquet.Gzip
	case "zstd":
		return &parquet.Zstd
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}
