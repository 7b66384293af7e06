package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments used across the tracking services.
// Instruments are created once at startup and shared with middleware,
// handlers, and service components.
type Metrics struct {
	// HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// Ingestion metrics
	SessionsCreated otelmetric.Int64Counter
	EventsInserted  otelmetric.Int64Counter
	EventsRejected  otelmetric.Int64Counter
	IngestBatchSize otelmetric.Int64Histogram
	IngestDuration  otelmetric.Float64Histogram

	// NATS metrics
	EventsPublished       otelmetric.Int64Counter
	PublishFailures       otelmetric.Int64Counter
	NATSMessagesProcessed otelmetric.Int64Counter

	// Archive metrics
	ArchiveFilesWritten otelmetric.Int64Counter
	ArchiveFileSize     otelmetric.Int64Histogram
	ArchiveFlushLatency otelmetric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given Meter.
// Each instrument is created with a descriptive name, unit, and description
// following OpenTelemetry semantic conventions.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestTotal, err = meter.Int64Counter(
		"http.request.total",
		otelmetric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestErrors, err = meter.Int64Counter(
		"http.request.errors",
		otelmetric.WithDescription("HTTP request errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// Ingestion metrics
	m.SessionsCreated, err = meter.Int64Counter(
		"ingest.sessions.created",
		otelmetric.WithDescription("Sessions created"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsInserted, err = meter.Int64Counter(
		"ingest.events.inserted",
		otelmetric.WithDescription("Events persisted"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsRejected, err = meter.Int64Counter(
		"ingest.events.rejected",
		otelmetric.WithDescription("Events rejected during batch ingestion"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestBatchSize, err = meter.Int64Histogram(
		"ingest.batch.size",
		otelmetric.WithDescription("Ingested batch sizes"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestDuration, err = meter.Float64Histogram(
		"ingest.batch.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Batch ingestion duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	// NATS metrics
	m.EventsPublished, err = meter.Int64Counter(
		"nats.events.published",
		otelmetric.WithDescription("Accepted events published to the stream"),
	)
	if err != nil {
		return nil, err
	}

	m.PublishFailures, err = meter.Int64Counter(
		"nats.publish.failures",
		otelmetric.WithDescription("Failed stream publishes"),
	)
	if err != nil {
		return nil, err
	}

	m.NATSMessagesProcessed, err = meter.Int64Counter(
		"nats.messages.processed",
		otelmetric.WithDescription("NATS messages consumed"),
	)
	if err != nil {
		return nil, err
	}

	// Archive metrics
	m.ArchiveFilesWritten, err = meter.Int64Counter(
		"archive.files.written",
		otelmetric.WithDescription("Archive files written to object storage"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFileSize, err = meter.Int64Histogram(
		"archive.file.size",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Archive file sizes in bytes"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFlushLatency, err = meter.Float64Histogram(
		"archive.flush.latency",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Archive flush latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
