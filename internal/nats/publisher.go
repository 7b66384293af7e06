package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/yuxdigital/activitytrack/internal/events"
)

// Publisher publishes accepted events to NATS JetStream as JSON.
type Publisher struct {
	js         jetstream.JetStream
	streamName string
	logger     *slog.Logger
}

// NewPublisher creates a new event publisher.
func NewPublisher(js jetstream.JetStream, streamName string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:         js,
		streamName: streamName,
		logger:     logger.With("component", "publisher"),
	}
}

// PublishEvent publishes a single accepted event to its derived subject.
func (p *Publisher) PublishEvent(ctx context.Context, event events.Accepted) error {
	subject := events.Subject(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published",
		"session_id", event.SessionID,
		"subject", subject,
		"stream", ack.Stream,
		"sequence", ack.Sequence,
	)

	return nil
}

// PublishBatch publishes multiple accepted events, continuing past
// individual failures. Returns the number of successfully published events.
func (p *Publisher) PublishBatch(ctx context.Context, batch []events.Accepted) (int, error) {
	published := 0

	for _, event := range batch {
		if err := p.PublishEvent(ctx, event); err != nil {
			p.logger.Error("failed to publish event in batch",
				"session_id", event.SessionID,
				"event_type", event.EventType,
				"error", err,
			)
			continue
		}
		published++
	}

	if published < len(batch) {
		return published, fmt.Errorf("%w: %d of %d failed", ErrPartialPublish, len(batch)-published, len(batch))
	}

	return published, nil
}
