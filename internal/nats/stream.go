package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamManager handles JetStream stream creation and management.
type StreamManager struct {
	js     jetstream.JetStream
	config StreamConfig
	logger *slog.Logger
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(js jetstream.JetStream, cfg StreamConfig, logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		js:     js,
		config: cfg,
		logger: logger.With("component", "stream-manager"),
	}
}

// EnsureStream creates or updates the stream with the configured settings.
func (m *StreamManager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	storage := jetstream.FileStorage
	if strings.ToLower(m.config.Storage) == "memory" {
		storage = jetstream.MemoryStorage
	}

	streamCfg := jetstream.StreamConfig{
		Name:        m.config.Name,
		Subjects:    m.config.Subjects,
		Storage:     storage,
		MaxAge:      m.config.MaxAge,
		MaxBytes:    m.config.MaxBytes,
		Replicas:    m.config.Replicas,
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	// Try to get existing stream first
	_, err := m.js.Stream(ctx, m.config.Name)
	if err == nil {
		m.logger.Info("updating existing stream", "name", m.config.Name)
		stream, err := m.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to update stream: %w", err)
		}
		return stream, nil
	}

	m.logger.Info("creating new stream", "name", m.config.Name, "subjects", m.config.Subjects)
	stream, err := m.js.CreateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	m.logger.Info("stream created",
		"name", m.config.Name,
		"storage", m.config.Storage,
		"max_age", m.config.MaxAge,
		"max_bytes", m.config.MaxBytes,
	)

	return stream, nil
}

// EnsureConsumer creates or updates a durable consumer on the stream.
func (m *StreamManager) EnsureConsumer(ctx context.Context, stream jetstream.Stream, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxAckPending: cfg.MaxAckPending,
		MaxDeliver:    cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	// Try to get existing consumer first
	_, err := stream.Consumer(ctx, cfg.Name)
	if err == nil {
		m.logger.Info("updating existing consumer", "name", cfg.Name)
		consumer, err := stream.UpdateConsumer(ctx, consumerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to update consumer: %w", err)
		}
		return consumer, nil
	}

	m.logger.Info("creating new consumer",
		"name", cfg.Name,
		"filter", cfg.FilterSubject,
	)
	consumer, err := stream.CreateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	m.logger.Info("consumer created", "name", cfg.Name)
	return consumer, nil
}
