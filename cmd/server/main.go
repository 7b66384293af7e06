// Command server runs the HTTP ingestion service for activity tracking.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v10"

	"github.com/yuxdigital/activitytrack/internal/ingest"
	"github.com/yuxdigital/activitytrack/internal/nats"
	"github.com/yuxdigital/activitytrack/internal/observability"
	"github.com/yuxdigital/activitytrack/internal/stats"
	"github.com/yuxdigital/activitytrack/internal/store"
)

// Config holds all server configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// HTTP server configuration
	HTTP ingest.Config `envPrefix:""`

	// Database configuration
	DB store.Config `envPrefix:"DB_"`

	// NATS configuration
	NATS nats.Config `envPrefix:""`

	// NATSEnabled toggles stream notifications for accepted events
	NATSEnabled bool `env:"NATS_ENABLED" envDefault:"true"`
}

func main() {
	// Load configuration from environment
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting activity tracking server",
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTP.Addr,
		"db_host", cfg.DB.Host,
		"nats_enabled", cfg.NATSEnabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Setup observability
	obs, err := observability.New("activitytrack-server")
	if err != nil {
		logger.Error("failed to setup observability", "error", err)
		os.Exit(1)
	}
	metrics, err := observability.NewMetrics(obs.Meter())
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	// Connect to the database and apply the schema
	storeClient, err := store.NewClient(ctx, cfg.DB, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer storeClient.Close()

	if err := storeClient.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	sessions := store.NewSessionStore(storeClient)
	eventStore := store.NewEventStore(storeClient)

	// Connect to NATS when enabled
	var (
		natsClient *nats.Client
		publisher  ingest.Publisher
	)
	if cfg.NATSEnabled {
		natsClient, err = nats.NewClient(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		streamMgr := nats.NewStreamManager(natsClient.JetStream(), cfg.NATS.Stream, logger)
		if _, err := streamMgr.EnsureStream(ctx); err != nil {
			logger.Error("failed to ensure stream", "error", err)
			os.Exit(1)
		}

		publisher = nats.NewPublisher(natsClient.JetStream(), cfg.NATS.Stream.Name, logger)
	}

	// Assemble the ingestion service and HTTP server
	service := ingest.NewService(sessions, eventStore, publisher, metrics, logger)
	handler := ingest.NewHandler(service, logger)

	statsService := stats.NewService(sessions, eventStore, logger)
	statsHandler := stats.NewHandler(statsService, logger)

	healthCheck := func(ctx context.Context) error {
		if err := storeClient.Ping(ctx); err != nil {
			return err
		}
		if natsClient != nil {
			return natsClient.HealthCheck(ctx)
		}
		return nil
	}

	server := ingest.NewServer(cfg.HTTP, ingest.Deps{
		Handler:        handler,
		StatsHandler:   statsHandler,
		MetricsHandler: obs.MetricsHandler(),
		Metrics:        metrics,
		HealthCheck:    healthCheck,
	}, logger)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if natsClient != nil {
		if err := natsClient.Drain(); err != nil {
			logger.Error("NATS drain error", "error", err)
		}
	}

	if err := obs.Shutdown(context.Background()); err != nil {
		logger.Error("observability shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
