package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yuxdigital/activitytrack/internal/observability"
)

// Deps holds the collaborators mounted on the HTTP server. StatsHandler,
// MetricsHandler, Metrics, and HealthCheck are optional.
type Deps struct {
	// Handler serves the session and track endpoints.
	Handler *Handler

	// StatsHandler serves /api/stats and /api/export/. May be nil.
	StatsHandler http.Handler

	// MetricsHandler serves /metrics. May be nil.
	MetricsHandler http.Handler

	// Metrics enables HTTP instrumentation middleware. May be nil.
	Metrics *observability.Metrics

	// HealthCheck reports dependency health for /health. May be nil,
	// in which case /health always reports ok.
	HealthCheck func(ctx context.Context) error
}

// Server is the ingestion HTTP server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer assembles the HTTP server: routes, middleware chain, and
// timeouts from the configuration.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http-server")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", deps.Handler.HandleSession)
	mux.HandleFunc("POST /api/track", deps.Handler.HandleTrack)
	mux.HandleFunc("GET /health", healthHandler(deps.HealthCheck))

	if deps.StatsHandler != nil {
		mux.Handle("GET /api/stats", deps.StatsHandler)
		mux.Handle("GET /api/export/", deps.StatsHandler)
	}
	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}

	var handler http.Handler = mux
	handler = MaxBody(cfg.MaxBodyBytes)(handler)
	handler = PerIPRateLimit(cfg.RateLimit)(handler)
	handler = CORS(cfg.CORS)(handler)
	if deps.Metrics != nil {
		handler = observability.HTTPMetrics(deps.Metrics)(handler)
	}
	handler = RequestLogger(logger)(handler)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		logger: logger,
	}
}

// Start listens and serves until Shutdown is called. It returns nil on
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within the configured
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// healthHandler serves the liveness endpoint, consulting the dependency
// check when one is configured.
func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
