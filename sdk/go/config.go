package tracker

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultBatchSize          = 10
	DefaultSendInterval       = 5 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryDelay         = 2 * time.Second
	DefaultMaxOfflineEvents   = 1000
	DefaultTimeout            = 10 * time.Second
	DefaultSessionInitTimeout = 5 * time.Second
)

// Config holds the tracker configuration.
type Config struct {
	// ServerURL is the base URL of the tracking server (required,
	// e.g. "http://localhost:3001").
	ServerURL string

	// ExperimentID labels the experiment this session belongs to (optional).
	ExperimentID string

	// SessionID pins the session identifier. When empty the tracker reuses
	// the persisted identifier from a previous run, or generates a new one.
	SessionID string

	// BatchSize is the number of queued events that triggers a send (default: 10).
	BatchSize int

	// SendInterval is the maximum time between timed flushes (default: 5s).
	SendInterval time.Duration

	// MaxRetries is the maximum number of retry attempts per batch (default: 3).
	MaxRetries int

	// RetryDelay is the base delay for retry backoff (default: 2s).
	RetryDelay time.Duration

	// OfflineStorage enables the durable on-disk event store used while
	// the server is unreachable.
	OfflineStorage bool

	// MaxOfflineEvents bounds the offline store; the oldest events are
	// evicted when it fills (default: 1000).
	MaxOfflineEvents int

	// StoragePath is the sqlite file backing the offline store (required
	// when OfflineStorage is set).
	StoragePath string

	// Timeout is the HTTP request timeout (default: 10s).
	Timeout time.Duration

	// SessionInitTimeout bounds session registration during Start; on
	// expiry the tracker starts in offline mode (default: 5s).
	SessionInitTimeout time.Duration
}

// validate checks that required fields are set and values are valid.
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("tracker: ServerURL is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return errors.New("tracker: ServerURL must be a valid URL")
	}
	if c.OfflineStorage && c.StoragePath == "" {
		return errors.New("tracker: StoragePath is required when OfflineStorage is enabled")
	}
	if c.BatchSize < 0 {
		return errors.New("tracker: BatchSize must be non-negative")
	}
	if c.SendInterval < 0 {
		return errors.New("tracker: SendInterval must be non-negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("tracker: MaxRetries must be non-negative")
	}
	if c.RetryDelay < 0 {
		return errors.New("tracker: RetryDelay must be non-negative")
	}
	if c.MaxOfflineEvents < 0 {
		return errors.New("tracker: MaxOfflineEvents must be non-negative")
	}
	return nil
}

// withDefaults returns a copy of the config with default values applied.
func (c Config) withDefaults() Config {
	cfg := c

	cfg.ServerURL = strings.TrimSuffix(cfg.ServerURL, "/")

	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SendInterval == 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxOfflineEvents == 0 {
		cfg.MaxOfflineEvents = DefaultMaxOfflineEvents
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SessionInitTimeout == 0 {
		cfg.SessionInitTimeout = DefaultSessionInitTimeout
	}

	return cfg
}
