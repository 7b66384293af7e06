package tracker

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{ServerURL: "http://localhost:3001/"}.withDefaults()

	if cfg.ServerURL != "http://localhost:3001" {
		t.Errorf("trailing slash not trimmed: %q", cfg.ServerURL)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, DefaultBatchSize)
	}
	if cfg.SendInterval != DefaultSendInterval {
		t.Errorf("SendInterval = %v, want %v", cfg.SendInterval, DefaultSendInterval)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, DefaultMaxRetries)
	}
	if cfg.RetryDelay != DefaultRetryDelay {
		t.Errorf("RetryDelay = %v, want %v", cfg.RetryDelay, DefaultRetryDelay)
	}
	if cfg.MaxOfflineEvents != DefaultMaxOfflineEvents {
		t.Errorf("MaxOfflineEvents = %d, want %d", cfg.MaxOfflineEvents, DefaultMaxOfflineEvents)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.SessionInitTimeout != DefaultSessionInitTimeout {
		t.Errorf("SessionInitTimeout = %v, want %v", cfg.SessionInitTimeout, DefaultSessionInitTimeout)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{ServerURL: "http://localhost:3001"}, false},
		{"missing server url", Config{}, true},
		{"offline without path", Config{ServerURL: "http://localhost:3001", OfflineStorage: true}, true},
		{"offline with path", Config{ServerURL: "http://localhost:3001", OfflineStorage: true, StoragePath: "/tmp/t.db"}, false},
		{"negative batch size", Config{ServerURL: "http://localhost:3001", BatchSize: -1}, true},
		{"negative interval", Config{ServerURL: "http://localhost:3001", SendInterval: -time.Second}, true},
		{"negative retries", Config{ServerURL: "http://localhost:3001", MaxRetries: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
