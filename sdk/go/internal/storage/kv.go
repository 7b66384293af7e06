package storage

import (
	"database/sql"
	"fmt"
)

// KV is a string key-value surface backed by the tracker_kv table.
// The tracker uses it to persist the session identifier across restarts.
type KV struct {
	db *DB
}

// NewKV creates a KV store backed by the given database.
func NewKV(db *DB) *KV {
	return &KV{db: db}
}

// Get returns the value for key, or empty string if the key is absent.
func (kv *KV) Get(key string) (string, error) {
	var value string
	err := kv.db.QueryRow(
		"SELECT value FROM tracker_kv WHERE key = ?",
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}

	return value, nil
}

// Set stores value under key, replacing any existing value.
func (kv *KV) Set(key, value string) error {
	_, err := kv.db.Exec(
		"INSERT OR REPLACE INTO tracker_kv (key, value) VALUES (?, ?)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (kv *KV) Remove(key string) error {
	_, err := kv.db.Exec("DELETE FROM tracker_kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}
