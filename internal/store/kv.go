package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetKV returns the raw value stored under key and its age, or ok=false if
// no row exists.
func (s *Store) GetKV(key string) (value string, updatedAt time.Time, ok bool, err error) {
	err = s.withLock(func(db *sql.DB) error {
		var unix int64
		row := db.QueryRow(`SELECT value, updated_at FROM kv_store WHERE key = ?`, key)
		e := row.Scan(&value, &unix)
		if e == sql.ErrNoRows {
			return nil
		}
		if e != nil {
			return fmt.Errorf("store: get kv %s: %w", key, e)
		}
		ok = true
		updatedAt = time.Unix(unix, 0)
		return nil
	})
	return value, updatedAt, ok, err
}

// SetKV upserts a key/value pair, stamping the current time.
func (s *Store) SetKV(key, value string) error {
	return s.withLock(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("store: set kv %s: %w", key, err)
		}
		return nil
	})
}

// DeleteKV removes a key; deleting the snapshot cache key forces a refresh.
func (s *Store) DeleteKV(key string) error {
	return s.withLock(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM kv_store WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("store: delete kv %s: %w", key, err)
		}
		return nil
	})
}
