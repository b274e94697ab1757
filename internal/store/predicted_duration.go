package store

import (
	"database/sql"
	"fmt"
	"time"
)

// predictedDurationKey builds the cache key for a title/sport pair.
func predictedDurationKey(title, sport string) string {
	return title + "|" + sport
}

// PredictedDuration returns the cached predicted duration in minutes for a
// title/sport pair, if present.
func (s *Store) PredictedDuration(title, sport string) (minutes int, ok bool, err error) {
	key := predictedDurationKey(title, sport)
	err = s.withLock(func(db *sql.DB) error {
		e := db.QueryRow(`SELECT minutes FROM predicted_duration WHERE cache_key = ?`, key).Scan(&minutes)
		if e == sql.ErrNoRows {
			return nil
		}
		if e != nil {
			return fmt.Errorf("store: get predicted duration %s: %w", key, e)
		}
		ok = true
		return nil
	})
	return minutes, ok, err
}

// SetPredictedDuration caches the predicted duration in minutes for a
// title/sport pair.
func (s *Store) SetPredictedDuration(title, sport string, minutes int) error {
	key := predictedDurationKey(title, sport)
	return s.withLock(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO predicted_duration (cache_key, minutes, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET minutes = excluded.minutes, updated_at = excluded.updated_at`,
			key, minutes, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("store: set predicted duration %s: %w", key, err)
		}
		return nil
	})
}
