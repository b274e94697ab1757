package store

import (
	"database/sql"
	"fmt"
)

// IsActivityAnalyzed reports whether an analysis already exists for the
// given cloud activity id.
func (s *Store) IsActivityAnalyzed(activityID string) (bool, error) {
	var exists bool
	err := s.withLock(func(db *sql.DB) error {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM activity_analyses WHERE activity_id = ?`, activityID).Scan(&count); err != nil {
			return fmt.Errorf("store: check analyzed %s: %w", activityID, err)
		}
		exists = count > 0
		return nil
	})
	return exists, err
}

// SaveAnalysis persists (or overwrites) the analysis text for an activity.
func (s *Store) SaveAnalysis(activityID, date, text string) error {
	return s.withLock(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO activity_analyses (activity_id, date, text) VALUES (?, ?, ?)
			ON CONFLICT(activity_id) DO UPDATE SET date = excluded.date, text = excluded.text`,
			activityID, date, text)
		if err != nil {
			return fmt.Errorf("store: save analysis %s: %w", activityID, err)
		}
		return nil
	})
}

// GetAnalysis returns the stored analysis text for an activity, if any.
func (s *Store) GetAnalysis(activityID string) (text string, ok bool, err error) {
	err = s.withLock(func(db *sql.DB) error {
		e := db.QueryRow(`SELECT text FROM activity_analyses WHERE activity_id = ?`, activityID).Scan(&text)
		if e == sql.ErrNoRows {
			return nil
		}
		if e != nil {
			return fmt.Errorf("store: get analysis %s: %w", activityID, e)
		}
		ok = true
		return nil
	})
	return text, ok, err
}
