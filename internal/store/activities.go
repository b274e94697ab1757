package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Activity is one locally-persisted record of a cloud activity. Rows are
// insert-only: the system never deletes or mutates an activity once
// ingested.
type Activity struct {
	ID           int64
	CloudID      sql.NullString
	StartTime    string // opaque ISO-8601 string, first 10 chars are the date
	ActivityType string
	DistanceM    float64
	DurationS    float64
	AvgHR        sql.NullInt64
	MaxHR        sql.NullInt64
}

// InsertActivity idempotently persists an activity by cloud id -- a
// conflict on cloud_id is a no-op, matching re-ingestion idempotence.
func (s *Store) InsertActivity(a Activity) error {
	return s.withLock(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO activities
			(cloud_id, start_time, activity_type, distance_m, duration_s, avg_hr, max_hr, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.CloudID, a.StartTime, a.ActivityType, a.DistanceM, a.DurationS, a.AvgHR, a.MaxHR, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("store: insert activity: %w", err)
		}
		return nil
	})
}

// RecentActivities returns activities on or after sinceDate (YYYY-MM-DD
// prefix comparison), newest first.
func (s *Store) RecentActivities(sinceDate string) ([]Activity, error) {
	var activities []Activity
	err := s.withLock(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT id, cloud_id, start_time, activity_type, distance_m, duration_s, avg_hr, max_hr
			FROM activities WHERE substr(start_time, 1, 10) >= ? ORDER BY start_time DESC`, sinceDate)
		if err != nil {
			return fmt.Errorf("store: list recent activities: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var a Activity
			if err := rows.Scan(&a.ID, &a.CloudID, &a.StartTime, &a.ActivityType, &a.DistanceM, &a.DurationS, &a.AvgHR, &a.MaxHR); err != nil {
				return fmt.Errorf("store: scan activity row: %w", err)
			}
			activities = append(activities, a)
		}
		return rows.Err()
	})
	return activities, err
}
