package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RecoveryEntry is one day's recorded recovery snapshot, persisted so
// /api/recovery/history can serve a trend without re-fetching the cloud.
type RecoveryEntry struct {
	Date              string
	BodyBattery       int
	SleepScore        int
	TrainingReadiness int
	HRVStatus         string
	HRVWeeklyAvg      int
	HRVLastNight      int
	RestingHR         int
}

// RecordRecovery upserts today's recovery entry, called once per pipeline
// run so each day has at most one row regardless of run count.
func (s *Store) RecordRecovery(date string, e RecoveryEntry) error {
	return s.withLock(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO recovery_history
				(date, body_battery, sleep_score, training_readiness, hrv_status, hrv_weekly_avg, hrv_last_night, resting_hr, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				body_battery = excluded.body_battery,
				sleep_score = excluded.sleep_score,
				training_readiness = excluded.training_readiness,
				hrv_status = excluded.hrv_status,
				hrv_weekly_avg = excluded.hrv_weekly_avg,
				hrv_last_night = excluded.hrv_last_night,
				resting_hr = excluded.resting_hr,
				recorded_at = excluded.recorded_at`,
			date, e.BodyBattery, e.SleepScore, e.TrainingReadiness, e.HRVStatus, e.HRVWeeklyAvg, e.HRVLastNight, e.RestingHR, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("store: record recovery %s: %w", date, err)
		}
		return nil
	})
}

// RecoveryHistory returns entries with date >= sinceDate, ascending.
func (s *Store) RecoveryHistory(sinceDate string) ([]RecoveryEntry, error) {
	var out []RecoveryEntry
	err := s.withLock(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT date, body_battery, sleep_score, training_readiness, hrv_status, hrv_weekly_avg, hrv_last_night, resting_hr
			FROM recovery_history WHERE date >= ? ORDER BY date ASC`, sinceDate)
		if err != nil {
			return fmt.Errorf("store: query recovery history: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e RecoveryEntry
			if err := rows.Scan(&e.Date, &e.BodyBattery, &e.SleepScore, &e.TrainingReadiness, &e.HRVStatus, &e.HRVWeeklyAvg, &e.HRVLastNight, &e.RestingHR); err != nil {
				return fmt.Errorf("store: scan recovery entry: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}
