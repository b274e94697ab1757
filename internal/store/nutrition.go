package store

import (
	"database/sql"
	"fmt"
	"time"
)

// NutritionLog is one day's logged macros.
type NutritionLog struct {
	Date     string
	Calories int
	ProteinG float64
	CarbsG   float64
	FatG     float64
	Notes    string
}

// UpsertNutritionLog writes or overwrites the nutrition entry for a date.
func (s *Store) UpsertNutritionLog(n NutritionLog) error {
	return s.withLock(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO nutrition_logs (date, calories, protein_g, carbs_g, fat_g, notes, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				calories = excluded.calories,
				protein_g = excluded.protein_g,
				carbs_g = excluded.carbs_g,
				fat_g = excluded.fat_g,
				notes = excluded.notes,
				updated_at = excluded.updated_at`,
			n.Date, n.Calories, n.ProteinG, n.CarbsG, n.FatG, n.Notes, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("store: upsert nutrition log %s: %w", n.Date, err)
		}
		return nil
	})
}

// NutritionLogFor returns the nutrition entry for a date, if logged.
func (s *Store) NutritionLogFor(date string) (NutritionLog, bool, error) {
	var n NutritionLog
	var ok bool
	err := s.withLock(func(db *sql.DB) error {
		row := db.QueryRow(`SELECT date, calories, protein_g, carbs_g, fat_g, notes FROM nutrition_logs WHERE date = ?`, date)
		e := row.Scan(&n.Date, &n.Calories, &n.ProteinG, &n.CarbsG, &n.FatG, &n.Notes)
		if e == sql.ErrNoRows {
			return nil
		}
		if e != nil {
			return fmt.Errorf("store: get nutrition log %s: %w", date, e)
		}
		ok = true
		return nil
	})
	return n, ok, err
}
