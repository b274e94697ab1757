package store

import (
	"database/sql"
	"fmt"
	"sort"
)

// ExerciseSet is one ACTIVE set extracted from an activity's strength block.
type ExerciseSet struct {
	ActivityID   string
	SetIndex     int
	Date         string // YYYY-MM-DD
	ExerciseName string // controlled vocabulary category
	WeightKg     float64
	Reps         int
}

// InsertExerciseSets ingests a batch of ACTIVE sets idempotently: the
// (activity_id, set_index) unique constraint makes re-ingesting the same
// activity a no-op rather than an error.
func (s *Store) InsertExerciseSets(sets []ExerciseSet) error {
	return s.withLock(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin insert exercise sets: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO exercise_history
			(activity_id, set_index, date, exercise_name, weight_kg, reps)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare insert exercise set: %w", err)
		}
		defer stmt.Close()

		for _, set := range sets {
			if _, err := stmt.Exec(set.ActivityID, set.SetIndex, set.Date, set.ExerciseName, set.WeightKg, set.Reps); err != nil {
				return fmt.Errorf("store: insert exercise set %s/%d: %w", set.ActivityID, set.SetIndex, err)
			}
		}
		return tx.Commit()
	})
}

// ProgressionBest is the best (weight, reps, date) tuple for one exercise,
// with ties broken by reps then date, both descending.
type ProgressionBest struct {
	ExerciseName string
	WeightKg     float64
	Reps         int
	Date         string
}

// TrendPoint is one per-day best within a progression's time series.
type TrendPoint struct {
	Date     string
	WeightKg float64
	Reps     int
}

// ProgressionRecord is the derived view over an exercise's set history: the
// all-time best plus the full per-day-best time series, ascending by date.
type ProgressionRecord struct {
	ExerciseName string
	Best         ProgressionBest
	Trend        []TrendPoint
}

// ProgressionHistory returns the derived progression view for every
// exercise with recorded sets, ordered by exercise name.
func (s *Store) ProgressionHistory() ([]ProgressionRecord, error) {
	var records []ProgressionRecord
	err := s.withLock(func(db *sql.DB) error {
		names, err := distinctExerciseNames(db)
		if err != nil {
			return err
		}
		for _, name := range names {
			rec, err := progressionFor(db, name)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// ProgressionFor returns the progression record for a single exercise.
// ok is false if no sets are recorded for it.
func (s *Store) ProgressionFor(exerciseName string) (rec ProgressionRecord, ok bool, err error) {
	err = s.withLock(func(db *sql.DB) error {
		var count int
		if e := db.QueryRow(`SELECT COUNT(*) FROM exercise_history WHERE exercise_name = ?`, exerciseName).Scan(&count); e != nil {
			return fmt.Errorf("store: count sets for %s: %w", exerciseName, e)
		}
		if count == 0 {
			return nil
		}
		ok = true
		var ferr error
		rec, ferr = progressionFor(db, exerciseName)
		return ferr
	})
	return rec, ok, err
}

func distinctExerciseNames(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT exercise_name FROM exercise_history ORDER BY exercise_name`)
	if err != nil {
		return nil, fmt.Errorf("store: list exercise names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan exercise name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// progressionFor computes the all-time best (max weight, ties by reps then
// date, all descending) and the per-day-best trend series for one exercise.
func progressionFor(db *sql.DB, exerciseName string) (ProgressionRecord, error) {
	rec := ProgressionRecord{ExerciseName: exerciseName}

	err := db.QueryRow(`
		SELECT weight_kg, reps, date FROM exercise_history
		WHERE exercise_name = ?
		ORDER BY weight_kg DESC, reps DESC, date DESC
		LIMIT 1`, exerciseName).Scan(&rec.Best.WeightKg, &rec.Best.Reps, &rec.Best.Date)
	if err != nil {
		return rec, fmt.Errorf("store: best set for %s: %w", exerciseName, err)
	}
	rec.Best.ExerciseName = exerciseName

	// Per-day best: for each date, the row with max (weight desc, reps desc,
	// set_index desc). SQLite lacks DISTINCT ON, so pull all rows for the
	// exercise and reduce in Go -- exercise set counts are small enough that
	// this is simpler and clearer than a correlated subquery.
	rows, err := db.Query(`
		SELECT date, weight_kg, reps, set_index FROM exercise_history
		WHERE exercise_name = ?
		ORDER BY date ASC, weight_kg DESC, reps DESC, set_index DESC`, exerciseName)
	if err != nil {
		return rec, fmt.Errorf("store: trend series for %s: %w", exerciseName, err)
	}
	defer rows.Close()

	bestByDate := make(map[string]TrendPoint)
	var dateOrder []string
	for rows.Next() {
		var date string
		var weight float64
		var reps, setIndex int
		if err := rows.Scan(&date, &weight, &reps, &setIndex); err != nil {
			return rec, fmt.Errorf("store: scan trend row: %w", err)
		}
		if _, seen := bestByDate[date]; !seen {
			dateOrder = append(dateOrder, date)
			bestByDate[date] = TrendPoint{Date: date, WeightKg: weight, Reps: reps}
		}
	}
	if err := rows.Err(); err != nil {
		return rec, err
	}

	sort.Strings(dateOrder)
	for _, d := range dateOrder {
		rec.Trend = append(rec.Trend, bestByDate[d])
	}
	return rec, nil
}

// MuscleVolumeEntry is the ACTIVE-set count for one muscle over a window.
type MuscleVolumeEntry struct {
	Muscle string
	Sets   int
}

// muscleMap is the fixed exercise -> muscles table from the glossary.
// Exercises outside this mapping are omitted from the heatmap.
var muscleMap = map[string][]string{
	"BENCH_PRESS":        {"chest", "triceps", "front-deltoids"},
	"PUSH_UP":            {"chest", "triceps", "front-deltoids"},
	"ROW":                {"upper-back", "lower-back", "biceps", "back-deltoids"},
	"PULL_UP":            {"upper-back", "biceps", "back-deltoids"},
	"PULL_DOWN":          {"upper-back", "biceps", "back-deltoids"},
	"SQUAT":              {"quadriceps", "gluteal", "hamstring", "calves"},
	"LUNGE":              {"quadriceps", "gluteal", "hamstring", "calves"},
	"DEADLIFT":           {"hamstring", "gluteal", "lower-back", "forearm", "trapezius"},
	"CALF_RAISE":         {"calves"},
	"SHOULDER_PRESS":     {"front-deltoids", "back-deltoids", "triceps"},
	"FRONT_RAISE":        {"front-deltoids", "back-deltoids", "triceps"},
	"LATERAL_RAISE":      {"front-deltoids", "back-deltoids", "triceps"},
	"TRICEPS_EXTENSION":  {"triceps"},
	"BICEP_CURL":         {"biceps"},
	"CORE":               {"abs", "obliques"},
	"PLANK":              {"abs", "obliques"},
	"SIT_UP":             {"abs", "obliques"},
}

// MuscleHeatmap groups ACTIVE sets from the last N days by muscle, using
// the fixed exercise->muscle mapping. Exercises absent from the mapping
// contribute nothing. sinceDate is the inclusive YYYY-MM-DD lower bound.
func (s *Store) MuscleHeatmap(sinceDate string) ([]MuscleVolumeEntry, error) {
	counts := make(map[string]int)
	err := s.withLock(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT exercise_name, COUNT(*) FROM exercise_history
			WHERE date >= ? GROUP BY exercise_name`, sinceDate)
		if err != nil {
			return fmt.Errorf("store: muscle heatmap query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			var n int
			if err := rows.Scan(&name, &n); err != nil {
				return fmt.Errorf("store: scan muscle heatmap row: %w", err)
			}
			for _, muscle := range muscleMap[name] {
				counts[muscle] += n
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	var muscles []string
	for m := range counts {
		muscles = append(muscles, m)
	}
	sort.Strings(muscles)

	entries := make([]MuscleVolumeEntry, 0, len(muscles))
	for _, m := range muscles {
		entries = append(entries, MuscleVolumeEntry{Muscle: m, Sets: counts[m]})
	}
	return entries, nil
}
