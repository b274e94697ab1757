package store

import "testing"

func testOpenStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestProgressionFor_BestAndTrend matches the worked example: three
// BENCH_PRESS sessions climbing from 80kg to 82.5kg, best-set tie broken by
// reps then date, and a per-day-best trend in ascending date order.
func TestProgressionFor_BestAndTrend(t *testing.T) {
	s := testOpenStore(t)

	sets := []ExerciseSet{
		{ActivityID: "a1", SetIndex: 0, Date: "2025-01-01", ExerciseName: "BENCH_PRESS", WeightKg: 80, Reps: 5},
		{ActivityID: "a1", SetIndex: 1, Date: "2025-01-01", ExerciseName: "BENCH_PRESS", WeightKg: 80, Reps: 6},
		{ActivityID: "a2", SetIndex: 0, Date: "2025-01-08", ExerciseName: "BENCH_PRESS", WeightKg: 82.5, Reps: 4},
		{ActivityID: "a3", SetIndex: 0, Date: "2025-01-15", ExerciseName: "BENCH_PRESS", WeightKg: 82.5, Reps: 6},
		{ActivityID: "a3", SetIndex: 1, Date: "2025-01-15", ExerciseName: "BENCH_PRESS", WeightKg: 82.5, Reps: 5},
	}
	if err := s.InsertExerciseSets(sets); err != nil {
		t.Fatalf("InsertExerciseSets: %v", err)
	}

	rec, ok, err := s.ProgressionFor("BENCH_PRESS")
	if err != nil {
		t.Fatalf("ProgressionFor: %v", err)
	}
	if !ok {
		t.Fatal("expected a progression record for BENCH_PRESS")
	}

	want := ProgressionBest{ExerciseName: "BENCH_PRESS", WeightKg: 82.5, Reps: 6, Date: "2025-01-15"}
	if rec.Best != want {
		t.Fatalf("Best = %+v, want %+v", rec.Best, want)
	}

	if len(rec.Trend) != 3 {
		t.Fatalf("Trend length = %d, want 3: %+v", len(rec.Trend), rec.Trend)
	}
	wantTrend := []TrendPoint{
		{Date: "2025-01-01", WeightKg: 80, Reps: 6},
		{Date: "2025-01-08", WeightKg: 82.5, Reps: 4},
		{Date: "2025-01-15", WeightKg: 82.5, Reps: 6},
	}
	for i, tp := range wantTrend {
		if rec.Trend[i] != tp {
			t.Fatalf("Trend[%d] = %+v, want %+v", i, rec.Trend[i], tp)
		}
	}
	for i := 1; i < len(rec.Trend); i++ {
		if rec.Trend[i].Date <= rec.Trend[i-1].Date {
			t.Fatalf("trend not ascending by date: %+v", rec.Trend)
		}
	}
}

func TestProgressionFor_NoSetsIsNotOk(t *testing.T) {
	s := testOpenStore(t)
	_, ok, err := s.ProgressionFor("SQUAT")
	if err != nil {
		t.Fatalf("ProgressionFor: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an exercise with no recorded sets")
	}
}

func TestInsertExerciseSets_DuplicateIsIdempotent(t *testing.T) {
	s := testOpenStore(t)
	set := ExerciseSet{ActivityID: "a1", SetIndex: 0, Date: "2025-01-01", ExerciseName: "SQUAT", WeightKg: 100, Reps: 5}

	if err := s.InsertExerciseSets([]ExerciseSet{set}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertExerciseSets([]ExerciseSet{set}); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	rec, ok, err := s.ProgressionFor("SQUAT")
	if err != nil {
		t.Fatalf("ProgressionFor: %v", err)
	}
	if !ok || len(rec.Trend) != 1 {
		t.Fatalf("expected exactly one trend point after re-ingest, got %+v", rec.Trend)
	}
}

func TestProgressionHistory_OrderedByName(t *testing.T) {
	s := testOpenStore(t)
	sets := []ExerciseSet{
		{ActivityID: "a1", SetIndex: 0, Date: "2025-01-01", ExerciseName: "SQUAT", WeightKg: 100, Reps: 5},
		{ActivityID: "a2", SetIndex: 0, Date: "2025-01-01", ExerciseName: "BENCH_PRESS", WeightKg: 80, Reps: 5},
	}
	if err := s.InsertExerciseSets(sets); err != nil {
		t.Fatalf("InsertExerciseSets: %v", err)
	}

	records, err := s.ProgressionHistory()
	if err != nil {
		t.Fatalf("ProgressionHistory: %v", err)
	}
	if len(records) != 2 || records[0].ExerciseName != "BENCH_PRESS" || records[1].ExerciseName != "SQUAT" {
		t.Fatalf("unexpected order: %+v", records)
	}
}

func TestMuscleHeatmap_GroupsByMappedMuscleAndRespectsWindow(t *testing.T) {
	s := testOpenStore(t)
	sets := []ExerciseSet{
		{ActivityID: "a1", SetIndex: 0, Date: "2025-02-01", ExerciseName: "BENCH_PRESS", WeightKg: 80, Reps: 5},
		{ActivityID: "a1", SetIndex: 1, Date: "2025-02-01", ExerciseName: "BENCH_PRESS", WeightKg: 80, Reps: 5},
		{ActivityID: "a2", SetIndex: 0, Date: "2025-01-01", ExerciseName: "SQUAT", WeightKg: 100, Reps: 5}, // outside window
	}
	if err := s.InsertExerciseSets(sets); err != nil {
		t.Fatalf("InsertExerciseSets: %v", err)
	}

	entries, err := s.MuscleHeatmap("2025-01-15")
	if err != nil {
		t.Fatalf("MuscleHeatmap: %v", err)
	}

	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Muscle] = e.Sets
	}
	if counts["chest"] != 2 || counts["triceps"] != 2 {
		t.Fatalf("unexpected chest/triceps counts: %+v", counts)
	}
	if _, present := counts["quadriceps"]; present {
		t.Fatal("squat set predates the window and must not contribute")
	}
}

func TestKV_RoundTripAndMiss(t *testing.T) {
	s := testOpenStore(t)

	if _, _, ok, err := s.GetKV("notify_morning"); err != nil || ok {
		t.Fatalf("expected miss for unset key, ok=%v err=%v", ok, err)
	}

	if err := s.SetKV("notify_morning", "2026-07-30"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	value, _, ok, err := s.GetKV("notify_morning")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if !ok || value != "2026-07-30" {
		t.Fatalf("GetKV = %q, ok=%v, want 2026-07-30", value, ok)
	}

	if err := s.SetKV("notify_morning", "2026-07-31"); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}
	value, _, _, err = s.GetKV("notify_morning")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if value != "2026-07-31" {
		t.Fatalf("GetKV after overwrite = %q, want 2026-07-31", value)
	}

	if err := s.DeleteKV("notify_morning"); err != nil {
		t.Fatalf("DeleteKV: %v", err)
	}
	if _, _, ok, err := s.GetKV("notify_morning"); err != nil || ok {
		t.Fatalf("expected miss after delete, ok=%v err=%v", ok, err)
	}
}
