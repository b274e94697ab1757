package brief

import (
	"strings"
	"testing"
	"time"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/store"
)

func TestBuild_SectionsPresentInOrder(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		Snapshot: cloud.Snapshot{
			Activities: []cloud.Activity{
				{ActivityID: 1, StartTime: "2026-08-01T07:00:00", ActivityType: "strength_training", DurationS: 3600, AvgHR: 120},
				{ActivityID: 2, StartTime: "2026-07-30T06:00:00", ActivityType: "running", DistanceM: 10000, DurationS: 3000, AvgHR: 140},
			},
			Profile: cloud.Profile{WeightGrams: 80000, HeightCM: 180, DOB: "1990-01-01", VO2Max: 50},
			Calendar: []cloud.ScheduledWorkout{
				{Title: "City Marathon", Date: "2026-08-15", Sport: "running", IsRace: true},
				{Title: "Push Day", Date: "2026-08-02", Sport: "strength_training"},
			},
		},
		Profile: store.ProfileConfig{Goals: []string{"Marathon sub-4h"}, Constraints: []string{}, AvailableEquipment: []string{"Barbell"}},
		Progression: []store.ProgressionRecord{
			{ExerciseName: "BENCH_PRESS", Best: store.ProgressionBest{WeightKg: 82.5, Reps: 6, Date: "2026-01-15"}},
		},
		MuscleVolume:  []store.MuscleVolumeEntry{{Muscle: "chest", Sets: 12}},
		ActivityFocus: map[int64][]string{1: {"BENCH_PRESS"}},
		Now:           now,
	}

	out := Build(in)

	sections := []string{
		"# Role",
		"## Activities Completed Today",
		"## Recovery & Readiness",
		"## Athlete Profile",
		"## Goals, Constraints & Equipment",
		"## Upcoming Races & Events",
		"## Training Status (Last 30 Days)",
		"## Recent Activities (Last 14 Days)",
		"## Progression Bests",
		"## Weekly Muscle Volume (Last 7 Days)",
		"## Required Output",
	}

	lastIdx := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		if idx == -1 {
			t.Fatalf("missing section %q", s)
		}
		if idx < lastIdx {
			t.Fatalf("section %q out of order", s)
		}
		lastIdx = idx
	}
}

func TestBuild_TodayActivityDetected(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		Snapshot: cloud.Snapshot{
			Activities: []cloud.Activity{
				{ActivityID: 1, StartTime: "2026-08-01T07:00:00", ActivityType: "strength_training"},
			},
		},
		Now: now,
	}
	out := Build(in)
	if !strings.Contains(out, "strength_training") {
		t.Fatalf("expected today's activity to appear in output")
	}
	if strings.Contains(out, "None recorded yet.") {
		t.Fatalf("today's activity should suppress the 'none recorded' placeholder")
	}
}

func TestBuild_RaceSplitFromWorkouts(t *testing.T) {
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		Snapshot: cloud.Snapshot{
			Calendar: []cloud.ScheduledWorkout{
				{Title: "City Marathon", Date: "2026-08-15", IsRace: true},
				{Title: "Easy Run", Date: "2026-08-03"},
			},
		},
		Now: now,
	}
	out := Build(in)
	if !strings.Contains(out, "Taper instruction") {
		t.Fatalf("expected taper instruction when a race is upcoming")
	}
	if !strings.Contains(out, "City Marathon") || !strings.Contains(out, "Easy Run") {
		t.Fatalf("expected both race and workout to appear")
	}
}

func TestBuild_PureNoPanicOnEmptyInput(t *testing.T) {
	out := Build(Input{Now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	if out == "" {
		t.Fatalf("expected non-empty output even with no data")
	}
}
