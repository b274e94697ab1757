// Package brief assembles the deterministic text prompt sent to the LLM
// (C7). Build is a pure function: every piece of state it needs — the
// cloud snapshot, the active profile, the progression history, and the
// muscle volume table — is computed elsewhere and passed in. It performs
// no I/O of its own.
package brief

import (
	"fmt"
	"strings"
	"time"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/store"
)

const dateLayout = "2006-01-02"

// Input bundles everything Build needs to produce its text.
type Input struct {
	Snapshot     cloud.Snapshot
	Profile      store.ProfileConfig
	Progression  []store.ProgressionRecord
	MuscleVolume []store.MuscleVolumeEntry
	// ActivityFocus maps a cloud activity id to the unique exercise
	// categories recorded for it, precomputed by the caller from the
	// local store's exercise_history.
	ActivityFocus map[int64][]string
	Now           time.Time
}

// Build renders the 11 labeled sections in order, per §4.7.
func Build(in Input) string {
	var b strings.Builder
	today := in.Now.Format(dateLayout)

	writeSection(&b, roleAndDate(in.Now))
	writeSection(&b, activitiesToday(in.Snapshot.Activities, today))
	writeSection(&b, recoverySection(in.Snapshot.Recovery))
	writeSection(&b, profileSection(in.Snapshot.Profile))
	writeSection(&b, goalsSection(in.Profile))
	writeSection(&b, racesAndEventsSection(in.Snapshot.Calendar, in.Now))
	writeSection(&b, trainingStatusSection(in.Snapshot.Activities, in.Now))
	writeSection(&b, recentActivitiesSection(in.Snapshot.Activities, in.Now, in.ActivityFocus))
	writeSection(&b, progressionSection(in.Progression))
	writeSection(&b, muscleVolumeSection(in.MuscleVolume))
	writeSection(&b, requiredOutputSection())

	return b.String()
}

func writeSection(b *strings.Builder, section string) {
	b.WriteString(section)
	b.WriteString("\n\n")
}

func roleAndDate(now time.Time) string {
	return fmt.Sprintf("# Role\nYou are an expert strength and endurance coach. Today's date is %s.",
		now.Format(dateLayout))
}

func activitiesToday(activities []cloud.Activity, today string) string {
	var lines []string
	for _, a := range activities {
		if len(a.StartTime) >= 10 && a.StartTime[:10] == today {
			lines = append(lines, fmt.Sprintf("- %s: %.0fm, %.0fs, avgHR=%d", a.ActivityType, a.DistanceM, a.DurationS, a.AvgHR))
		}
	}
	if len(lines) == 0 {
		return "## Activities Completed Today\nNone recorded yet."
	}
	return "## Activities Completed Today\n" + strings.Join(lines, "\n")
}

func recoverySection(r cloud.RecoveryMetrics) string {
	trend := r.SleepTrendString()
	if trend == "" {
		trend = "no data"
	}
	return fmt.Sprintf(
		"## Recovery & Readiness\nBody battery: %d\nSleep score: %d\nSleep trend (7d): %s\nTraining readiness: %d\nHRV status: %s (weekly avg %d, last night %d)\nResting HR trend: %s",
		r.BodyBattery, r.SleepScore, trend, r.TrainingReadiness, r.HRVStatus, r.HRVWeeklyAvg, r.HRVLastNight, intsJoined(r.RHRTrend))
}

func intsJoined(vals []int) string {
	if len(vals) == 0 {
		return "no data"
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}

func profileSection(p cloud.Profile) string {
	weightKg := p.WeightGrams / 1000
	return fmt.Sprintf("## Athlete Profile\nWeight: %.1f kg\nHeight: %.0f cm\nDOB: %s\nVO2max: %.1f",
		weightKg, p.HeightCM, p.DOB, p.VO2Max)
}

func goalsSection(profile store.ProfileConfig) string {
	var b strings.Builder
	b.WriteString("## Goals, Constraints & Equipment\n")
	b.WriteString("Goals: " + joinOrNone(profile.Goals) + "\n")
	b.WriteString("Constraints: " + joinOrNone(profile.Constraints) + "\n")
	b.WriteString("Available equipment: " + joinOrNone(profile.AvailableEquipment))
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none specified"
	}
	return strings.Join(items, ", ")
}

func requiredOutputSection() string {
	return "## Required Output\n" +
		"Respond with a fenced ```json block containing either a single plan object or an array of plan objects, each shaped as:\n" +
		"```json\n" +
		"[{\"workoutName\": \"string\", \"description\": \"string\", \"scheduledDate\": \"YYYY-MM-DD\", " +
		"\"steps\": [{\"phase\": \"warmup|interval|cooldown\", \"exercise\": \"string\", \"duration\": \"string\", " +
		"\"reps\": \"int or AMRAP\", \"sets\": \"int\", \"rest\": \"int seconds or LAP\", \"weight\": \"number\", \"note\": \"string\"}]}]\n" +
		"```\n" +
		"Every workout must include a scheduledDate within the next 7 days. Every workout must include at least one " +
		"warmup step and one cooldown step. rest must be an integer number of seconds or the literal \"LAP\"."
}
