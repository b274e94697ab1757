package brief

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/store"
)

// racesAndEventsSection splits upcoming calendar items flagged as races
// from plain upcoming workouts, pinning an explicit taper instruction
// when a race is within the usual taper window.
func racesAndEventsSection(calendar []cloud.ScheduledWorkout, now time.Time) string {
	today := now.Format(dateLayout)

	var races, workouts []cloud.ScheduledWorkout
	for _, item := range calendar {
		if item.Date < today {
			continue
		}
		if item.IsRace {
			races = append(races, item)
		} else {
			workouts = append(workouts, item)
		}
	}

	var b strings.Builder
	b.WriteString("## Upcoming Races & Events\n")
	if len(races) == 0 {
		b.WriteString("None scheduled.\n")
	} else {
		for _, r := range races {
			b.WriteString(fmt.Sprintf("- %s on %s (%s)\n", r.Title, r.Date, r.Sport))
		}
		b.WriteString("Taper instruction: reduce volume and intensity in the final 1-2 weeks before each race above; prioritize recovery over new stimulus.\n")
	}

	b.WriteString("\nOther upcoming planned workouts:\n")
	if len(workouts) == 0 {
		b.WriteString("None scheduled.")
	} else {
		for _, w := range workouts {
			b.WriteString(fmt.Sprintf("- %s on %s (%s)\n", w.Title, w.Date, w.Sport))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// trainingStatusSection summarizes the last 30 days: total volume (sets
// x reps worth is out of scope here; this is duration/distance at the
// activity level) and per-sport frequency.
func trainingStatusSection(activities []cloud.Activity, now time.Time) string {
	cutoff := now.AddDate(0, 0, -30).Format(dateLayout)

	var totalDuration, totalDistance float64
	freq := make(map[string]int)
	var sports []string

	for _, a := range activities {
		if len(a.StartTime) < 10 || a.StartTime[:10] < cutoff {
			continue
		}
		totalDuration += a.DurationS
		totalDistance += a.DistanceM
		if _, seen := freq[a.ActivityType]; !seen {
			sports = append(sports, a.ActivityType)
		}
		freq[a.ActivityType]++
	}
	sort.Strings(sports)

	var b strings.Builder
	b.WriteString("## Training Status (Last 30 Days)\n")
	b.WriteString(fmt.Sprintf("Total volume: %.0f minutes, %.1f km\n", totalDuration/60, totalDistance/1000))
	if len(sports) == 0 {
		b.WriteString("No activity frequency data.")
		return b.String()
	}
	b.WriteString("Frequency by sport:\n")
	for _, s := range sports {
		b.WriteString(fmt.Sprintf("- %s: %d\n", s, freq[s]))
	}
	return strings.TrimRight(b.String(), "\n")
}

// recentActivitiesSection lists up to 20 activities from the last 14
// days, newest first, with duration/distance/volume/focus/avgHR.
func recentActivitiesSection(activities []cloud.Activity, now time.Time, focus map[int64][]string) string {
	cutoff := now.AddDate(0, 0, -14).Format(dateLayout)

	var recent []cloud.Activity
	for _, a := range activities {
		if len(a.StartTime) >= 10 && a.StartTime[:10] >= cutoff {
			recent = append(recent, a)
		}
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].StartTime > recent[j].StartTime })
	if len(recent) > 20 {
		recent = recent[:20]
	}

	var b strings.Builder
	b.WriteString("## Recent Activities (Last 14 Days)\n")
	if len(recent) == 0 {
		b.WriteString("None recorded.")
		return b.String()
	}
	for _, a := range recent {
		line := fmt.Sprintf("- %s %s: %.0fs, %.0fm, avgHR=%d", a.StartTime[:10], a.ActivityType, a.DurationS, a.DistanceM, a.AvgHR)
		var volumeKg float64
		for _, s := range a.StrengthSets {
			if s.SetType == "ACTIVE" {
				volumeKg += s.WeightGrams / 1000 * float64(s.Reps)
			}
		}
		if volumeKg > 0 {
			line += fmt.Sprintf(", volume=%.0fkg", volumeKg)
		}
		if categories, ok := focus[a.ActivityID]; ok && len(categories) > 0 {
			sorted := append([]string(nil), categories...)
			sort.Strings(sorted)
			line += fmt.Sprintf(", focus=%s", strings.Join(sorted, "/"))
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func progressionSection(records []store.ProgressionRecord) string {
	var b strings.Builder
	b.WriteString("## Progression Bests\n")
	if len(records) == 0 {
		b.WriteString("No exercise history recorded yet.")
		return b.String()
	}
	for _, r := range records {
		b.WriteString(fmt.Sprintf("- %s: %.1fkg x %d reps (%s)\n", r.ExerciseName, r.Best.WeightKg, r.Best.Reps, r.Best.Date))
	}
	return strings.TrimRight(b.String(), "\n")
}

func muscleVolumeSection(entries []store.MuscleVolumeEntry) string {
	var b strings.Builder
	b.WriteString("## Weekly Muscle Volume (Last 7 Days)\n")
	if len(entries) == 0 {
		b.WriteString("No strength sets recorded in the last 7 days.")
		return b.String()
	}
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("- %s: %d sets\n", e.Muscle, e.Sets))
	}
	return strings.TrimRight(b.String(), "\n")
}
