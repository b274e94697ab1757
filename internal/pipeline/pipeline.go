// Package pipeline wires the Orchestrator (C11): the single sequential
// path from a fresh cloud snapshot to materialized, scheduled workouts.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/carpenike/fitcoach/internal/apperr"
	"github.com/carpenike/fitcoach/internal/brief"
	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/plan"
	"github.com/carpenike/fitcoach/internal/store"
	"github.com/carpenike/fitcoach/internal/vocabulary"
)

const dateLayout = "2006-01-02"

// Broadcaster sends a message over the IM channel. Implemented by
// internal/bot; kept as an interface here so the pipeline never imports
// the bot's WebSocket machinery.
type Broadcaster interface {
	Broadcast(ctx context.Context, message string) error
}

// Orchestrator runs the full C11 sequence: snapshot, ingest, progression,
// profile, auto-analyze, brief, generate, materialize, invalidate.
type Orchestrator struct {
	Aggregator   *cloud.Aggregator
	Store        *store.Store
	Resolver     *vocabulary.Resolver
	Provider     llm.Provider
	Materializer *plan.Materializer
	Broadcaster  Broadcaster
	ProfilesDir  string

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run executes one full pipeline pass and returns the broadcast-worthy
// summary text (empty if nothing was materialized).
func (o *Orchestrator) Run(ctx context.Context) (string, error) {
	now := o.now()

	snap, err := o.Aggregator.Fetch(ctx, false)
	if err != nil {
		return "", apperr.New(apperr.Upstream, "pipeline.Run", fmt.Errorf("fetch snapshot: %w", err))
	}

	if err := o.ingestActivities(snap); err != nil {
		return "", err
	}

	if err := o.ingestSets(snap); err != nil {
		return "", err
	}

	progression, err := o.Store.ProgressionHistory()
	if err != nil {
		return "", apperr.New(apperr.Persistence, "pipeline.Run", fmt.Errorf("load progression: %w", err))
	}

	profileDoc, err := store.LoadProfiles(store.ProfilesPath(o.ProfilesDir))
	if err != nil {
		return "", apperr.New(apperr.Configuration, "pipeline.Run", fmt.Errorf("load profiles: %w", err))
	}
	active := profileDoc.Profiles[profileDoc.ActiveProfile]

	var autoAnalysisSummary string
	if o.Provider != nil {
		autoAnalysisSummary, err = o.autoAnalyze(ctx, snap, active, now)
		if err != nil {
			return "", err
		}
	}

	muscleVolume, err := o.Store.MuscleHeatmap(now.AddDate(0, 0, -7).Format(dateLayout))
	if err != nil {
		return "", apperr.New(apperr.Persistence, "pipeline.Run", fmt.Errorf("muscle heatmap: %w", err))
	}

	if err := o.recordRecovery(snap, now); err != nil {
		return "", err
	}

	var materializeSummary string
	if o.Provider != nil {
		materializeSummary, err = o.generateAndMaterialize(ctx, snap, active, progression, muscleVolume, now)
		if err != nil {
			return "", err
		}
	}

	if err := o.Aggregator.Invalidate(); err != nil {
		return "", apperr.New(apperr.Persistence, "pipeline.Run", fmt.Errorf("invalidate snapshot cache: %w", err))
	}

	return strings.TrimSpace(autoAnalysisSummary + "\n" + materializeSummary), nil
}

// ingestActivities persists every snapshot activity into the local
// activities table, idempotently by cloud id. The cloud's own history
// window is short-lived (a handful of months); this local copy is what
// the bot's weekly/monthly/race-readiness reviews query for longer trends.
func (o *Orchestrator) ingestActivities(snap cloud.Snapshot) error {
	for _, a := range snap.Activities {
		rec := store.Activity{
			CloudID:      sql.NullString{String: fmt.Sprintf("%d", a.ActivityID), Valid: true},
			StartTime:    a.StartTime,
			ActivityType: a.ActivityType,
			DistanceM:    a.DistanceM,
			DurationS:    a.DurationS,
			AvgHR:        sql.NullInt64{Int64: int64(a.AvgHR), Valid: a.AvgHR != 0},
			MaxHR:        sql.NullInt64{Int64: int64(a.MaxHR), Valid: a.MaxHR != 0},
		}
		if err := o.Store.InsertActivity(rec); err != nil {
			return apperr.New(apperr.Persistence, "pipeline.ingestActivities", err)
		}
	}
	return nil
}

// ingestSets extracts every ACTIVE strength set from the snapshot's
// activities and inserts it idempotently, resolving each raw exercise
// name through the vocabulary before storage.
func (o *Orchestrator) ingestSets(snap cloud.Snapshot) error {
	var sets []store.ExerciseSet
	for _, a := range snap.Activities {
		date := a.StartTime
		if len(date) >= 10 {
			date = date[:10]
		}
		for _, s := range a.StrengthSets {
			_, canonical, _ := o.Resolver.Resolve(s.ExerciseName)
			if canonical == "" {
				canonical = strings.ToUpper(s.ExerciseName)
			}
			sets = append(sets, store.ExerciseSet{
				ActivityID:   fmt.Sprintf("%d", a.ActivityID),
				SetIndex:     s.SetIndex,
				Date:         date,
				ExerciseName: canonical,
				WeightKg:     s.WeightGrams / 1000,
				Reps:         s.Reps,
			})
		}
	}
	if len(sets) == 0 {
		return nil
	}
	if err := o.Store.InsertExerciseSets(sets); err != nil {
		return apperr.New(apperr.Persistence, "pipeline.ingestSets", err)
	}
	return nil
}

func (o *Orchestrator) recordRecovery(snap cloud.Snapshot, now time.Time) error {
	rhr := 0
	if n := len(snap.Recovery.RHRTrend); n > 0 {
		rhr = snap.Recovery.RHRTrend[n-1]
	}
	entry := store.RecoveryEntry{
		Date:              now.Format(dateLayout),
		BodyBattery:       snap.Recovery.BodyBattery,
		SleepScore:        snap.Recovery.SleepScore,
		TrainingReadiness: snap.Recovery.TrainingReadiness,
		HRVStatus:         snap.Recovery.HRVStatus,
		HRVWeeklyAvg:      snap.Recovery.HRVWeeklyAvg,
		HRVLastNight:      snap.Recovery.HRVLastNight,
		RestingHR:         rhr,
	}
	if err := o.Store.RecordRecovery(entry.Date, entry); err != nil {
		return apperr.New(apperr.Persistence, "pipeline.recordRecovery", err)
	}
	return nil
}

// autoAnalyze requests an LLM analysis for every today/yesterday activity
// whose type is in the active profile's auto-analyze list and that has no
// stored analysis yet. Returns the broadcast text for any newly-analyzed
// activities.
func (o *Orchestrator) autoAnalyze(ctx context.Context, snap cloud.Snapshot, active store.ProfileConfig, now time.Time) (string, error) {
	wanted := make(map[string]bool, len(active.AutoAnalyzeSports))
	for _, s := range active.AutoAnalyzeSports {
		wanted[s] = true
	}
	if len(wanted) == 0 {
		return "", nil
	}

	today := now.Format(dateLayout)
	yesterday := now.AddDate(0, 0, -1).Format(dateLayout)

	var summaries []string
	for _, a := range snap.Activities {
		date := a.StartTime
		if len(date) >= 10 {
			date = date[:10]
		}
		if date != today && date != yesterday {
			continue
		}
		if !wanted[a.ActivityType] {
			continue
		}

		activityID := fmt.Sprintf("%d", a.ActivityID)
		analyzed, err := o.Store.IsActivityAnalyzed(activityID)
		if err != nil {
			return "", apperr.New(apperr.Persistence, "pipeline.autoAnalyze", err)
		}
		if analyzed {
			continue
		}

		prompt := fmt.Sprintf("Analyze this %s activity: %.0fm over %.0fs, avg HR %d. Provide a short coach's note.",
			a.ActivityType, a.DistanceM, a.DurationS, a.AvgHR)
		resp, err := o.Provider.Generate(ctx, "You are a concise fitness coach.", prompt, llm.Options{
			Temperature: llm.DefaultTemperature,
			MaxTokens:   512,
		})
		if err != nil {
			return "", apperr.New(apperr.Upstream, "pipeline.autoAnalyze", err)
		}

		if err := o.Store.SaveAnalysis(activityID, date, resp.Content); err != nil {
			return "", apperr.New(apperr.Persistence, "pipeline.autoAnalyze", err)
		}
		summaries = append(summaries, fmt.Sprintf("Auto-analysis (%s, %s): %s", a.ActivityType, date, resp.Content))
	}

	return strings.Join(summaries, "\n"), nil
}

func (o *Orchestrator) generateAndMaterialize(ctx context.Context, snap cloud.Snapshot, active store.ProfileConfig,
	progression []store.ProgressionRecord, muscleVolume []store.MuscleVolumeEntry, now time.Time) (string, error) {

	focus := activityFocus(snap.Activities)
	briefText := brief.Build(brief.Input{
		Snapshot:      snap,
		Profile:       active,
		Progression:   progression,
		MuscleVolume:  muscleVolume,
		ActivityFocus: focus,
		Now:           now,
	})

	if err := o.Materializer.Cleanup(ctx); err != nil {
		return "", apperr.New(apperr.Upstream, "pipeline.generateAndMaterialize", fmt.Errorf("cleanup AI-managed workouts: %w", err))
	}

	raw, err := o.Materializer.Generate(ctx, o.Provider, briefText)
	if err != nil {
		return "", apperr.New(apperr.Upstream, "pipeline.generateAndMaterialize", fmt.Errorf("generate plan: %w", err))
	}

	block, err := plan.ExtractJSONBlock(raw)
	if err != nil {
		return "", err
	}
	specs, err := plan.ParseSpecs(block)
	if err != nil {
		return "", err
	}

	result := o.Materializer.Materialize(ctx, specs)
	return result.Broadcast(), nil
}

// activityFocus maps each strength activity's cloud id to the unique
// exercise names recorded for it, for the brief's recent-activities line.
func activityFocus(activities []cloud.Activity) map[int64][]string {
	out := make(map[int64][]string)
	for _, a := range activities {
		if len(a.StrengthSets) == 0 {
			continue
		}
		seen := make(map[string]bool)
		var names []string
		for _, s := range a.StrengthSets {
			if !seen[s.ExerciseName] {
				seen[s.ExerciseName] = true
				names = append(names, s.ExerciseName)
			}
		}
		out[a.ActivityID] = names
	}
	return out
}
