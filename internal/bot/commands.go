package bot

import (
	"context"
	"fmt"
	"strings"
)

// dispatchCommand runs a slash-prefixed message and returns the reply
// text to broadcast (empty string suppresses the reply).
func (b *Bot) dispatchCommand(ctx context.Context, text string) string {
	name, _, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	switch strings.ToLower(name) {
	case "status":
		return b.cmdStatus(ctx)
	case "generate":
		return b.cmdGenerate(ctx)
	case "macros":
		return b.cmdMacros(ctx)
	case "readiness":
		return b.cmdReadiness(ctx)
	default:
		return fmt.Sprintf("Unknown command /%s. Try /status, /generate, /macros, or /readiness.", name)
	}
}

func (b *Bot) cmdStatus(ctx context.Context) string {
	snap, err := b.Aggregator.Fetch(ctx, false)
	if err != nil {
		return "Couldn't fetch today's status right now."
	}
	today := b.now().Format(dateLayout)

	var planned []string
	for _, c := range snap.Calendar {
		if c.Date == today && (c.ItemType == "workout" || c.ItemType == "fbtAdaptiveWorkout") {
			planned = append(planned, c.Title)
		}
	}
	if len(planned) == 0 {
		return fmt.Sprintf("No planned workouts today. Recovery: body battery %d, sleep %d, readiness %d.",
			snap.Recovery.BodyBattery, snap.Recovery.SleepScore, snap.Recovery.TrainingReadiness)
	}
	return fmt.Sprintf("Today's plan: %s. Recovery: body battery %d, sleep %d, readiness %d.",
		strings.Join(planned, ", "), snap.Recovery.BodyBattery, snap.Recovery.SleepScore, snap.Recovery.TrainingReadiness)
}

func (b *Bot) cmdGenerate(ctx context.Context) string {
	if b.Orchestrator == nil {
		return "Plan generation isn't configured."
	}
	summary, err := b.Orchestrator.Run(ctx)
	if err != nil {
		return fmt.Sprintf("Plan generation failed: %v", err)
	}
	if summary == "" {
		return "Ran the pipeline, but there was nothing new to plan."
	}
	return summary
}

func (b *Bot) cmdMacros(ctx context.Context) string {
	today := b.now().Format(dateLayout)
	log, ok, err := b.Store.NutritionLogFor(today)
	if err != nil {
		return "Couldn't read today's nutrition log right now."
	}
	if !ok {
		return "No macros logged for today yet."
	}
	return fmt.Sprintf("Today: %d kcal, %.0fg protein, %.0fg carbs, %.0fg fat.",
		log.Calories, log.ProteinG, log.CarbsG, log.FatG)
}

func (b *Bot) cmdReadiness(ctx context.Context) string {
	snap, err := b.Aggregator.Fetch(ctx, false)
	if err != nil {
		return "Couldn't fetch readiness right now."
	}
	r := snap.Recovery
	return fmt.Sprintf("Training readiness: %d. Body battery: %d. Sleep score: %d. HRV: %s (weekly avg %d, last night %d).",
		r.TrainingReadiness, r.BodyBattery, r.SleepScore, r.HRVStatus, r.HRVWeeklyAvg, r.HRVLastNight)
}
