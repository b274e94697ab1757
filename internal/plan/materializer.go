// Package plan implements the Plan Materializer (C8): turning the LLM's
// fenced-JSON response into scheduled workouts on the fitness cloud.
package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/vocabulary"
	"github.com/carpenike/fitcoach/internal/workout"
)

// AIManagedPrefix marks every workout this system creates. Cleanup
// selects workouts exclusively by this prefix and never otherwise.
const AIManagedPrefix = "FJ-AI:"

const systemPrompt = `You are an expert strength and endurance coach writing a short-term ` +
	`training plan for one athlete from the context you are given. Respond only with the ` +
	`fenced json block the prompt's "Required Output" section describes — either a single ` +
	`plan object or an array of plan objects. Do not include any other fenced code block.`

// Materializer owns the cloud client and exercise vocabulary needed to
// turn parsed PlanSpecs into scheduled cloud workouts.
type Materializer struct {
	client   *cloud.Client
	resolver *vocabulary.Resolver
}

// New builds a Materializer.
func New(client *cloud.Client, resolver *vocabulary.Resolver) *Materializer {
	return &Materializer{client: client, resolver: resolver}
}

// Generate calls the LLM with the rendered brief as the user prompt, using
// the fixed system prompt and the 8192-output-token ceiling.
func (m *Materializer) Generate(ctx context.Context, provider llm.Provider, briefText string) (string, error) {
	resp, err := provider.Generate(ctx, systemPrompt, briefText, llm.Options{
		Temperature: llm.DefaultTemperature,
		MaxTokens:   llm.DefaultMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Result collects the outcome of a materialization batch. Per-workout
// failures are independent — one bad workout never aborts the batch.
type Result struct {
	Summaries []string
	Failures  []error
}

// Broadcast renders the accumulated summaries (and any failures) as the
// single message the caller sends over the IM channel. Returns "" when
// there is nothing to report.
func (r Result) Broadcast() string {
	if len(r.Summaries) == 0 && len(r.Failures) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Workouts scheduled:\n")
	for _, s := range r.Summaries {
		b.WriteString(s + "\n")
	}
	for _, f := range r.Failures {
		b.WriteString(fmt.Sprintf("- failed: %v\n", f))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Materialize normalizes, builds, and POSTs every spec, scheduling each
// one with a scheduledDate. It never returns early on a single spec's
// failure.
func (m *Materializer) Materialize(ctx context.Context, specs []workout.PlanSpec) Result {
	var res Result
	for _, spec := range specs {
		spec.WorkoutName = normalizeName(spec.WorkoutName)
		summary, err := m.materializeOne(ctx, spec)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("%s: %w", spec.WorkoutName, err))
			continue
		}
		res.Summaries = append(res.Summaries, summary)
	}
	return res
}

// materializeOne builds the strict payload and posts it; on a cloud-side
// 400 it rebuilds in robust mode and retries exactly once.
func (m *Materializer) materializeOne(ctx context.Context, spec workout.PlanSpec) (string, error) {
	payload := workout.Build(spec, false, m.resolver)
	workoutID, err := m.client.CreateWorkout(ctx, payload)
	if err != nil {
		var statusErr *cloud.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == 400 {
			robustPayload := workout.Build(spec, true, m.resolver)
			workoutID, err = m.client.CreateWorkout(ctx, robustPayload)
		}
		if err != nil {
			return "", err
		}
	}

	if spec.ScheduledDate != "" {
		if err := m.client.ScheduleWorkout(ctx, workoutID, spec.ScheduledDate); err != nil {
			return "", err
		}
	}

	return summarize(spec, workoutID), nil
}

func summarize(spec workout.PlanSpec, workoutID int64) string {
	if spec.ScheduledDate != "" {
		return fmt.Sprintf("- %s scheduled for %s (id %d)", spec.WorkoutName, spec.ScheduledDate, workoutID)
	}
	return fmt.Sprintf("- %s created, unscheduled (id %d)", spec.WorkoutName, workoutID)
}

func normalizeName(name string) string {
	if strings.HasPrefix(name, AIManagedPrefix) {
		return name
	}
	return AIManagedPrefix + name
}

// Cleanup deletes every workout whose name carries the AI-managed prefix.
// Called before materialization so stale AI workouts never accumulate;
// never deletes anything else.
func (m *Materializer) Cleanup(ctx context.Context) error {
	workouts, err := m.client.ListWorkouts(ctx)
	if err != nil {
		return err
	}
	for _, w := range workouts {
		if !strings.HasPrefix(w.Name, AIManagedPrefix) {
			continue
		}
		if err := m.client.DeleteWorkout(ctx, w.WorkoutID); err != nil {
			return err
		}
	}
	return nil
}
