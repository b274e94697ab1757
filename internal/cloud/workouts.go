package cloud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carpenike/fitcoach/internal/apperr"
)

// WorkoutSummary is one entry from the workout list endpoint, as read back
// during AI-managed cleanup and name matching.
type WorkoutSummary struct {
	WorkoutID int64  `json:"workoutId"`
	Name      string `json:"workoutName"`
}

// ListWorkouts returns every workout visible to the account, newest-first
// per the cloud's default ordering.
func (c *Client) ListWorkouts(ctx context.Context) ([]WorkoutSummary, error) {
	body, err := c.Get(ctx, "/workout-service/workouts")
	if err != nil {
		return nil, err
	}
	var out []WorkoutSummary
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.New(apperr.Parse, "cloud.ListWorkouts", fmt.Errorf("decode workout list: %w", err))
	}
	return out, nil
}

// DeleteWorkout removes a workout by id.
func (c *Client) DeleteWorkout(ctx context.Context, workoutID int64) error {
	_, err := c.Delete(ctx, fmt.Sprintf("/workout-service/workout/%d", workoutID))
	return err
}

// CreateWorkout posts a workout payload (as built by internal/workout) and
// returns the assigned workoutId.
func (c *Client) CreateWorkout(ctx context.Context, payload map[string]any) (int64, error) {
	body, err := c.Post(ctx, "/workout-service/workout", payload)
	if err != nil {
		return 0, err
	}
	var out struct {
		WorkoutID int64 `json:"workoutId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, apperr.New(apperr.Parse, "cloud.CreateWorkout", fmt.Errorf("decode create response: %w", err))
	}
	return out.WorkoutID, nil
}

// ScheduleWorkout assigns a workout to a calendar date.
func (c *Client) ScheduleWorkout(ctx context.Context, workoutID int64, date string) error {
	_, err := c.Post(ctx, fmt.Sprintf("/workout-service/schedule/%d", workoutID), map[string]string{"date": date})
	return err
}
