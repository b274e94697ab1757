package workout

import (
	"fmt"

	"github.com/carpenike/fitcoach/internal/vocabulary"
)

// Build transforms a PlanSpec into the cloud's segmented workout payload.
// Strict and robust are two constructor paths producing the same wire
// shape; they differ only in which fields are present per step, never in
// step count or ordering (the round-trip law this package must uphold).
func Build(spec PlanSpec, robust bool, resolver *vocabulary.Resolver) map[string]any {
	order := 0
	steps := make([]map[string]any, 0, len(spec.Steps)*2)

	for _, step := range spec.Steps {
		order++
		steps = append(steps, buildStep(step, order, robust, resolver))

		if seconds, ok := restSeconds(step.Rest); ok && !isWarmupOrCooldown(step.Phase) {
			order++
			steps = append(steps, buildRestStep(order, seconds))
		}
	}

	return map[string]any{
		"workoutName": spec.WorkoutName,
		"description": spec.Description,
		"sportType": map[string]any{
			"sportTypeId":  sportTypeID,
			"sportTypeKey": sportTypeKey,
		},
		"workoutSegments": []map[string]any{
			{
				"segmentOrder": 1,
				"sportType": map[string]any{
					"sportTypeId":  sportTypeID,
					"sportTypeKey": sportTypeKey,
				},
				"workoutSteps": steps,
			},
		},
	}
}

// buildStep emits one interval/warmup/cooldown step in strict or robust
// shape.
func buildStep(step Step, order int, robust bool, resolver *vocabulary.Resolver) map[string]any {
	typeID, typeKey := stepTypeFor(step.Phase)
	cond := selectEndCondition(step)

	out := map[string]any{
		"type":      "ExecutableStepDTO",
		"stepOrder": order,
		"stepType": map[string]any{
			"stepTypeId":  typeID,
			"stepTypeKey": typeKey,
		},
		"endCondition": map[string]any{
			"conditionTypeKey": cond.Key,
			"conditionTypeId":  cond.ID,
		},
	}
	if cond.Value != nil {
		out["endConditionValue"] = cond.Value
	} else {
		out["endConditionValue"] = nil
	}

	category, canonical, resolved := resolver.Resolve(step.Exercise)
	weightKg, hasWeight := firstNumericToken(step.Weight)

	if robust {
		out["description"] = buildRobustDescription(step, category, canonical, resolved, weightKg, hasWeight)
		return out
	}

	if resolved {
		out["category"] = map[string]any{"categoryKey": category}
		out["exerciseName"] = map[string]any{"exerciseNameKey": canonical}
	} else {
		out["category"] = map[string]any{"categoryKey": step.Exercise}
		out["exerciseName"] = map[string]any{"exerciseNameKey": step.Exercise}
	}
	if hasWeight {
		out["weightValue"] = weightKg * kilogramFactor
		out["weightUnit"] = map[string]any{
			"unitKey": "kilogram",
			"factor":  kilogramFactor,
		}
	}
	return out
}

// buildRobustDescription composes the free-text fallback: original name,
// resolved name (if any), note, and weight, since robust mode omits every
// controlled identifier.
func buildRobustDescription(step Step, category, canonical string, resolved bool, weightKg float64, hasWeight bool) string {
	desc := step.Exercise
	if resolved && canonical != step.Exercise {
		desc = fmt.Sprintf("%s (%s)", desc, canonical)
	}
	if hasWeight {
		desc = fmt.Sprintf("%s @ %gkg", desc, weightKg)
	}
	if step.Note != "" {
		desc = fmt.Sprintf("%s - %s", desc, step.Note)
	}
	return desc
}

func buildRestStep(order, seconds int) map[string]any {
	return map[string]any{
		"type":      "ExecutableStepDTO",
		"stepOrder": order,
		"stepType": map[string]any{
			"stepTypeId":  stepTypeRest,
			"stepTypeKey": "rest",
		},
		"endCondition": map[string]any{
			"conditionTypeKey": "time",
			"conditionTypeId":  conditionTime,
		},
		"endConditionValue": seconds,
	}
}
