package workout

import (
	"regexp"
	"strconv"
	"strings"
)

// stepTypeFor classifies a step's phase into the fixed cloud step-type id.
func stepTypeFor(phase string) (id int, key string) {
	switch strings.ToLower(strings.TrimSpace(phase)) {
	case "warmup":
		return stepTypeWarmup, "warmup"
	case "cooldown", "cool_down", "stretching":
		return stepTypeCooldown, "cooldown"
	default:
		return stepTypeInterval, "interval"
	}
}

// isWarmupOrCooldown reports whether a phase is exempt from the reps-based
// end condition.
func isWarmupOrCooldown(phase string) bool {
	id, _ := stepTypeFor(phase)
	return id == stepTypeWarmup || id == stepTypeCooldown
}

var firstIntPattern = regexp.MustCompile(`-?\d+`)

// endCondition is the selected end-condition key, id, and optional value
// (nil for lap.button).
type endCondition struct {
	Key   string
	ID    int
	Value any
}

// selectEndCondition implements §4.6's end-condition precedence: reps
// (when present and not warmup/cooldown), then duration, then lap.button.
func selectEndCondition(step Step) endCondition {
	if !isWarmupOrCooldown(step.Phase) {
		if cond, ok := repsCondition(step.Reps); ok {
			return cond
		}
	}
	if step.Duration != "" {
		if cond, ok := durationCondition(step.Duration); ok {
			return cond
		}
	}
	return endCondition{Key: "lap.button", ID: conditionLapButton}
}

// repsCondition handles both the integer-reps case and the literal
// "AMRAP" (case-insensitive) manual-lap case.
func repsCondition(reps any) (endCondition, bool) {
	switch v := reps.(type) {
	case nil:
		return endCondition{}, false
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return endCondition{}, false
		}
		if strings.EqualFold(trimmed, "AMRAP") {
			return endCondition{Key: "lap.button", ID: conditionLapButton}, true
		}
		if n, err := strconv.Atoi(trimmed); err == nil {
			return endCondition{Key: "reps", ID: conditionReps, Value: n}, true
		}
		return endCondition{}, false
	case float64:
		return endCondition{Key: "reps", ID: conditionReps, Value: int(v)}, true
	case int:
		return endCondition{Key: "reps", ID: conditionReps, Value: v}, true
	default:
		return endCondition{}, false
	}
}

// durationCondition parses the first integer in the duration string;
// "min" anywhere in the literal multiplies by 60 to produce seconds.
func durationCondition(duration string) (endCondition, bool) {
	match := firstIntPattern.FindString(duration)
	if match == "" {
		return endCondition{}, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return endCondition{}, false
	}
	if strings.Contains(strings.ToLower(duration), "min") {
		n *= 60
	}
	return endCondition{Key: "time", ID: conditionTime, Value: n}, true
}

// restSeconds parses a step's rest field into seconds. ok is false for the
// literal "LAP" (no rest step should be emitted) or an unparseable value.
func restSeconds(rest any) (seconds int, ok bool) {
	switch v := rest.(type) {
	case nil:
		return 0, false
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.EqualFold(trimmed, "LAP") {
			return 0, false
		}
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// firstNumericToken extracts the first numeric token (integer or decimal)
// from a weight field that may be a number or free text like "80kg".
func firstNumericToken(weight any) (float64, bool) {
	switch v := weight.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		match := firstFloatPattern.FindString(v)
		if match == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(match, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

var firstFloatPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)
