package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/carpenike/fitcoach/internal/apperr"
	"github.com/carpenike/fitcoach/internal/workout"
)

// ExtractJSONBlock implements the materializer's extract_json_block step:
// prefer a fenced ```json block; fall back to parsing the whole text as
// JSON. Text before and after a fence is ignored; a well-formed fence
// with invalid JSON inside is a parse failure, not a silent fallback to
// whole-text parsing.
func ExtractJSONBlock(text string) ([]byte, error) {
	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		end := strings.Index(rest, "```")
		if end == -1 {
			return nil, apperr.New(apperr.Parse, "plan.ExtractJSONBlock", errors.New("unterminated json fence"))
		}
		candidate := strings.TrimSpace(rest[:end])
		if !json.Valid([]byte(candidate)) {
			return nil, apperr.New(apperr.Parse, "plan.ExtractJSONBlock", errors.New("fenced json block is not valid JSON"))
		}
		return []byte(candidate), nil
	}

	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}
	return nil, apperr.New(apperr.Parse, "plan.ExtractJSONBlock", errors.New("no fenced json block and response body is not valid JSON"))
}

// ParseSpecs parses the extracted block into one or more PlanSpecs,
// accepting either a JSON array or a single object.
func ParseSpecs(blob []byte) ([]workout.PlanSpec, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, apperr.New(apperr.Parse, "plan.ParseSpecs", errors.New("empty plan body"))
	}

	if trimmed[0] == '[' {
		var specs []workout.PlanSpec
		if err := json.Unmarshal(trimmed, &specs); err != nil {
			return nil, apperr.New(apperr.Parse, "plan.ParseSpecs", fmt.Errorf("decode plan array: %w", err))
		}
		return specs, nil
	}

	var spec workout.PlanSpec
	if err := json.Unmarshal(trimmed, &spec); err != nil {
		return nil, apperr.New(apperr.Parse, "plan.ParseSpecs", fmt.Errorf("decode plan object: %w", err))
	}
	return []workout.PlanSpec{spec}, nil
}
