// Package llm defines the pluggable LLM backend surface the coaching
// daemon calls from the brief/plan pipeline (C7/C8) and the bot's
// conversational path (C10). The Provider interface, APIError shape, and
// constructor pattern are carried from the teacher's settings-driven LLM
// package, adapted to read from the daemon's immutable config instead of
// a database-backed settings table.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no provider API key is present.
var ErrNotConfigured = fmt.Errorf("llm: provider not configured")

// APIError represents a structured error from an LLM provider's API.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// UserMessage returns a coach-friendly error description.
func (e *APIError) UserMessage() string {
	switch {
	case e.StatusCode == 401:
		return fmt.Sprintf("%s: invalid API key.", e.Provider)
	case e.StatusCode == 403:
		return fmt.Sprintf("%s: access denied for this model.", e.Provider)
	case e.StatusCode == 429:
		return fmt.Sprintf("%s: rate limit exceeded, try again shortly.", e.Provider)
	case e.StatusCode == 400 && containsAny(e.Message, "credit", "balance", "billing", "payment"):
		return fmt.Sprintf("%s: insufficient credits.", e.Provider)
	case e.StatusCode == 400 && containsAny(e.Message, "model", "not found", "does not exist"):
		return fmt.Sprintf("%s: model not found.", e.Provider)
	case e.StatusCode == 400:
		return fmt.Sprintf("%s: bad request — %s", e.Provider, e.Message)
	case e.StatusCode == 404:
		return fmt.Sprintf("%s: endpoint not found.", e.Provider)
	case e.StatusCode == 500, e.StatusCode == 502, e.StatusCode == 503:
		return fmt.Sprintf("%s: temporarily unavailable, try again later.", e.Provider)
	default:
		return fmt.Sprintf("%s: unexpected error (HTTP %d).", e.Provider, e.StatusCode)
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Provider is the interface for LLM backends.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, opts Options) (*Response, error)
	Ping(ctx context.Context) error
	Name() string
}

// Options controls LLM generation behavior.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Response holds the LLM's output.
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	Duration   time.Duration
	StopReason string
}

// DefaultMaxTokens is the output-token ceiling for plan generation calls
// per §4.8.
const DefaultMaxTokens = 8192

// DefaultTemperature is used when the daemon doesn't override it.
const DefaultTemperature = 0.7

// NewProviderFromConfig builds the configured provider from a bare API
// key and model name. Only Anthropic is wired today; this stays a
// function (not a type switch on missing alternatives) so a second
// backend can be added the way the teacher's settings-driven factory
// adds OpenAI/Ollama.
func NewProviderFromConfig(apiKey, model string) (Provider, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	return NewAnthropicProvider(apiKey, model), nil
}
