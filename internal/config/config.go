// Package config consolidates every environment variable the daemon reads
// into one immutable value, built once at process start. Background tasks
// receive a *Config and must never read os.Getenv themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every tunable of the coaching daemon, sourced from the
// environment keys enumerated in the external interfaces section.
type Config struct {
	DatabaseURL string

	SignalPhoneNumber string
	SignalAPIHost     string
	SignalSubscribers []string

	MorningMessageTime   string // HH:MM
	ReadinessMessageTime string
	WeeklyReviewDay      string // Sun..Sat
	WeeklyReviewTime     string
	MonthlyReviewDay     int // 1..31
	MonthlyReviewTime    string
	ForceMonthlyDebrief  bool

	CORSAllowedOrigins []string
	APIAuthToken       string
	APIBindAddr        string

	ChatRateLimitPerMinute  int
	GenerateRateLimitPerHour int

	GeminiAPIKey string

	FitnessDebugPrompt bool

	// Cloud/OAuth wiring. Not enumerated in the original env key list but
	// required for C1/C2 to address the fitness cloud; SecretsDir holds
	// the 0600 oauth1_token.json/oauth2_token.json pair.
	CloudBaseURL        string
	OAuthExchangeURL    string
	OAuthConsumerKey    string
	OAuthConsumerSecret string
	SecretsDir          string

	// MaintenanceAlertURLs carries Shoutrrr service URLs for operator-facing
	// alerts (failed scheduled pipeline runs). Separate from the
	// athlete-facing IM channel, which always uses SignalAPIHost.
	MaintenanceAlertURLs string

	// PipelineIntervalHours is how often --daemon mode re-runs the
	// orchestrator unprompted, independent of the /generate command/endpoint.
	PipelineIntervalHours int
}

// Load builds a Config from the current environment, applying the
// defaults the daemon falls back to when a key is unset.
func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:              getOr("DATABASE_URL", "fitness_journal.db"),
		SignalPhoneNumber:        os.Getenv("SIGNAL_PHONE_NUMBER"),
		SignalAPIHost:            getOr("SIGNAL_API_HOST", "localhost"),
		SignalSubscribers:        splitCSV(os.Getenv("SIGNAL_SUBSCRIBERS")),
		MorningMessageTime:       getOr("MORNING_MESSAGE_TIME", "07:00"),
		ReadinessMessageTime:     getOr("READINESS_MESSAGE_TIME", "07:30"),
		WeeklyReviewDay:          getOr("WEEKLY_REVIEW_DAY", "Sun"),
		WeeklyReviewTime:         getOr("WEEKLY_REVIEW_TIME", "18:00"),
		MonthlyReviewTime:        getOr("MONTHLY_REVIEW_TIME", "18:00"),
		ForceMonthlyDebrief:      os.Getenv("FORCE_MONTHLY_DEBRIEF") == "true",
		CORSAllowedOrigins:       splitCSVOr(os.Getenv("CORS_ALLOWED_ORIGINS"), []string{"http://localhost", "http://localhost:3000"}),
		APIAuthToken:             os.Getenv("API_AUTH_TOKEN"),
		APIBindAddr:              getOr("API_BIND_ADDR", ":8090"),
		ChatRateLimitPerMinute:   getIntOr("CHAT_RATE_LIMIT_PER_MINUTE", 30),
		GenerateRateLimitPerHour: getIntOr("GENERATE_RATE_LIMIT_PER_HOUR", 6),
		GeminiAPIKey:             os.Getenv("GEMINI_API_KEY"),
		FitnessDebugPrompt:       os.Getenv("FITNESS_DEBUG_PROMPT") == "true",
		CloudBaseURL:             getOr("CLOUD_BASE_URL", "https://connectapi.garmin.com"),
		OAuthExchangeURL:         getOr("OAUTH_EXCHANGE_URL", "https://connectapi.garmin.com/oauth-service/oauth/exchange/user/2.0"),
		OAuthConsumerKey:         os.Getenv("OAUTH_CONSUMER_KEY"),
		OAuthConsumerSecret:      os.Getenv("OAUTH_CONSUMER_SECRET"),
		SecretsDir:               getOr("SECRETS_DIR", "secrets"),
		MaintenanceAlertURLs:     os.Getenv("MAINTENANCE_ALERT_URLS"),
		PipelineIntervalHours:    getIntOr("PIPELINE_INTERVAL_HOURS", 6),
	}

	c.MonthlyReviewDay = getIntOr("MONTHLY_REVIEW_DAY", 1)
	if c.MonthlyReviewDay < 1 || c.MonthlyReviewDay > 31 {
		return nil, fmt.Errorf("config: MONTHLY_REVIEW_DAY must be 1..31, got %d", c.MonthlyReviewDay)
	}

	return c, nil
}

func getOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCSVOr(s string, def []string) []string {
	if v := splitCSV(s); len(v) > 0 {
		return v
	}
	return def
}
