// Package api implements the REST Service (C9): a small JSON API over the
// cloud snapshot, the local store, and the pipeline orchestrator. Router
// and middleware wiring follows the teacher's cmd/replog server setup
// (chi.NewRouter, a RequestLogger-style middleware chain); CORS is handled
// by rs/cors rather than reimplemented, per the retrieval pack's own
// manifest examples.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/pipeline"
	"github.com/carpenike/fitcoach/internal/plan"
	"github.com/carpenike/fitcoach/internal/ratelimit"
	"github.com/carpenike/fitcoach/internal/store"
	"github.com/carpenike/fitcoach/internal/vocabulary"
)

// maxBodyBytes is the global request body cap (§4.9).
const maxBodyBytes = 16 * 1024

// Server holds everything the handlers need. It has no knowledge of the
// bot or the CLI; those own their own wiring.
type Server struct {
	Store        *store.Store
	Aggregator   *cloud.Aggregator
	Resolver     *vocabulary.Resolver
	Materializer *plan.Materializer
	Provider     llm.Provider
	Orchestrator *pipeline.Orchestrator
	Broadcaster  pipeline.Broadcaster

	AuthToken           string
	CORSAllowedOrigins  []string
	GenerateRatePerHour int
	ChatRatePerMinute   int
	ProfilesDir         string

	// Now is overridable for deterministic rate-limit tests; defaults to
	// time.Now.
	Now func() time.Time

	generateLimiter *ratelimit.Window
	chatLimiter     *ratelimit.Window
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Router builds the full chi.Mux: global middleware, then every route in
// the §4.9 table.
func (s *Server) Router() http.Handler {
	if s.GenerateRatePerHour <= 0 {
		s.GenerateRatePerHour = 6
	}
	if s.ChatRatePerMinute <= 0 {
		s.ChatRatePerMinute = 30
	}
	s.generateLimiter = ratelimit.New(s.GenerateRatePerHour, time.Hour)
	s.chatLimiter = ratelimit.New(s.ChatRatePerMinute, time.Minute)

	origins := s.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost"}
	}
	corsMW := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders:   []string{"content-type", "authorization", "x-api-token"},
		AllowCredentials: true,
	})

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(corsMW.Handler)
	r.Use(s.bodyLimit)
	r.Use(s.authenticate)

	r.Get("/api/progression", s.handleProgression)
	r.Get("/api/recovery", s.handleRecovery)
	r.Get("/api/recovery/history", s.handleRecoveryHistory)
	r.Get("/api/workouts/today", s.handleWorkoutsToday)
	r.Get("/api/workouts/upcoming", s.handleWorkoutsUpcoming)
	r.With(s.rateLimit(func() *ratelimit.Window { return s.generateLimiter }, "/api/generate")).
		Post("/api/generate", s.handleGenerate)
	r.Post("/api/force-pull", s.handleForcePull)
	r.Post("/api/predict_duration", s.handlePredictDuration)
	r.Post("/api/analyze", s.handleAnalyze)
	r.Get("/api/muscle_heatmap", s.handleMuscleHeatmap)
	r.With(s.rateLimit(func() *ratelimit.Window { return s.chatLimiter }, "/api/chat")).
		Get("/api/chat", s.handleChatGet)
	r.With(s.rateLimit(func() *ratelimit.Window { return s.chatLimiter }, "/api/chat")).
		Post("/api/chat", s.handleChatPost)
	r.Get("/api/profiles", s.handleProfilesGet)
	r.Put("/api/profiles", s.handleProfilesPut)

	return r
}
