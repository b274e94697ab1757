package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/carpenike/fitcoach/internal/apperr"
	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/plan"
	"github.com/carpenike/fitcoach/internal/store"
)

const dateLayout = "2006-01-02"

func (s *Server) handleProgression(w http.ResponseWriter, r *http.Request) {
	records, err := s.Store.ProgressionHistory()
	if err != nil {
		writeErr(w, "api.progression", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Aggregator.Fetch(r.Context(), false)
	if err != nil {
		writeErr(w, "api.recovery", err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Recovery)
}

func (s *Server) handleRecoveryHistory(w http.ResponseWriter, r *http.Request) {
	since := s.now().AddDate(0, 0, -30).Format(dateLayout)
	entries, err := s.Store.RecoveryHistory(since)
	if err != nil {
		writeErr(w, "api.recoveryHistory", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type todayWorkoutsResponse struct {
	Done    []cloud.Activity         `json:"done"`
	Planned []cloud.ScheduledWorkout `json:"planned"`
}

func (s *Server) handleWorkoutsToday(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Aggregator.Fetch(r.Context(), false)
	if err != nil {
		writeErr(w, "api.workoutsToday", err)
		return
	}
	today := s.now().Format(dateLayout)

	resp := todayWorkoutsResponse{Done: []cloud.Activity{}, Planned: []cloud.ScheduledWorkout{}}
	for _, a := range snap.Activities {
		if activityDate(a) == today {
			resp.Done = append(resp.Done, a)
		}
	}
	for _, c := range snap.Calendar {
		if c.ItemType == "workout" || c.ItemType == "fbtAdaptiveWorkout" {
			if c.Date == today {
				resp.Planned = append(resp.Planned, c)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkoutsUpcoming(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Aggregator.Fetch(r.Context(), false)
	if err != nil {
		writeErr(w, "api.workoutsUpcoming", err)
		return
	}
	today := s.now().Format(dateLayout)

	var upcoming []cloud.ScheduledWorkout
	for _, c := range snap.Calendar {
		if (c.ItemType == "workout" || c.ItemType == "fbtAdaptiveWorkout") && c.Date > today {
			upcoming = append(upcoming, c)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Date < upcoming[j].Date })
	writeJSON(w, http.StatusOK, upcoming)
}

func activityDate(a cloud.Activity) string {
	if len(a.StartTime) >= 10 {
		return a.StartTime[:10]
	}
	return a.StartTime
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.Orchestrator == nil {
		writeErr(w, "api.generate", apperr.New(apperr.Configuration, "api.generate", fmt.Errorf("pipeline not configured")))
		return
	}
	summary, err := s.Orchestrator.Run(r.Context())
	if err != nil {
		writeErr(w, "api.generate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "summary": summary})
}

func (s *Server) handleForcePull(w http.ResponseWriter, r *http.Request) {
	if err := s.Aggregator.Invalidate(); err != nil {
		writeErr(w, "api.forcePull", apperr.New(apperr.Persistence, "api.forcePull", err))
		return
	}
	snap, err := s.Aggregator.Fetch(r.Context(), false)
	if err != nil {
		writeErr(w, "api.forcePull", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type predictDurationRequest struct {
	Title string `json:"title"`
	Sport string `json:"sport"`
}

// defaultPredictedMinutes is returned whenever the LLM's reply cannot be
// parsed as an integer (§8 boundary behavior).
const defaultPredictedMinutes = 45

func (s *Server) handlePredictDuration(w http.ResponseWriter, r *http.Request) {
	var req predictDurationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: err.Error()})
		return
	}

	if minutes, ok, err := s.Store.PredictedDuration(req.Title, req.Sport); err != nil {
		writeErr(w, "api.predictDuration", apperr.New(apperr.Persistence, "api.predictDuration", err))
		return
	} else if ok {
		writeJSON(w, http.StatusOK, map[string]int{"minutes": minutes})
		return
	}

	if s.Provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Status: "error", Message: "LLM not configured"})
		return
	}

	prompt := fmt.Sprintf("Estimate the typical duration in minutes for a %q workout (sport: %s). Reply with only the integer number of minutes.", req.Title, req.Sport)
	resp, err := s.Provider.Generate(r.Context(), "You estimate workout durations. Reply with a bare integer.", prompt, llm.Options{
		Temperature: 0,
		MaxTokens:   16,
	})
	minutes := defaultPredictedMinutes
	if err == nil {
		if n, perr := parseLeadingInt(resp.Content); perr == nil {
			minutes = n
		}
	}

	if err := s.Store.SetPredictedDuration(req.Title, req.Sport, minutes); err != nil {
		writeErr(w, "api.predictDuration", apperr.New(apperr.Persistence, "api.predictDuration", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"minutes": minutes})
}

func parseLeadingInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (unicode.IsDigit(rune(s[end])) || (end == 0 && s[end] == '-')) {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("api: no leading integer in %q", s)
	}
	return strconv.Atoi(s[:end])
}

type analyzeRequest struct {
	ActivityID   string  `json:"activityId"`
	ActivityType string  `json:"activityType"`
	DistanceM    float64 `json:"distanceM"`
	DurationS    float64 `json:"durationS"`
	AvgHR        int     `json:"avgHr"`
	Date         string  `json:"date"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: err.Error()})
		return
	}
	if req.ActivityID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: "activityId is required"})
		return
	}

	if text, ok, err := s.Store.GetAnalysis(req.ActivityID); err != nil {
		writeErr(w, "api.analyze", apperr.New(apperr.Persistence, "api.analyze", err))
		return
	} else if ok {
		writeJSON(w, http.StatusOK, map[string]string{"activityId": req.ActivityID, "analysis": text})
		return
	}

	if s.Provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Status: "error", Message: "LLM not configured"})
		return
	}

	prompt := fmt.Sprintf("Analyze this %s activity: %.0fm over %.0fs, avg HR %d. Provide a short coach's note.",
		req.ActivityType, req.DistanceM, req.DurationS, req.AvgHR)
	resp, err := s.Provider.Generate(r.Context(), "You are a concise fitness coach.", prompt, llm.Options{
		Temperature: llm.DefaultTemperature,
		MaxTokens:   512,
	})
	if err != nil {
		writeErr(w, "api.analyze", apperr.New(apperr.Upstream, "api.analyze", err))
		return
	}

	if err := s.Store.SaveAnalysis(req.ActivityID, req.Date, resp.Content); err != nil {
		writeErr(w, "api.analyze", apperr.New(apperr.Persistence, "api.analyze", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"activityId": req.ActivityID, "analysis": resp.Content})
}

func (s *Server) handleMuscleHeatmap(w http.ResponseWriter, r *http.Request) {
	since := s.now().AddDate(0, 0, -14).Format(dateLayout)
	entries, err := s.Store.MuscleHeatmap(since)
	if err != nil {
		writeErr(w, "api.muscleHeatmap", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

const maxChatPostChars = 65536

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	messages, err := s.Store.ChatHistory()
	if err != nil {
		writeErr(w, "api.chat", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type chatPostRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleChatPost(w http.ResponseWriter, r *http.Request) {
	var req chatPostRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Status: "error", Message: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: err.Error()})
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: "content is required"})
		return
	}
	if len(req.Content) > maxChatPostChars {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Status: "error", Message: "content exceeds 65536 characters"})
		return
	}
	if s.Provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Status: "error", Message: "LLM not configured"})
		return
	}

	if _, err := s.Store.AppendChat("user", content); err != nil {
		writeErr(w, "api.chat", apperr.New(apperr.Persistence, "api.chat", err))
		return
	}

	history, err := s.Store.ChatHistory()
	if err != nil {
		writeErr(w, "api.chat", apperr.New(apperr.Persistence, "api.chat", err))
		return
	}

	reply, err := s.Provider.Generate(r.Context(), chatSystemPrompt, renderChatHistory(history), llm.Options{
		Temperature: llm.DefaultTemperature,
		MaxTokens:   llm.DefaultMaxTokens,
	})
	if err != nil {
		writeErr(w, "api.chat", apperr.New(apperr.Upstream, "api.chat", err))
		return
	}

	assistantText := reply.Content
	if block, err := plan.ExtractJSONBlock(reply.Content); err == nil && len(block) > 0 {
		assistantText = stripFencedJSONBlock(reply.Content)
	}

	msg, err := s.Store.AppendChat("model", assistantText)
	if err != nil {
		writeErr(w, "api.chat", apperr.New(apperr.Persistence, "api.chat", err))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

const chatSystemPrompt = "You are a fitness coach chatting with your athlete. Use the conversation history for context."

func renderChatHistory(messages []store.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// stripFencedJSONBlock removes the first ```json fenced block from text,
// leaving the surrounding prose intact (§4.10: the bot never sends the raw
// plan JSON to the athlete).
func stripFencedJSONBlock(text string) string {
	start := strings.Index(text, "```json")
	if start == -1 {
		return text
	}
	rest := text[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return text
	}
	return strings.TrimSpace(text[:start] + rest[end+len("```"):])
}

func (s *Server) handleProfilesGet(w http.ResponseWriter, r *http.Request) {
	doc, err := store.LoadProfiles(store.ProfilesPath(s.ProfilesDir))
	if err != nil {
		writeErr(w, "api.profiles", apperr.New(apperr.Configuration, "api.profiles", err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleProfilesPut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: err.Error()})
		return
	}

	doc, err := store.ParseProfilesStrict(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: err.Error()})
		return
	}

	if err := store.SaveProfiles(store.ProfilesPath(s.ProfilesDir), doc); err != nil {
		writeErr(w, "api.profiles", apperr.New(apperr.Persistence, "api.profiles", err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("api: decode request body: %w", err)
	}
	return nil
}
