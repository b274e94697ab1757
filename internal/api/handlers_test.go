package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/oauth"
	"github.com/carpenike/fitcoach/internal/store"
)

func testTokens(t *testing.T, exchangeURL string) *oauth.Store {
	t.Helper()
	dir := t.TempDir()
	write := func(name string, v any) {
		data, _ := json.Marshal(v)
		os.WriteFile(filepath.Join(dir, name), data, 0o600)
	}
	write("oauth1_token.json", map[string]string{"token": "t", "token_secret": "s"})
	write("oauth2_token.json", map[string]any{"access_token": "good", "expires_at": time.Now().Add(time.Hour)})
	s, err := oauth.New(dir, "ck", "cs", exchangeURL)
	if err != nil {
		t.Fatalf("oauth.New: %v", err)
	}
	return s
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := st.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestServer(t *testing.T) (*Server, *cloud.Aggregator) {
	t.Helper()
	cloudSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(cloudSrv.Close)

	tokens := testTokens(t, cloudSrv.URL+"/exchange")
	client := cloud.New(cloudSrv.URL, tokens)
	st := testStore(t)
	agg := cloud.NewAggregator(client, st)

	profilesDir := t.TempDir()
	store.SaveProfiles(store.ProfilesPath(profilesDir), store.DefaultProfilesDocument())

	s := &Server{
		Store:               st,
		Aggregator:          agg,
		ProfilesDir:         profilesDir,
		CORSAllowedOrigins:  []string{"http://localhost"},
		GenerateRatePerHour: 6,
		ChatRatePerMinute:   30,
	}
	return s, agg
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("x-api-token", token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t)
	s.AuthToken = "secret"
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/progression", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "error" || body.Message != "Unauthorized" {
		t.Fatalf("body = %+v", body)
	}
}

func TestAuth_AcceptsValidToken(t *testing.T) {
	s, _ := newTestServer(t)
	s.AuthToken = "secret"
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/progression", nil, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestAuth_NoTokenConfiguredAllowsAll(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/progression", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGenerateRateLimit_SeventhCallRejected(t *testing.T) {
	s, _ := newTestServer(t)
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }
	s.Provider = llm.NewMockProvider("") // Orchestrator nil, so /api/generate fails fast but still consumes the limiter slot.
	r := s.Router()

	for i := 0; i < 6; i++ {
		rec := doRequest(t, r, http.MethodPost, "/api/generate", nil, "")
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("call %d unexpectedly rate limited", i+1)
		}
	}

	rec := doRequest(t, r, http.MethodPost, "/api/generate", nil, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("7th call status = %d, want 429", rec.Code)
	}
	var body errorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "Rate limit exceeded for /api/generate" {
		t.Fatalf("message = %q", body.Message)
	}

	s.Now = func() time.Time { return now.Add(3601 * time.Second) }
	rec = doRequest(t, r, http.MethodPost, "/api/generate", nil, "")
	if rec.Code == http.StatusTooManyRequests {
		t.Fatalf("call after window elapsed still rate limited")
	}
}

func TestChat_EmptyContentRejected(t *testing.T) {
	s, _ := newTestServer(t)
	s.Provider = llm.NewMockProvider("ok")
	r := s.Router()

	rec := doRequest(t, r, http.MethodPost, "/api/chat", []byte(`{"content":"   "}`), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestChat_OversizeContentRejected(t *testing.T) {
	s, _ := newTestServer(t)
	s.Provider = llm.NewMockProvider("ok")
	r := s.Router()

	huge := strings.Repeat("a", maxChatPostChars+1)
	body, _ := json.Marshal(chatPostRequest{Content: huge})
	rec := doRequest(t, r, http.MethodPost, "/api/chat", body, "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestChat_NoProviderReturns503(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	body, _ := json.Marshal(chatPostRequest{Content: "hello"})
	rec := doRequest(t, r, http.MethodPost, "/api/chat", body, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestChat_HappyPathStripsJSONBlockAndAppends(t *testing.T) {
	s, _ := newTestServer(t)
	s.Provider = llm.NewMockProvider("Sounds good!\n```json\n[{\"workoutName\":\"X\"}]\n```\nLet me know.")
	r := s.Router()

	body, _ := json.Marshal(chatPostRequest{Content: "Can you build me a plan?"})
	rec := doRequest(t, r, http.MethodPost, "/api/chat", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}

	var msg store.ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.Contains(msg.Content, "```json") {
		t.Fatalf("reply still contains fenced json block: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "Sounds good!") {
		t.Fatalf("reply missing surrounding prose: %q", msg.Content)
	}

	history, err := s.Store.ChatHistory()
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestPredictDuration_CacheFirst(t *testing.T) {
	s, _ := newTestServer(t)
	s.Store.SetPredictedDuration("Long Run", "running", 60)
	r := s.Router()

	body, _ := json.Marshal(predictDurationRequest{Title: "Long Run", Sport: "running"})
	rec := doRequest(t, r, http.MethodPost, "/api/predict_duration", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var out map[string]int
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["minutes"] != 60 {
		t.Fatalf("minutes = %d, want 60 (cached)", out["minutes"])
	}
}

func TestPredictDuration_UnparseableReplyFallsBackTo45(t *testing.T) {
	s, _ := newTestServer(t)
	s.Provider = llm.NewMockProvider("I'm not sure, it varies a lot!")
	r := s.Router()

	body, _ := json.Marshal(predictDurationRequest{Title: "Novel Workout", Sport: "crossfit"})
	rec := doRequest(t, r, http.MethodPost, "/api/predict_duration", body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var out map[string]int
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["minutes"] != defaultPredictedMinutes {
		t.Fatalf("minutes = %d, want %d", out["minutes"], defaultPredictedMinutes)
	}
}

func TestProfiles_GetAndPutRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/profiles", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}

	doc := store.ProfilesDocument{
		ActiveProfile: "race",
		Profiles: map[string]store.ProfileConfig{
			"race": {Goals: []string{"Marathon sub-4h"}, Constraints: []string{}, AvailableEquipment: []string{}, AutoAnalyzeSports: []string{}},
		},
	}
	payload, _ := json.Marshal(doc)
	rec = doRequest(t, r, http.MethodPut, "/api/profiles", payload, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body=%s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, http.MethodGet, "/api/profiles", nil, "")
	var got store.ProfilesDocument
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ActiveProfile != "race" {
		t.Fatalf("active profile = %q, want race", got.ActiveProfile)
	}
}

func TestProfiles_PutRejectsUnknownField(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	rec := doRequest(t, r, http.MethodPut, "/api/profiles", []byte(`{"active_profile":"x","profiles":{"x":{"bogus_field":true}}}`), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestWorkoutsToday_FiltersByDate(t *testing.T) {
	s, _ := newTestServer(t)
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/workouts/today", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp todayWorkoutsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Done == nil || resp.Planned == nil {
		t.Fatalf("expected empty-but-non-nil slices, got %+v", resp)
	}
}
