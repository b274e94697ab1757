package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/config"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/oauth"
	"github.com/carpenike/fitcoach/internal/plan"
	"github.com/carpenike/fitcoach/internal/store"
	"github.com/carpenike/fitcoach/internal/vocabulary"
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

// cloudStub returns "[]" / "{}" for every sub-fetch so Aggregator.Fetch
// succeeds with an empty snapshot. It also handles workout create/schedule
// so a Materializer built against it never dereferences a nil client.
func cloudStub(t *testing.T) (*cloud.Client, *cloud.Aggregator, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/userprofile-service/userprofile/user-settings", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/metrics-service/metrics/maxmet/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/workout-service/workout", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"workoutId": 1})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokens := testTokens(t, srv.URL+"/exchange")
	client := cloud.New(srv.URL, tokens)
	st := testStore(t)
	return client, cloud.NewAggregator(client, st), srv
}

func testBot(t *testing.T, provider llm.Provider) *Bot {
	t.Helper()
	client, agg, _ := cloudStub(t)
	resolver, err := vocabulary.New()
	if err != nil {
		t.Fatalf("vocabulary.New: %v", err)
	}
	cfg := &config.Config{
		SignalPhoneNumber: "+15550000000",
		SignalAPIHost:     "signal.invalid",
		SignalSubscribers: []string{"+15551111111"},
	}
	materializer := plan.New(client, resolver)
	b := New(cfg, testStore(t), agg, resolver, provider, materializer)
	b.Now = func() time.Time { return time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC) }
	return b
}

func TestExtractMessage_DataMessageMatches(t *testing.T) {
	var frame wsFrame
	frame.Envelope.SourceNumber = "+15551111111"
	frame.Envelope.Timestamp = 1000
	frame.Envelope.DataMessage = &struct {
		Message string `json:"message"`
	}{Message: "/status"}

	msg, ok := extractMessage(frame, "+15550000000")
	if !ok {
		t.Fatal("expected dataMessage to match")
	}
	if msg.Text != "/status" || msg.ID != "+15551111111_1000" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestExtractMessage_NoteToSelfSyncMessageMatches(t *testing.T) {
	var frame wsFrame
	frame.Envelope.Source = "+15550000000"
	frame.Envelope.Timestamp = 2000
	frame.Envelope.SyncMessage = &struct {
		SentMessage *struct {
			DestinationNumber string `json:"destinationNumber"`
			Message           string `json:"message"`
		} `json:"sentMessage"`
	}{SentMessage: &struct {
		DestinationNumber string `json:"destinationNumber"`
		Message           string `json:"message"`
	}{DestinationNumber: "+15550000000", Message: "/readiness"}}

	msg, ok := extractMessage(frame, "+15550000000")
	if !ok {
		t.Fatal("expected note-to-self sync message to match")
	}
	if msg.Text != "/readiness" {
		t.Fatalf("unexpected text: %q", msg.Text)
	}
}

func TestExtractMessage_SyncMessageToOtherDestinationIgnored(t *testing.T) {
	var frame wsFrame
	frame.Envelope.Source = "+15550000000"
	frame.Envelope.SyncMessage = &struct {
		SentMessage *struct {
			DestinationNumber string `json:"destinationNumber"`
			Message           string `json:"message"`
		} `json:"sentMessage"`
	}{SentMessage: &struct {
		DestinationNumber string `json:"destinationNumber"`
		Message           string `json:"message"`
	}{DestinationNumber: "+15559999999", Message: "hi"}}

	if _, ok := extractMessage(frame, "+15550000000"); ok {
		t.Fatal("expected sync message to a different destination to be ignored")
	}
}

func TestMarkSeen_DuplicateIDIsReplay(t *testing.T) {
	b := testBot(t, nil)

	if replay := b.markSeen("+1555_1000"); replay {
		t.Fatal("first delivery should not be a replay")
	}
	if replay := b.markSeen("+1555_1000"); !replay {
		t.Fatal("second delivery of the same id must be flagged as a replay")
	}
}

func TestMarkSeen_EvictsOldestBeyondWindow(t *testing.T) {
	b := testBot(t, nil)
	for i := 0; i < dedupWindow+10; i++ {
		b.markSeen(string(rune('a')) + string(rune(i)))
	}
	if len(b.seen) != dedupWindow {
		t.Fatalf("dedup window size = %d, want %d", len(b.seen), dedupWindow)
	}
}

func TestDispatchCommand_UnknownListsHelp(t *testing.T) {
	b := testBot(t, nil)
	reply := b.dispatchCommand(context.Background(), "/bogus")
	if !contains(reply, "/status") || !contains(reply, "/generate") {
		t.Fatalf("unknown command reply missing help text: %q", reply)
	}
}

func TestCmdMacros_NoLogToday(t *testing.T) {
	b := testBot(t, nil)
	reply := b.cmdMacros(context.Background())
	if !contains(reply, "No macros logged") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestConversational_NoProviderConfigured(t *testing.T) {
	b := testBot(t, nil)
	reply, err := b.conversational(context.Background(), "how's my training going?")
	if err != nil {
		t.Fatalf("conversational: %v", err)
	}
	if !contains(reply, "AI backend") {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestConversational_StripsFencedJSONAndAppendsHistory(t *testing.T) {
	mock := llm.NewMockProvider("Here's how you're doing.\n```json\n{\"workoutName\":\"x\"}\n```\nKeep it up!")
	b := testBot(t, mock)

	reply, err := b.conversational(context.Background(), "what's my plan?")
	if err != nil {
		t.Fatalf("conversational: %v", err)
	}
	if contains(reply, "```") {
		t.Fatalf("reply still contains fenced block: %q", reply)
	}
	if !contains(reply, "Here's how you're doing.") || !contains(reply, "Keep it up!") {
		t.Fatalf("reply lost surrounding prose: %q", reply)
	}

	history, err := b.Store.ChatHistory()
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("unexpected chat history: %+v", history)
	}
}

func TestCheckMorning_NoOpOutsideConfiguredTime(t *testing.T) {
	b := testBot(t, nil)
	b.Config.MorningMessageTime = "07:00"
	b.Now = func() time.Time { return time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC) }
	b.checkMorning(context.Background())

	if _, _, ok, _ := b.Store.GetKV("notify_morning"); ok {
		t.Fatal("notifier should not have run outside its configured time")
	}
}

func TestCheckMorning_MarksSentOnlyOncePerDay(t *testing.T) {
	b := testBot(t, nil)
	b.Config.MorningMessageTime = "07:00"
	b.Now = func() time.Time { return time.Date(2026, 7, 30, 7, 0, 0, 0, time.UTC) }

	b.checkMorning(context.Background())
	last, _, ok, err := b.Store.GetKV("notify_morning")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if !ok || last != "2026-07-30" {
		t.Fatalf("expected morning notifier marked sent for 2026-07-30, got %q ok=%v", last, ok)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (substr == "" || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
