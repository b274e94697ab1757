package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carpenike/fitcoach/internal/oauth"
	"github.com/carpenike/fitcoach/internal/store"
)

func testOAuthStore(t *testing.T, exchangeURL string) *oauth.Store {
	t.Helper()
	dir := t.TempDir()
	writeFile := func(name string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	writeFile("oauth1_token.json", map[string]string{"token": "t", "token_secret": "s"})
	writeFile("oauth2_token.json", map[string]any{
		"access_token": "good",
		"expires_at":   time.Now().Add(time.Hour),
	})

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

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	st := testStore(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tokens := testOAuthStore(t, srv.URL+"/exchange")
	client := New(srv.URL, tokens)
	agg := NewAggregator(client, st)

	first, err := agg.Fetch(context.Background(), false)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	firstCalls := calls
	if firstCalls == 0 {
		t.Fatalf("expected the first fetch to hit the network")
	}

	second, err := agg.Fetch(context.Background(), false)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls != firstCalls {
		t.Fatalf("cache hit should not issue network calls, got %d additional calls", calls-firstCalls)
	}
	if second.GeneratedAt != first.GeneratedAt {
		t.Fatalf("cached snapshot should be served verbatim")
	}
}

func TestFetch_TestModeBypassesCache(t *testing.T) {
	st := testStore(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tokens := testOAuthStore(t, srv.URL+"/exchange")
	client := New(srv.URL, tokens)
	agg := NewAggregator(client, st)

	if _, err := agg.Fetch(context.Background(), true); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	firstCalls := calls
	if _, err := agg.Fetch(context.Background(), true); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls <= firstCalls {
		t.Fatalf("test mode must bypass the cache and re-fetch")
	}
}

func TestFetchCalendar_DedupsAcrossMonths(t *testing.T) {
	st := testStore(t)

	body := `{"calendarItems":[
		{"title":"Long Run","date":"2026-08-01","itemType":"workout"},
		{"title":"Long Run","date":"2026-08-01","itemType":"workout"},
		{"title":"City Marathon","date":"2026-09-15","itemType":"race"},
		{"title":"Untyped","date":"2026-08-02","itemType":"somethingElse"}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	tokens := testOAuthStore(t, srv.URL+"/exchange")
	client := New(srv.URL, tokens)
	agg := NewAggregator(client, st)

	items := agg.fetchCalendar(context.Background())
	if len(items) != 2 {
		t.Fatalf("expected 2 deduped/allowlisted items, got %d: %+v", len(items), items)
	}
	for _, item := range items {
		if item.Title == "City Marathon" && !item.IsRace {
			t.Fatalf("race item type should set IsRace")
		}
	}
}

func TestParseBodyBattery_LastTuple(t *testing.T) {
	body := `[{"bodyBatteryValuesArray":[[0,50],[1,65],[2,80]]}]`
	if got := parseBodyBattery([]byte(body)); got != 80 {
		t.Fatalf("expected 80, got %d", got)
	}
}

func TestParseRHRTrend_FallbackChain(t *testing.T) {
	top := `[{"value":55},{"value":56}]`
	if got := parseRHRTrend([]byte(top)); len(got) != 2 || got[1] != 56 {
		t.Fatalf("top-level parse failed: %+v", got)
	}

	values := `{"values":{"restingHR":[50,52]}}`
	if got := parseRHRTrend([]byte(values)); len(got) != 2 || got[0] != 50 {
		t.Fatalf("values.restingHR parse failed: %+v", got)
	}

	allMetrics := `{"allMetrics":{"metricsMap":{"WELLNESS_RESTING_HEART_RATE":[{"value":48}]}}}`
	if got := parseRHRTrend([]byte(allMetrics)); len(got) != 1 || got[0] != 48 {
		t.Fatalf("allMetrics parse failed: %+v", got)
	}
}
