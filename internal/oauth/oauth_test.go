package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeToken(t *testing.T, dir string, o1 OAuth1Token, o2 OAuth2Token) {
	t.Helper()
	data1, err := json.Marshal(o1)
	if err != nil {
		t.Fatalf("marshal oauth1: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "oauth1_token.json"), data1, 0o600); err != nil {
		t.Fatalf("write oauth1: %v", err)
	}
	data2, err := json.Marshal(o2)
	if err != nil {
		t.Fatalf("marshal oauth2: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "oauth2_token.json"), data2, 0o600); err != nil {
		t.Fatalf("write oauth2: %v", err)
	}
}

func TestNeedsRefresh_FutureExpiryNoOp(t *testing.T) {
	tok := OAuth2Token{ExpiresAt: time.Now().Add(10 * time.Minute)}
	if tok.needsRefresh(time.Now()) {
		t.Fatalf("token expiring in 10m should not need refresh")
	}
}

func TestNeedsRefresh_WithinSkew(t *testing.T) {
	tok := OAuth2Token{ExpiresAt: time.Now().Add(200 * time.Second)}
	if !tok.needsRefresh(time.Now()) {
		t.Fatalf("token expiring in 200s (< 300s skew) should need refresh")
	}
}

func TestNeedsRefresh_AlreadyExpired(t *testing.T) {
	tok := OAuth2Token{ExpiresAt: time.Now().Add(-time.Minute)}
	if !tok.needsRefresh(time.Now()) {
		t.Fatalf("already-expired token should need refresh")
	}
}

func TestEnsureFresh_NoopWhenFresh(t *testing.T) {
	dir := t.TempDir()
	writeToken(t, dir,
		OAuth1Token{Token: "t", TokenSecret: "s"},
		OAuth2Token{AccessToken: "still-good", ExpiresAt: time.Now().Add(time.Hour)},
	)
	s, err := New(dir, "ck", "cs", "http://unused.invalid")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	calls := 0
	s.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, nil
	})}

	if err := s.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no network calls for a fresh token, got %d", calls)
	}
	if s.AccessToken() != "still-good" {
		t.Fatalf("access token should be unchanged, got %q", s.AccessToken())
	}
}

func TestEnsureFresh_RefreshesAndPersists(t *testing.T) {
	dir := t.TempDir()
	writeToken(t, dir,
		OAuth1Token{Token: "t", TokenSecret: "s"},
		OAuth2Token{AccessToken: "stale", ExpiresAt: time.Now().Add(-time.Minute)},
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","refresh_token":"rf","expires_in":3600,"refresh_token_expires_in":7200}`))
	}))
	defer srv.Close()

	s, err := New(dir, "ck", "cs", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if s.AccessToken() != "fresh" {
		t.Fatalf("expected fresh access token, got %q", s.AccessToken())
	}

	persisted, err := loadJSON[OAuth2Token](filepath.Join(dir, "oauth2_token.json"))
	if err != nil {
		t.Fatalf("loadJSON: %v", err)
	}
	if persisted.AccessToken != "fresh" {
		t.Fatalf("persisted access token mismatch: %q", persisted.AccessToken)
	}
}

func TestEnsureFresh_FailurePreservesInMemory(t *testing.T) {
	dir := t.TempDir()
	writeToken(t, dir,
		OAuth1Token{Token: "t", TokenSecret: "s"},
		OAuth2Token{AccessToken: "stale-but-kept", ExpiresAt: time.Now().Add(-time.Minute)},
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	s, err := New(dir, "ck", "cs", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.EnsureFresh(context.Background()); err == nil {
		t.Fatalf("expected refresh failure")
	}
	if s.AccessToken() != "stale-but-kept" {
		t.Fatalf("in-memory token should be unchanged on refresh failure, got %q", s.AccessToken())
	}
}

func TestSignatureBase_Deterministic(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key":     "ck",
		"oauth_nonce":            "abc123",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1700000000",
		"oauth_version":          "1.0",
	}
	a := signatureBase(http.MethodPost, "https://example.invalid/exchange", params)
	b := signatureBase(http.MethodPost, "https://example.invalid/exchange", params)
	if a != b {
		t.Fatalf("signature base must be deterministic for identical inputs")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
