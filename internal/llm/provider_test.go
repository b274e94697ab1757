package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewProviderFromConfig_NotConfigured(t *testing.T) {
	_, err := NewProviderFromConfig("", "claude-sonnet-4-20250514")
	if err != ErrNotConfigured {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}

func TestNewProviderFromConfig_Anthropic(t *testing.T) {
	p, err := NewProviderFromConfig("test-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "Anthropic" {
		t.Errorf("name = %q, want Anthropic", p.Name())
	}
}

func TestAPIError_UserMessage(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		wantSubstr string
	}{
		{
			name:       "401 invalid key",
			err:        &APIError{Provider: "Anthropic", StatusCode: 401, Message: "invalid api key"},
			wantSubstr: "invalid API key",
		},
		{
			name:       "429 rate limit",
			err:        &APIError{Provider: "Anthropic", StatusCode: 429, Message: "rate limited"},
			wantSubstr: "rate limit exceeded",
		},
		{
			name:       "400 billing",
			err:        &APIError{Provider: "Anthropic", StatusCode: 400, Message: "insufficient credit balance"},
			wantSubstr: "insufficient credits",
		},
		{
			name:       "400 model not found",
			err:        &APIError{Provider: "Anthropic", StatusCode: 400, Message: "model not found"},
			wantSubstr: "model not found",
		},
		{
			name:       "503 unavailable",
			err:        &APIError{Provider: "Anthropic", StatusCode: 503, Message: "service unavailable"},
			wantSubstr: "temporarily unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.UserMessage()
			if msg == "" {
				t.Fatal("UserMessage returned empty string")
			}
			if !containsAny(msg, tt.wantSubstr) {
				t.Errorf("UserMessage = %q, want to contain %q", msg, tt.wantSubstr)
			}
		})
	}
}

func TestAnthropicProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}

		resp := map[string]any{
			"content":     []map[string]string{{"type": "text", "text": "Hello from Anthropic"}},
			"model":       "claude-sonnet-4-20250514",
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", "claude-sonnet-4-20250514")
	p.client = &http.Client{Transport: &rewriteTransport{
		base:    http.DefaultTransport,
		fromURL: "https://api.anthropic.com",
		toURL:   srv.URL,
	}}

	result, err := p.Generate(context.Background(), "system", "user", Options{Temperature: 0.5, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Content != "Hello from Anthropic" {
		t.Errorf("content = %q", result.Content)
	}
	if result.TokensUsed != 30 {
		t.Errorf("tokens = %d, want 30", result.TokensUsed)
	}
}

func TestAnthropicProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "invalid_api_key", "message": "bad key"},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("bad-key", "claude-sonnet-4-20250514")
	p.client = &http.Client{Transport: &rewriteTransport{
		base:    http.DefaultTransport,
		fromURL: "https://api.anthropic.com",
		toURL:   srv.URL,
	}}

	_, err := p.Generate(context.Background(), "system", "user", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != 401 {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}

func TestMockProvider_Generate(t *testing.T) {
	p := NewMockProvider(`{"ok":true}`)
	result, err := p.Generate(context.Background(), "sys", "user", Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Content != `{"ok":true}` {
		t.Errorf("content = %q", result.Content)
	}
}

// rewriteTransport intercepts requests to fromURL and rewrites them to toURL.
// Used to test the Anthropic provider which hardcodes the API URL.
type rewriteTransport struct {
	base    http.RoundTripper
	fromURL string
	toURL   string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqURL := req.URL.String()
	if len(reqURL) >= len(t.fromURL) && reqURL[:len(t.fromURL)] == t.fromURL {
		newURL := t.toURL + reqURL[len(t.fromURL):]
		newReq := req.Clone(req.Context())
		u, _ := req.URL.Parse(newURL)
		newReq.URL = u
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}
