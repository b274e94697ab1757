// Package cloud is the typed client over the fitness cloud's REST API (C2)
// and the snapshot aggregator that fans out across it (C3). All outbound
// requests share one *Client: it consults the token store for a fresh
// bearer before every call and retries transient failures with linear
// backoff, matching the teacher's Anthropic provider's direct-HTTP style.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carpenike/fitcoach/internal/apperr"
	"github.com/carpenike/fitcoach/internal/oauth"
)

// backendHeader is the fixed header every request to the cloud must carry
// alongside the bearer token.
const backendHeader = "di-backend"
const backendHeaderValue = "connectapi.garmin.com"

const maxAttempts = 3

// Client is the typed GET/POST/DELETE surface over the fitness cloud.
type Client struct {
	baseURL string
	tokens  *oauth.Store
	http    *http.Client
}

// New builds a Client against baseURL, refreshing bearer tokens from tokens
// as needed.
func New(baseURL string, tokens *oauth.Store) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Get issues a GET to path and returns the raw response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST of body (marshaled to JSON) to path.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.New(apperr.Parse, "cloud.Post", fmt.Errorf("marshal request body: %w", err))
	}
	return c.do(ctx, http.MethodPost, path, payload)
}

// Delete issues a DELETE to path.
func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do implements the shared call/retry/refresh policy for all three verbs.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.tokens.EnsureFresh(ctx); err != nil {
		return nil, apperr.New(apperr.Authentication, "cloud.do", fmt.Errorf("ensure fresh token: %w", err))
	}

	var lastStatus int
	var lastBody string
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, apperr.New(apperr.Upstream, "cloud.do", fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())
		req.Header.Set(backendHeader, backendHeaderValue)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			sleepBackoff(ctx, attempt)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			sleepBackoff(ctx, attempt)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastStatus = resp.StatusCode
			lastBody = string(respBody)
			lastErr = nil
			// 4xx is a client-side problem (bad payload, missing resource);
			// retrying the identical request cannot change the outcome, so
			// fail fast and let the caller (e.g. the plan materializer's
			// strict/robust fallback) decide what to do next.
			if resp.StatusCode < 500 {
				break
			}
			sleepBackoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return []byte("{}"), nil
		}
		return respBody, nil
	}

	if lastErr != nil {
		return nil, apperr.New(apperr.Transient, "cloud.do", fmt.Errorf("%s %s: %w", method, path, lastErr))
	}
	return nil, apperr.New(apperr.Upstream, "cloud.do", fmt.Errorf("%s %s: %w", method, path, &StatusError{Status: lastStatus, Body: lastBody}))
}

// sleepBackoff sleeps 2*attempt seconds, honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int) {
	select {
	case <-time.After(time.Duration(2*attempt) * time.Second):
	case <-ctx.Done():
	}
}

// StatusError carries the raw status/body of a failed call, wrapped inside
// the error do returns, for callers that need it (e.g. the plan
// materializer's 400-detection for the strict/robust retry).
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}
