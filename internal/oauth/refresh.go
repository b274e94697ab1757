package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carpenike/fitcoach/internal/apperr"
)

// EnsureFresh refreshes the OAuth2 bearer if it is within refreshSkew of
// expiry. Safe for concurrent callers: the freshness check is repeated
// under the write lock so that only one of a set of racing callers
// actually performs the exchange.
func (s *Store) EnsureFresh(ctx context.Context) error {
	s.mu.RLock()
	stale := s.oauth2.needsRefresh(time.Now())
	s.mu.RUnlock()
	if !stale {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.oauth2.needsRefresh(time.Now()) {
		// Another caller refreshed while we waited for the write lock.
		return nil
	}
	return s.doRefresh(ctx)
}

// doRefresh performs the signed exchange and, on success, persists and
// swaps in the new OAuth2 record. Must be called with s.mu held for
// writing.
func (s *Store) doRefresh(ctx context.Context) error {
	form := url.Values{}
	if s.oauth1.MFAToken != "" {
		form.Set("mfa_token", s.oauth1.MFAToken)
	}
	body := form.Encode()

	params, err := sign(signParams{
		consumerKey:    s.consumerKey,
		consumerSecret: s.consumerSecret,
		token:          s.oauth1.Token,
		tokenSecret:    s.oauth1.TokenSecret,
		method:         http.MethodPost,
		rawURL:         s.exchangeURL,
		extra:          formToMap(form),
	})
	if err != nil {
		return apperr.New(apperr.Authentication, "oauth.Refresh", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.exchangeURL, strings.NewReader(body))
	if err != nil {
		return apperr.New(apperr.Authentication, "oauth.Refresh", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", authorizationHeader(params))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperr.New(apperr.Transient, "oauth.Refresh", fmt.Errorf("exchange request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.Authentication, "oauth.Refresh", fmt.Errorf("read exchange response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.New(apperr.Authentication, "oauth.Refresh",
			fmt.Errorf("exchange returned %d: %s", resp.StatusCode, truncate(string(respBody), 500)))
	}

	var ex exchangeResponse
	if err := json.Unmarshal(respBody, &ex); err != nil {
		return apperr.New(apperr.Parse, "oauth.Refresh", fmt.Errorf("parse exchange response: %w", err))
	}

	now := time.Now()
	next := OAuth2Token{
		AccessToken:           ex.AccessToken,
		RefreshToken:          ex.RefreshToken,
		IssuedAt:              now,
		ExpiresAt:             now.Add(time.Duration(ex.ExpiresIn) * time.Second),
		RefreshTokenExpiresAt: now.Add(time.Duration(ex.RefreshTokenExpiresIn) * time.Second),
	}

	if err := saveJSON(s.oauth2Path(), next); err != nil {
		return apperr.New(apperr.Persistence, "oauth.Refresh", fmt.Errorf("persist oauth2 token: %w", err))
	}
	s.oauth2 = next
	return nil
}

func formToMap(v url.Values) map[string]string {
	m := make(map[string]string, len(v))
	for k := range v {
		m[k] = v.Get(k)
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
