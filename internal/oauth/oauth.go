// Package oauth holds the two on-disk credential records the daemon needs
// to talk to the fitness cloud: a long-lived OAuth1 token obtained once via
// interactive login, and the OAuth2 bearer it is periodically exchanged
// for. Reads are concurrent-safe; writes are exclusive and re-check the
// expiry under lock so that two callers racing on a near-expiry token
// don't both fire a refresh.
package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/carpenike/fitcoach/internal/apperr"
)

// refreshSkew is the lead time before expiry at which a token is treated
// as needing refresh.
const refreshSkew = 300 * time.Second

// OAuth1Token is the long-lived consumer-issued credential obtained via
// interactive login. It never expires on its own; it is only invalidated
// by the cloud provider revoking it.
type OAuth1Token struct {
	Token       string `json:"token"`
	TokenSecret string `json:"token_secret"`
	MFAToken    string `json:"mfa_token,omitempty"`
}

// OAuth2Token is the short-lived bearer exchanged from the OAuth1 token.
type OAuth2Token struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	IssuedAt              time.Time `json:"issued_at"`
	ExpiresAt             time.Time `json:"expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// needsRefresh reports whether t should be refreshed before use.
func (t OAuth2Token) needsRefresh(now time.Time) bool {
	return !now.Before(t.ExpiresAt.Add(-refreshSkew))
}

// exchangeResponse is the JSON shape returned by the cloud's token
// exchange endpoint.
type exchangeResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
}

// Store holds both credential records in memory, backed by files under a
// secrets directory. Reads take the read lock; Refresh and Save take the
// write lock.
type Store struct {
	mu sync.RWMutex

	dir          string
	consumerKey  string
	consumerSecret string
	exchangeURL  string
	httpClient   *http.Client

	oauth1 OAuth1Token
	oauth2 OAuth2Token
}

// New loads both token records from dir, failing with a Configuration
// error if either file is missing or malformed.
func New(dir, consumerKey, consumerSecret, exchangeURL string) (*Store, error) {
	s := &Store{
		dir:            dir,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		exchangeURL:    exchangeURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}

	o1, err := loadJSON[OAuth1Token](s.oauth1Path())
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "oauth.New", fmt.Errorf("load oauth1 token: %w", err))
	}
	o2, err := loadJSON[OAuth2Token](s.oauth2Path())
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "oauth.New", fmt.Errorf("load oauth2 token: %w", err))
	}
	s.oauth1 = o1
	s.oauth2 = o2
	return s, nil
}

func (s *Store) oauth1Path() string { return filepath.Join(s.dir, "oauth1_token.json") }
func (s *Store) oauth2Path() string { return filepath.Join(s.dir, "oauth2_token.json") }

func loadJSON[T any](path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// saveJSON atomically rewrites path: write to path+".tmp", rename over it.
// On EBUSY/EXDEV, fall back to a direct write and remove the temp file.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) && (errno == syscall.EBUSY || errno == syscall.EXDEV) {
			if werr := os.WriteFile(path, data, 0o600); werr != nil {
				return fmt.Errorf("fallback write %s: %w", path, werr)
			}
			os.Remove(tmp)
			return nil
		}
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// AccessToken returns the current OAuth2 bearer without checking
// freshness. Callers that need a fresh token should call EnsureFresh
// first.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oauth2.AccessToken
}

// OAuth1 returns a copy of the current OAuth1 record.
func (s *Store) OAuth1() OAuth1Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oauth1
}
