package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/carpenike/fitcoach/internal/apperr"
)

// The offline, one-shot interactive login flow: load the cloud's SSO
// page, extract its CSRF token, submit credentials, branch on the
// response title (Success or MFA-required), exchange the resulting
// ticket for an OAuth1 token, then run one refresh to mint the first
// OAuth2 bearer. Everything here runs once, driven by a human at the
// CLI; it is never on the hot path.

const (
	ssoLoginPath  = "/sso/signin"
	ssoSubmitPath = "/sso/signin"
)

var (
	csrfPattern  = regexp.MustCompile(`name="_csrf"\s+value="([^"]+)"`)
	titlePattern = regexp.MustCompile(`<title>([^<]*)</title>`)
	ticketPattern = regexp.MustCompile(`ticket=([A-Za-z0-9._-]+)`)
)

// MFAPrompt is called when the SSO response indicates an MFA challenge;
// it must return the one-time code the user enters.
type MFAPrompt func(ctx context.Context) (string, error)

// Login runs the full interactive login flow and, on success, persists
// both the OAuth1 and OAuth2 records and swaps them into the Store.
func (s *Store) Login(ctx context.Context, username, password string, mfa MFAPrompt) error {
	ssoBase := strings.TrimSuffix(s.ssoBaseURL(), "/")

	page, err := s.httpGet(ctx, ssoBase+ssoLoginPath)
	if err != nil {
		return apperr.New(apperr.Upstream, "oauth.Login", fmt.Errorf("load sso page: %w", err))
	}
	csrf, err := extractCSRF(page)
	if err != nil {
		return apperr.New(apperr.Parse, "oauth.Login", err)
	}

	form := url.Values{
		"username": {username},
		"password": {password},
		"_csrf":    {csrf},
		"embed":    {"true"},
	}
	resp, err := s.httpPostForm(ctx, ssoBase+ssoSubmitPath, form)
	if err != nil {
		return apperr.New(apperr.Upstream, "oauth.Login", fmt.Errorf("submit credentials: %w", err))
	}

	switch responseTitle(resp) {
	case "Success":
		// fallthrough to ticket extraction below
	case "MFA":
		if mfa == nil {
			return apperr.New(apperr.Authentication, "oauth.Login", fmt.Errorf("mfa required but no prompt provided"))
		}
		code, err := mfa(ctx)
		if err != nil {
			return apperr.New(apperr.Authentication, "oauth.Login", fmt.Errorf("read mfa code: %w", err))
		}
		mfaForm := url.Values{
			"mfa-code": {code},
			"_csrf":    {csrf},
			"embed":    {"true"},
			"fromPage": {"setupEnterMfaCode"},
		}
		resp, err = s.httpPostForm(ctx, ssoBase+ssoSubmitPath+"/verifyMFA/loginEnterMfaCode", mfaForm)
		if err != nil {
			return apperr.New(apperr.Upstream, "oauth.Login", fmt.Errorf("submit mfa code: %w", err))
		}
		if responseTitle(resp) != "Success" {
			return apperr.New(apperr.Authentication, "oauth.Login", fmt.Errorf("mfa verification rejected"))
		}
	default:
		return apperr.New(apperr.Authentication, "oauth.Login", fmt.Errorf("unexpected sso response title %q", responseTitle(resp)))
	}

	ticket, err := extractTicket(resp)
	if err != nil {
		return apperr.New(apperr.Parse, "oauth.Login", err)
	}

	o1, err := s.exchangeTicketForOAuth1(ctx, ticket)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := saveJSON(s.oauth1Path(), o1); err != nil {
		return apperr.New(apperr.Persistence, "oauth.Login", fmt.Errorf("persist oauth1 token: %w", err))
	}
	s.oauth1 = o1

	return s.doRefresh(ctx)
}

// exchangeTicketForOAuth1 performs the ticket-exchange GET, signed with an
// OAuth1 request signature using only the consumer credentials (no
// token), and returns the resulting long-lived OAuth1 token.
func (s *Store) exchangeTicketForOAuth1(ctx context.Context, ticket string) (OAuth1Token, error) {
	reqURL := s.exchangeURL + "?ticket=" + url.QueryEscape(ticket)

	params, err := sign(signParams{
		consumerKey:    s.consumerKey,
		consumerSecret: s.consumerSecret,
		method:         http.MethodGet,
		rawURL:         s.exchangeURL,
		extra:          map[string]string{"ticket": ticket},
	})
	if err != nil {
		return OAuth1Token{}, apperr.New(apperr.Authentication, "oauth.exchangeTicket", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return OAuth1Token{}, apperr.New(apperr.Authentication, "oauth.exchangeTicket", err)
	}
	req.Header.Set("Authorization", authorizationHeader(params))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return OAuth1Token{}, apperr.New(apperr.Transient, "oauth.exchangeTicket", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OAuth1Token{}, apperr.New(apperr.Authentication, "oauth.exchangeTicket", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OAuth1Token{}, apperr.New(apperr.Authentication, "oauth.exchangeTicket",
			fmt.Errorf("exchange returned %d: %s", resp.StatusCode, truncate(string(body), 500)))
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return OAuth1Token{}, apperr.New(apperr.Parse, "oauth.exchangeTicket", fmt.Errorf("parse oauth1 response: %w", err))
	}
	tok := OAuth1Token{
		Token:       values.Get("oauth_token"),
		TokenSecret: values.Get("oauth_token_secret"),
	}
	if tok.Token == "" || tok.TokenSecret == "" {
		return OAuth1Token{}, apperr.New(apperr.Parse, "oauth.exchangeTicket", fmt.Errorf("response missing oauth_token/oauth_token_secret"))
	}
	return tok, nil
}

func (s *Store) ssoBaseURL() string {
	return "https://sso." + strings.TrimPrefix(strings.TrimPrefix(s.exchangeURL, "https://"), "http://")
}

func (s *Store) httpGet(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (s *Store) httpPostForm(ctx context.Context, rawURL string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func extractCSRF(html string) (string, error) {
	m := csrfPattern.FindStringSubmatch(html)
	if m == nil {
		return "", fmt.Errorf("oauth: csrf token not found in sso page")
	}
	return m[1], nil
}

func responseTitle(html string) string {
	m := titlePattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func extractTicket(html string) (string, error) {
	m := ticketPattern.FindStringSubmatch(html)
	if m == nil {
		return "", fmt.Errorf("oauth: ticket not found in sso response")
	}
	return m[1], nil
}
