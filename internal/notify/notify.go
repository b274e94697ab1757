// Package notify carries operator-facing maintenance alerts (failed
// scheduled pipeline runs) over Shoutrrr.
// This is distinct from the athlete-facing IM broadcast path in
// internal/bot, which speaks the fixed send envelope the IM gateway
// expects — a shape Shoutrrr's generic services cannot express.
package notify

import (
	"fmt"
	"log"
	"strings"

	"github.com/containrrr/shoutrrr"
)

// Alerter dispatches maintenance alerts to the configured Shoutrrr URLs.
// Zero value with no URLs is a no-op sender, so callers can construct one
// unconditionally from config.
type Alerter struct {
	urls []string
}

// New builds an Alerter from a comma-or-newline separated URL list, as
// read from config. An empty list yields a no-op alerter.
func New(urlsStr string) *Alerter {
	return &Alerter{urls: parseURLs(urlsStr)}
}

// Send fires the message at every configured URL, fire-and-forget.
// Failures are logged, never propagated — an alert channel must not
// itself become a source of failures in the scheduler loops it watches.
func (a *Alerter) Send(message string) {
	if a == nil || len(a.urls) == 0 {
		return
	}
	go func() {
		for _, u := range a.urls {
			if err := shoutrrr.Send(u, message); err != nil {
				log.Printf("notify: maintenance alert failed for %q: %v", maskURL(u), err)
			}
		}
	}()
}

// Alertf formats and sends in one call.
func (a *Alerter) Alertf(format string, args ...any) {
	a.Send(fmt.Sprintf(format, args...))
}

func parseURLs(urlsStr string) []string {
	urlsStr = strings.ReplaceAll(urlsStr, "\n", ",")
	parts := strings.Split(urlsStr, ",")
	var urls []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

func maskURL(u string) string {
	if len(u) <= 15 {
		return u[:min(5, len(u))] + "••••"
	}
	return u[:15] + "••••"
}
