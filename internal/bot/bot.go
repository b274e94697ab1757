// Package bot implements the IM Bot & Notifiers (C10): a WebSocket
// receiver that dispatches slash commands and conversational messages, and
// four independent 60-second clock loops that broadcast scheduled
// reviews. Grounded on the teacher's Go idioms for long-running loop
// tasks (context-cancellable goroutines, ticker-driven polling) since the
// teacher itself has no IM surface to imitate directly.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/config"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/pipeline"
	"github.com/carpenike/fitcoach/internal/plan"
	"github.com/carpenike/fitcoach/internal/store"
	"github.com/carpenike/fitcoach/internal/vocabulary"
)

const dateLayout = "2006-01-02"

// dedupWindow is the number of recently-seen message ids the receiver
// remembers, per §4.10.
const dedupWindow = 100

// Bot owns the WebSocket receiver, the conversational path, and the
// notifier loops. It implements pipeline.Broadcaster.
type Bot struct {
	Config       *config.Config
	Store        *store.Store
	Aggregator   *cloud.Aggregator
	Resolver     *vocabulary.Resolver
	Provider     llm.Provider
	Materializer *plan.Materializer
	HTTPClient   *http.Client

	// Orchestrator backs the /generate command; nil disables it.
	Orchestrator *pipeline.Orchestrator

	// seen is the FIFO dedup window. Owned exclusively by the receiver
	// goroutine; never touched from another goroutine.
	seen    []string
	seenSet map[string]bool

	// Now is overridable for deterministic notifier tests.
	Now func() time.Time
}

// New builds a Bot with sane defaults for fields the caller doesn't set.
func New(cfg *config.Config, st *store.Store, agg *cloud.Aggregator, resolver *vocabulary.Resolver, provider llm.Provider, materializer *plan.Materializer) *Bot {
	return &Bot{
		Config:       cfg,
		Store:        st,
		Aggregator:   agg,
		Resolver:     resolver,
		Provider:     provider,
		Materializer: materializer,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
		seenSet:      make(map[string]bool, dedupWindow),
	}
}

func (b *Bot) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// markSeen records id in the FIFO dedup window and reports whether it was
// already present (a replay).
func (b *Bot) markSeen(id string) (replay bool) {
	if b.seenSet[id] {
		return true
	}
	b.seenSet[id] = true
	b.seen = append(b.seen, id)
	if len(b.seen) > dedupWindow {
		oldest := b.seen[0]
		b.seen = b.seen[1:]
		delete(b.seenSet, oldest)
	}
	return false
}

// sendEnvelope is the fixed wire shape the IM gateway's /v2/send expects.
type sendEnvelope struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

// Broadcast implements pipeline.Broadcaster: it posts message to every
// configured subscriber via the IM gateway's send endpoint.
func (b *Bot) Broadcast(ctx context.Context, message string) error {
	if message == "" {
		return nil
	}
	body, err := json.Marshal(sendEnvelope{
		Message:    message,
		Number:     b.Config.SignalPhoneNumber,
		Recipients: b.Config.SignalSubscribers,
	})
	if err != nil {
		return fmt.Errorf("bot: marshal send envelope: %w", err)
	}

	url := fmt.Sprintf("http://%s:8080/v2/send", b.Config.SignalAPIHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bot: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot: send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bot: send message: gateway returned %d", resp.StatusCode)
	}
	return nil
}
