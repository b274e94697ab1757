package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/carpenike/fitcoach/internal/apperr"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/plan"
	"github.com/carpenike/fitcoach/internal/store"
)

const conversationalSystemPrompt = "You are a fitness coach chatting with your athlete over IM. " +
	"Use the supplied context (recovery, today's plan, recent activities, recent analyses) to ground your reply. " +
	"If the athlete asks for a new or changed plan, include a fenced ```json block with the plan payload."

// conversational runs the C10 conversational path: gather live context,
// log the user's message, call the LLM with full history, store the
// reply, invoke the materializer if a plan was embedded, and return the
// reply text with any fenced json block stripped before it is broadcast.
func (b *Bot) conversational(ctx context.Context, text string) (string, error) {
	if b.Provider == nil {
		return "I don't have an AI backend configured right now.", nil
	}

	if _, err := b.Store.AppendChat("user", text); err != nil {
		return "", apperr.New(apperr.Persistence, "bot.conversational", err)
	}

	liveContext, err := b.gatherContext(ctx)
	if err != nil {
		return "", err
	}

	history, err := b.Store.ChatHistory()
	if err != nil {
		return "", apperr.New(apperr.Persistence, "bot.conversational", err)
	}

	userPrompt := liveContext + "\n\n## Conversation\n" + renderHistory(history)
	resp, err := b.Provider.Generate(ctx, conversationalSystemPrompt, userPrompt, llm.Options{
		Temperature: llm.DefaultTemperature,
		MaxTokens:   llm.DefaultMaxTokens,
	})
	if err != nil {
		return "", apperr.New(apperr.Upstream, "bot.conversational", err)
	}

	if _, err := b.Store.AppendChat("model", resp.Content); err != nil {
		return "", apperr.New(apperr.Persistence, "bot.conversational", err)
	}

	if block, err := plan.ExtractJSONBlock(resp.Content); err == nil && len(block) > 0 {
		if specs, err := plan.ParseSpecs(block); err == nil && b.Materializer != nil {
			result := b.Materializer.Materialize(ctx, specs)
			if summary := result.Broadcast(); summary != "" {
				return stripFencedJSON(resp.Content) + "\n\n" + summary, nil
			}
		}
	}

	return stripFencedJSON(resp.Content), nil
}

// gatherContext assembles recovery + today's plan + last-7-days
// activities + recent analyses, the live context the conversational path
// grounds its reply in.
func (b *Bot) gatherContext(ctx context.Context) (string, error) {
	snap, err := b.Aggregator.Fetch(ctx, false)
	if err != nil {
		return "", apperr.New(apperr.Upstream, "bot.gatherContext", err)
	}
	today := b.now().Format(dateLayout)

	var planned []string
	for _, c := range snap.Calendar {
		if c.Date == today {
			planned = append(planned, c.Title)
		}
	}

	since := b.now().AddDate(0, 0, -7).Format(dateLayout)
	recent, err := b.Store.RecentActivities(since)
	if err != nil {
		return "", apperr.New(apperr.Persistence, "bot.gatherContext", err)
	}

	var b2 strings.Builder
	fmt.Fprintf(&b2, "## Recovery\nBody battery: %d, sleep: %d, readiness: %d\n",
		snap.Recovery.BodyBattery, snap.Recovery.SleepScore, snap.Recovery.TrainingReadiness)
	fmt.Fprintf(&b2, "## Today's Plan\n%s\n", joinOrNone(planned))
	fmt.Fprintf(&b2, "## Last 7 Days\n")
	for _, a := range recent {
		fmt.Fprintf(&b2, "- %s: %s, %.0fm, %.0fs\n", a.StartTime, a.ActivityType, a.DistanceM, a.DurationS)
	}
	fmt.Fprintf(&b2, "## Recent Analyses\n")
	for _, a := range recent {
		if !a.CloudID.Valid {
			continue
		}
		text, ok, err := b.Store.GetAnalysis(a.CloudID.String)
		if err != nil {
			return "", apperr.New(apperr.Persistence, "bot.gatherContext", err)
		}
		if ok {
			fmt.Fprintf(&b2, "- %s: %s\n", a.StartTime, text)
		}
	}

	return b2.String(), nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func renderHistory(messages []store.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// stripFencedJSON removes the first ```json fenced block from text so the
// athlete never sees the raw plan payload.
func stripFencedJSON(text string) string {
	start := strings.Index(text, "```json")
	if start == -1 {
		return text
	}
	rest := text[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return text
	}
	return strings.TrimSpace(text[:start] + rest[end+len("```"):])
}
