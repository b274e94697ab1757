package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/carpenike/fitcoach/internal/cloud"
	"github.com/carpenike/fitcoach/internal/llm"
	"github.com/carpenike/fitcoach/internal/store"
)

// notifierTick is how often each notifier loop wakes to check its
// schedule (§4.10: "each a separate clock loop sleeping 60s").
const notifierTick = 60 * time.Second

var weekdayByName = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

// RunNotifiers launches the four independent clock loops. It returns once
// ctx is cancelled; callers typically run it in its own goroutine.
func (b *Bot) RunNotifiers(ctx context.Context) {
	var loops = []func(context.Context){
		b.morningLoop,
		b.weeklyLoop,
		b.monthlyLoop,
		b.raceReadinessLoop,
	}
	done := make(chan struct{}, len(loops))
	for _, loop := range loops {
		loop := loop
		go func() {
			loop(ctx)
			done <- struct{}{}
		}()
	}
	for range loops {
		<-done
	}
}

func tick(ctx context.Context, fn func(context.Context)) {
	ticker := time.NewTicker(notifierTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (b *Bot) morningLoop(ctx context.Context)       { tick(ctx, b.checkMorning) }
func (b *Bot) weeklyLoop(ctx context.Context)        { tick(ctx, b.checkWeekly) }
func (b *Bot) monthlyLoop(ctx context.Context)       { tick(ctx, b.checkMonthly) }
func (b *Bot) raceReadinessLoop(ctx context.Context) { tick(ctx, b.checkRaceReadiness) }

// alreadySent/markSent guard every notifier's "at most
// once per window" invariant using the local store's key-value table so
// state survives process restarts.
func (b *Bot) alreadySent(key, windowValue string) (bool, error) {
	last, _, ok, err := b.Store.GetKV(key)
	if err != nil {
		return false, err
	}
	return ok && last == windowValue, nil
}

func (b *Bot) markSent(key, windowValue string) {
	if err := b.Store.SetKV(key, windowValue); err != nil {
		log.Printf("bot: mark notifier sent %s: %v", key, err)
	}
}

func (b *Bot) checkMorning(ctx context.Context) {
	now := b.now()
	if now.Format("15:04") != b.Config.MorningMessageTime {
		return
	}
	today := now.Format(dateLayout)
	if sent, err := b.alreadySent("notify_morning", today); err != nil || sent {
		return
	}
	defer b.markSent("notify_morning", today)

	snap, err := b.Aggregator.Fetch(ctx, false)
	if err != nil {
		log.Printf("bot: morning notifier fetch: %v", err)
		return
	}
	var planned []string
	for _, c := range snap.Calendar {
		if c.Date == today && (c.ItemType == "workout" || c.ItemType == "fbtAdaptiveWorkout") {
			planned = append(planned, c.Title)
		}
	}
	if len(planned) == 0 {
		return
	}
	b.broadcastOrLog(ctx, fmt.Sprintf("Good morning! Today's plan: %s.", strings.Join(planned, ", ")))
}

func (b *Bot) checkWeekly(ctx context.Context) {
	now := b.now()
	target, ok := weekdayByName[b.Config.WeeklyReviewDay]
	if !ok || now.Weekday() != target || now.Format("15:04") != b.Config.WeeklyReviewTime {
		return
	}
	year, week := now.ISOWeek()
	windowKey := fmt.Sprintf("%d-W%02d", year, week)
	if sent, err := b.alreadySent("notify_weekly", windowKey); err != nil || sent {
		return
	}
	defer b.markSent("notify_weekly", windowKey)

	if b.Provider == nil {
		return
	}

	since := now.AddDate(0, 0, -7).Format(dateLayout)
	activities, err := b.Store.RecentActivities(since)
	if err != nil {
		log.Printf("bot: weekly notifier activities: %v", err)
		return
	}
	snap, err := b.Aggregator.Fetch(ctx, false)
	if err != nil {
		log.Printf("bot: weekly notifier snapshot: %v", err)
		return
	}
	tomorrow := now.AddDate(0, 0, 1).Format(dateLayout)
	var tomorrowPlan []string
	for _, c := range snap.Calendar {
		if c.Date == tomorrow {
			tomorrowPlan = append(tomorrowPlan, c.Title)
		}
	}

	prompt := fmt.Sprintf(
		"Write a short weekly training review. This week's activities:\n%s\n\nCurrent recovery: body battery %d, sleep %d, readiness %d.\nTomorrow's schedule: %s",
		summarizeActivities(activities), snap.Recovery.BodyBattery, snap.Recovery.SleepScore, snap.Recovery.TrainingReadiness, joinOrNone(tomorrowPlan))
	resp, err := b.Provider.Generate(ctx, "You are a concise fitness coach writing a weekly review.", prompt, llm.Options{
		Temperature: llm.DefaultTemperature,
		MaxTokens:   512,
	})
	if err != nil {
		log.Printf("bot: weekly notifier generate: %v", err)
		return
	}
	b.broadcastOrLog(ctx, resp.Content)
}

func (b *Bot) checkMonthly(ctx context.Context) {
	now := b.now()
	monthKey := now.Format("2006-01")
	if sent, err := b.alreadySent("notify_monthly", monthKey); err != nil || sent {
		return
	}

	scheduled := now.Day() == b.Config.MonthlyReviewDay && now.Format("15:04") == b.Config.MonthlyReviewTime
	if !scheduled && !b.Config.ForceMonthlyDebrief {
		return
	}
	defer b.markSent("notify_monthly", monthKey)

	if b.Provider == nil {
		return
	}

	thisMonthSince := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(dateLayout)
	lastMonth := now.AddDate(0, -1, 0)
	lastMonthSince := time.Date(lastMonth.Year(), lastMonth.Month(), 1, 0, 0, 0, 0, now.Location()).Format(dateLayout)

	thisMonth, err := b.Store.RecentActivities(thisMonthSince)
	if err != nil {
		log.Printf("bot: monthly notifier this-month activities: %v", err)
		return
	}
	lastMonthAll, err := b.Store.RecentActivities(lastMonthSince)
	if err != nil {
		log.Printf("bot: monthly notifier last-month activities: %v", err)
		return
	}
	var lastMonthOnly []string
	for _, a := range lastMonthAll {
		if a.StartTime < thisMonthSince {
			lastMonthOnly = append(lastMonthOnly, fmt.Sprintf("%s: %s, %.0fm", a.StartTime, a.ActivityType, a.DistanceM))
		}
	}

	prompt := fmt.Sprintf(
		"Write a short month-over-month training comparison.\nThis month so far:\n%s\n\nLast month:\n%s",
		summarizeActivities(thisMonth), strings.Join(lastMonthOnly, "\n"))
	resp, err := b.Provider.Generate(ctx, "You are a concise fitness coach writing a monthly debrief.", prompt, llm.Options{
		Temperature: llm.DefaultTemperature,
		MaxTokens:   512,
	})
	if err != nil {
		log.Printf("bot: monthly notifier generate: %v", err)
		return
	}
	b.broadcastOrLog(ctx, resp.Content)
}

// raceReadinessWindows are the days-out thresholds that trigger a
// readiness assessment (§4.10).
var raceReadinessWindows = map[int]bool{14: true, 7: true, 2: true}

func (b *Bot) checkRaceReadiness(ctx context.Context) {
	now := b.now()
	if now.Format("15:04") != b.Config.ReadinessMessageTime {
		return
	}
	today := now.Format(dateLayout)
	if sent, err := b.alreadySent("notify_race_readiness", today); err != nil || sent {
		return
	}
	defer b.markSent("notify_race_readiness", today)

	snap, err := b.Aggregator.Fetch(ctx, false)
	if err != nil {
		log.Printf("bot: race readiness fetch: %v", err)
		return
	}

	nearest, ok := nearestUpcomingRace(snap.Calendar, today)
	if !ok {
		return
	}
	daysOut := daysBetween(today, nearest.Date)
	if !raceReadinessWindows[daysOut] {
		return
	}
	if b.Provider == nil {
		return
	}

	since := now.AddDate(0, 0, -84).Format(dateLayout)
	history, err := b.Store.RecentActivities(since)
	if err != nil {
		log.Printf("bot: race readiness history: %v", err)
		return
	}

	prompt := fmt.Sprintf(
		"The athlete's race %q is %d days away. 12-week training history:\n%s\n\nCurrent recovery: body battery %d, sleep %d, readiness %d.\nWrite a short race-readiness assessment.",
		nearest.Title, daysOut, summarizeActivities(history), snap.Recovery.BodyBattery, snap.Recovery.SleepScore, snap.Recovery.TrainingReadiness)
	resp, err := b.Provider.Generate(ctx, "You are a concise fitness coach assessing race readiness.", prompt, llm.Options{
		Temperature: llm.DefaultTemperature,
		MaxTokens:   512,
	})
	if err != nil {
		log.Printf("bot: race readiness generate: %v", err)
		return
	}
	b.broadcastOrLog(ctx, resp.Content)
}

func (b *Bot) broadcastOrLog(ctx context.Context, message string) {
	if err := b.Broadcast(ctx, message); err != nil {
		log.Printf("bot: broadcast notifier message: %v", err)
	}
}

func summarizeActivities(activities []store.Activity) string {
	if len(activities) == 0 {
		return "none recorded"
	}
	var b strings.Builder
	for _, a := range activities {
		fmt.Fprintf(&b, "- %s: %s, %.0fm, %.0fs\n", a.StartTime, a.ActivityType, a.DistanceM, a.DurationS)
	}
	return b.String()
}

func daysBetween(from, to string) int {
	ft, err1 := time.Parse(dateLayout, from)
	tt, err2 := time.Parse(dateLayout, to)
	if err1 != nil || err2 != nil {
		return -1
	}
	return int(tt.Sub(ft).Hours() / 24)
}

func nearestUpcomingRace(calendar []cloud.ScheduledWorkout, today string) (cloud.ScheduledWorkout, bool) {
	var nearest cloud.ScheduledWorkout
	found := false
	for _, c := range calendar {
		if !c.IsRace || c.Date < today {
			continue
		}
		if !found || c.Date < nearest.Date {
			nearest = c
			found = true
		}
	}
	return nearest, found
}
