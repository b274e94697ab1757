package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/carpenike/fitcoach/internal/store"
)

// snapshotCacheKey is the KV key the aggregator's cache lives under.
const snapshotCacheKey = "garmin_cache"

// snapshotTTL is the cache freshness window.
const snapshotTTL = 3600 * time.Second

// Aggregator produces Snapshots, consulting and maintaining the local
// store's cache.
type Aggregator struct {
	client *Client
	store  *store.Store
}

// NewAggregator builds an Aggregator over client, caching through store.
func NewAggregator(client *Client, st *store.Store) *Aggregator {
	return &Aggregator{client: client, store: st}
}

// cachedSnapshot is the on-disk cache envelope: the snapshot plus the
// unix-seconds timestamp it was written at.
type cachedSnapshot struct {
	Snapshot  Snapshot `json:"snapshot"`
	WrittenAt int64    `json:"written_at"`
}

// Fetch returns the current Snapshot, serving from cache when fresh. test
// bypasses the cache entirely, always hitting the network.
func (a *Aggregator) Fetch(ctx context.Context, test bool) (Snapshot, error) {
	if !test {
		if snap, ok, err := a.cached(); err != nil {
			return Snapshot{}, err
		} else if ok {
			return snap, nil
		}
	}

	snap := a.fetchAll(ctx)
	snap.GeneratedAt = time.Now().Unix()

	if err := a.writeCache(snap); err != nil {
		log.Printf("cloud: write snapshot cache: %v", err)
	}
	return snap, nil
}

// Invalidate deletes the cached snapshot so the next Fetch re-fetches.
func (a *Aggregator) Invalidate() error {
	return a.store.DeleteKV(snapshotCacheKey)
}

func (a *Aggregator) cached() (Snapshot, bool, error) {
	raw, updatedAt, ok, err := a.store.GetKV(snapshotCacheKey)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("cloud: read snapshot cache: %w", err)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	if time.Since(updatedAt) >= snapshotTTL {
		return Snapshot{}, false, nil
	}

	var cached cachedSnapshot
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		// A corrupt cache entry is treated as a miss, not a fatal error.
		return Snapshot{}, false, nil
	}
	return cached.Snapshot, true, nil
}

func (a *Aggregator) writeCache(snap Snapshot) error {
	data, err := json.Marshal(cachedSnapshot{Snapshot: snap, WrittenAt: snap.GeneratedAt})
	if err != nil {
		return fmt.Errorf("cloud: marshal snapshot cache: %w", err)
	}
	return a.store.SetKV(snapshotCacheKey, string(data))
}

// fetchAll performs the ordered, individually-tolerant fetch sequence.
// Each step's failure is logged and leaves its slice/struct at its zero
// value; the snapshot is always produced.
func (a *Aggregator) fetchAll(ctx context.Context) Snapshot {
	var snap Snapshot

	if activities, err := a.fetchActivities(ctx); err != nil {
		log.Printf("cloud: fetch activities: %v", err)
	} else {
		snap.Activities = activities
	}

	if plans, err := a.fetchTrainingPlans(ctx); err != nil {
		log.Printf("cloud: fetch training plans: %v", err)
	} else {
		snap.TrainingPlans = plans
	}

	if profile, err := a.fetchProfile(ctx); err != nil {
		log.Printf("cloud: fetch profile: %v", err)
	} else {
		snap.Profile = profile
	}

	if maxMetrics, err := a.fetchMaxMetrics(ctx); err != nil {
		log.Printf("cloud: fetch max metrics: %v", err)
	} else {
		snap.MaxMetrics = maxMetrics
	}

	snap.Calendar = a.fetchCalendar(ctx)
	snap.Recovery = a.fetchRecovery(ctx)

	return snap
}

func (a *Aggregator) fetchActivities(ctx context.Context) ([]Activity, error) {
	body, err := a.client.Get(ctx, "/activitylist-service/activities/search/activities?start=0&limit=50")
	if err != nil {
		return nil, err
	}
	var activities []Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("parse activities: %w", err)
	}

	for i := range activities {
		if activities[i].ActivityType != "strength_training" {
			continue
		}
		sets, err := a.fetchStrengthSets(ctx, activities[i].ActivityID)
		if err != nil {
			log.Printf("cloud: fetch strength sets for activity %d: %v", activities[i].ActivityID, err)
			continue
		}
		activities[i].StrengthSets = sets
	}

	return activities, nil
}

// fetchStrengthSets reads one activity's per-set exercise detail, keeping
// only ACTIVE sets (WARM_UP/REST and others are excluded at the source).
func (a *Aggregator) fetchStrengthSets(ctx context.Context, activityID int64) ([]StrengthSet, error) {
	path := fmt.Sprintf("/activity-service/activity/%d/exerciseSets", activityID)
	body, err := a.client.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		SetIndex     int     `json:"setIndex"`
		SetType      string  `json:"setType"`
		ExerciseName string  `json:"exerciseName"`
		WeightGrams  float64 `json:"weight"`
		Reps         int     `json:"reps"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse exercise sets: %w", err)
	}

	sets := make([]StrengthSet, 0, len(raw))
	for _, r := range raw {
		if r.SetType != "ACTIVE" || r.Reps <= 0 {
			continue
		}
		sets = append(sets, StrengthSet{
			SetIndex:     r.SetIndex,
			SetType:      r.SetType,
			ExerciseName: r.ExerciseName,
			WeightGrams:  r.WeightGrams,
			Reps:         r.Reps,
		})
	}
	return sets, nil
}

// fetchTrainingPlans is deliberately tolerant of a non-array body (open
// question (a)): any parse failure is treated the same as a fetch
// failure, falling back to an empty list rather than aborting the
// snapshot.
func (a *Aggregator) fetchTrainingPlans(ctx context.Context) ([]json.RawMessage, error) {
	body, err := a.client.Get(ctx, "/training-api/trainingplan/trainingplans")
	if err != nil {
		return nil, err
	}
	var plans []json.RawMessage
	if err := json.Unmarshal(body, &plans); err != nil {
		return nil, nil
	}
	return plans, nil
}

func (a *Aggregator) fetchProfile(ctx context.Context) (Profile, error) {
	body, err := a.client.Get(ctx, "/userprofile-service/userprofile/user-settings")
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}

func (a *Aggregator) fetchMaxMetrics(ctx context.Context) (MaxMetrics, error) {
	body, err := a.client.Get(ctx, "/metrics-service/metrics/maxmet/latest")
	if err != nil {
		return MaxMetrics{}, err
	}
	var m MaxMetrics
	if err := json.Unmarshal(body, &m); err != nil {
		return MaxMetrics{}, fmt.Errorf("parse max metrics: %w", err)
	}
	return m, nil
}

// fetchCalendar walks six consecutive calendar months starting at the
// current one, deduping items by (date,title) across overlapping months
// and keeping only the allowlisted itemTypes.
func (a *Aggregator) fetchCalendar(ctx context.Context) []ScheduledWorkout {
	seen := make(map[string]bool)
	var items []ScheduledWorkout

	now := time.Now()
	for i := 0; i < 6; i++ {
		month := now.AddDate(0, i, 0)
		path := fmt.Sprintf("/calendar-service/calendar/%04d/%d", month.Year(), int(month.Month())-1)
		body, err := a.client.Get(ctx, path)
		if err != nil {
			log.Printf("cloud: fetch calendar %04d-%02d: %v", month.Year(), month.Month(), err)
			continue
		}

		var page struct {
			CalendarItems []ScheduledWorkout `json:"calendarItems"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			log.Printf("cloud: parse calendar %04d-%02d: %v", month.Year(), month.Month(), err)
			continue
		}

		for _, item := range page.CalendarItems {
			if !calendarItemTypes[item.ItemType] {
				continue
			}
			key := item.Date + "|" + item.Title
			if seen[key] {
				continue
			}
			seen[key] = true
			if raceEventItemTypes[item.ItemType] {
				item.IsRace = true
			}
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Date < items[j].Date })
	return items
}

// fetchRecovery gathers the independent recovery endpoints, parsing each
// tolerantly: a missing or differently-shaped sub-field never fails the
// whole snapshot (open question (b)).
func (a *Aggregator) fetchRecovery(ctx context.Context) RecoveryMetrics {
	var rec RecoveryMetrics

	if body, err := a.client.Get(ctx, "/wellness-service/wellness/bodyBattery/reports/daily"); err == nil {
		rec.BodyBattery = parseBodyBattery(body)
	} else {
		log.Printf("cloud: fetch body battery: %v", err)
	}

	if body, err := a.client.Get(ctx, "/wellness-service/wellness/dailySleepData"); err == nil {
		rec.SleepScore, rec.SleepTrend = parseSleep(body)
	} else {
		log.Printf("cloud: fetch sleep: %v", err)
	}

	if body, err := a.client.Get(ctx, "/metrics-service/metrics/trainingreadiness"); err == nil {
		rec.TrainingReadiness = parseReadiness(body)
	} else {
		log.Printf("cloud: fetch training readiness: %v", err)
	}

	if body, err := a.client.Get(ctx, "/hrv-service/hrv/daily"); err == nil {
		rec.HRVStatus, rec.HRVWeeklyAvg, rec.HRVLastNight = parseHRV(body)
	} else {
		log.Printf("cloud: fetch hrv: %v", err)
	}

	if body, err := a.client.Get(ctx, "/metrics-service/metrics/heartrate/daily"); err == nil {
		rec.RHRTrend = parseRHRTrend(body)
	} else {
		log.Printf("cloud: fetch rhr trend: %v", err)
	}

	return rec
}

// parseBodyBattery takes the last tuple of the latest day's
// bodyBatteryValuesArray, element [1].
func parseBodyBattery(body []byte) int {
	var days []struct {
		BodyBatteryValuesArray [][]float64 `json:"bodyBatteryValuesArray"`
	}
	if err := json.Unmarshal(body, &days); err != nil || len(days) == 0 {
		return 0
	}
	last := days[len(days)-1]
	if len(last.BodyBatteryValuesArray) == 0 {
		return 0
	}
	tuple := last.BodyBatteryValuesArray[len(last.BodyBatteryValuesArray)-1]
	if len(tuple) < 2 {
		return 0
	}
	return int(tuple[1])
}

// parseSleep returns today's overall sleep score and a 7-day trend,
// reading dailySleepDTO.sleepScores.overall.value per day.
func parseSleep(body []byte) (int, []SleepScorePoint) {
	var days []struct {
		CalendarDate string `json:"calendarDate"`
		DailySleepDTO struct {
			SleepScores struct {
				Overall struct {
					Value int `json:"value"`
				} `json:"overall"`
			} `json:"sleepScores"`
		} `json:"dailySleepDTO"`
	}
	if err := json.Unmarshal(body, &days); err != nil || len(days) == 0 {
		return 0, nil
	}

	if len(days) > 7 {
		days = days[len(days)-7:]
	}

	var trend []SleepScorePoint
	for _, d := range days {
		mmdd := d.CalendarDate
		if len(mmdd) >= 10 {
			mmdd = mmdd[5:10]
		}
		trend = append(trend, SleepScorePoint{Date: mmdd, Score: d.DailySleepDTO.SleepScores.Overall.Value})
	}

	latest := days[len(days)-1].DailySleepDTO.SleepScores.Overall.Value
	return latest, trend
}

// parseReadiness takes the first element's score.
func parseReadiness(body []byte) int {
	var entries []struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal(body, &entries); err != nil || len(entries) == 0 {
		return 0
	}
	return entries[0].Score
}

func parseHRV(body []byte) (status string, weeklyAvg, lastNight int) {
	var payload struct {
		HRVSummary struct {
			Status        string `json:"status"`
			WeeklyAvg     int    `json:"weeklyAvg"`
			LastNightAvg  int    `json:"lastNightAvg"`
		} `json:"hrvSummary"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, 0
	}
	return payload.HRVSummary.Status, payload.HRVSummary.WeeklyAvg, payload.HRVSummary.LastNightAvg
}

// parseRHRTrend tries, in order: a top-level list element's value; a
// values.restingHR map; allMetrics.metricsMap.WELLNESS_RESTING_HEART_RATE[].value.
func parseRHRTrend(body []byte) []int {
	var topLevel []struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(body, &topLevel); err == nil && len(topLevel) > 0 {
		out := make([]int, len(topLevel))
		for i, e := range topLevel {
			out[i] = e.Value
		}
		return out
	}

	var withValues struct {
		Values struct {
			RestingHR []int `json:"restingHR"`
		} `json:"values"`
	}
	if err := json.Unmarshal(body, &withValues); err == nil && len(withValues.Values.RestingHR) > 0 {
		return withValues.Values.RestingHR
	}

	var allMetrics struct {
		AllMetrics struct {
			MetricsMap struct {
				RestingHR []struct {
					Value int `json:"value"`
				} `json:"WELLNESS_RESTING_HEART_RATE"`
			} `json:"metricsMap"`
		} `json:"allMetrics"`
	}
	if err := json.Unmarshal(body, &allMetrics); err == nil && len(allMetrics.AllMetrics.MetricsMap.RestingHR) > 0 {
		out := make([]int, len(allMetrics.AllMetrics.MetricsMap.RestingHR))
		for i, e := range allMetrics.AllMetrics.MetricsMap.RestingHR {
			out[i] = e.Value
		}
		return out
	}

	return nil
}

// SleepTrendString renders the 7-day sleep trend as "score (MM-DD)"
// comma-joined, used directly by the brief synthesizer.
func (r RecoveryMetrics) SleepTrendString() string {
	parts := make([]string, 0, len(r.SleepTrend))
	for _, p := range r.SleepTrend {
		parts = append(parts, strconv.Itoa(p.Score)+" ("+p.Date+")")
	}
	return strings.Join(parts, ", ")
}
