package cloud

import "encoding/json"

// Activity is one cloud activity as returned by the activities list
// endpoint. Only the fields the rest of the system needs are kept.
type Activity struct {
	ActivityID   int64   `json:"activityId"`
	StartTime    string  `json:"startTimeLocal"`
	ActivityType string  `json:"activityType"`
	DistanceM    float64 `json:"distance"`
	DurationS    float64 `json:"duration"`
	AvgHR        int     `json:"averageHR"`
	MaxHR        int     `json:"maxHR"`

	StrengthSets []StrengthSet `json:"-"`
}

// StrengthSet is one exercise set extracted from an activity's detail
// payload (not part of the list response; populated by a separate fetch
// the aggregator performs for strength activities).
type StrengthSet struct {
	SetIndex     int
	SetType      string // ACTIVE, WARM_UP, REST, ...
	ExerciseName string
	WeightGrams  float64
	Reps         int
}

// ScheduledWorkout is one calendar item: a planned workout, adaptive
// workout, race, or event.
type ScheduledWorkout struct {
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	Sport       string  `json:"sport"`
	ItemType    string  `json:"itemType"`
	DistanceM   float64 `json:"distance,omitempty"`
	DurationS   float64 `json:"duration,omitempty"`
	Description string  `json:"description,omitempty"`
	IsRace      bool    `json:"isRace,omitempty"`
	PrimaryEvent bool   `json:"primaryEvent,omitempty"`
}

// raceEventItemTypes is the small, data-driven set of itemType values
// treated as races/events rather than plain workouts (open question (c):
// kept as data, not scattered literals).
var raceEventItemTypes = map[string]bool{
	"race":         true,
	"event":        true,
	"primaryEvent": true,
}

// calendarItemTypes is the full allowlist of itemType values kept from the
// calendar fetch.
var calendarItemTypes = map[string]bool{
	"workout":             true,
	"fbtAdaptiveWorkout":  true,
	"race":                true,
	"event":               true,
	"primaryEvent":        true,
}

// Profile is the athlete's cloud-held profile.
type Profile struct {
	WeightGrams float64 `json:"weight"`
	HeightCM    float64 `json:"height"`
	DOB         string  `json:"birthDate"`
	VO2Max      float64 `json:"vo2Max"`
}

// MaxMetrics is the cloud's fitness-test-derived summary (vo2max history,
// etc). Kept opaque beyond what the brief needs.
type MaxMetrics struct {
	VO2Max float64 `json:"vo2MaxValue"`
}

// RecoveryMetrics aggregates the several tolerant, independently-parsed
// recovery endpoints into one structure.
type RecoveryMetrics struct {
	BodyBattery      int
	SleepScore       int
	SleepTrend       []SleepScorePoint // last 7 days, ascending by date
	TrainingReadiness int
	HRVStatus        string
	HRVWeeklyAvg     int
	HRVLastNight     int
	RHRTrend         []int
}

// SleepScorePoint is one day's sleep score, used for the brief's 7-day
// trend rendering ("score (MM-DD)").
type SleepScorePoint struct {
	Date  string // MM-DD
	Score int
}

// Snapshot is the aggregator's single consistent view of cloud state.
type Snapshot struct {
	Activities        []Activity         `json:"activities"`
	TrainingPlans     []json.RawMessage  `json:"trainingPlans"`
	Profile           Profile            `json:"profile"`
	MaxMetrics        MaxMetrics         `json:"maxMetrics"`
	Calendar          []ScheduledWorkout `json:"calendar"`
	Recovery          RecoveryMetrics    `json:"recovery"`
	GeneratedAt       int64              `json:"generatedAt"`
}
