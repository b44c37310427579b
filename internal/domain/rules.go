package domain

import "time"

// RuleType identifies one configurable event rule.
type RuleType string

// Blocking rules zero an activity's score for the event when they fail.
// Bonus rules offer a multiplier; at most one bonus applies per activity.
const (
	RuleMinDistance     RuleType = "min_distance"
	RulePaceRange       RuleType = "pace_range"
	RuleTimeWindow      RuleType = "time_window"
	RuleDailyIncrease   RuleType = "daily_increase"
	RuleMinParticipants RuleType = "min_participants"

	RuleHolidayBonus  RuleType = "holiday_bonus"
	RuleLuckyDistance RuleType = "lucky_distance"
	RuleWeekdayBonus  RuleType = "weekday_bonus"
)

// IsBonus reports whether the rule type belongs to the bonus family.
func (t RuleType) IsBonus() bool {
	switch t {
	case RuleHolidayBonus, RuleLuckyDistance, RuleWeekdayBonus:
		return true
	}
	return false
}

// BonusPriority returns the fixed precedence of a bonus rule type; higher
// wins. Non-bonus types return 0.
func (t RuleType) BonusPriority() int {
	switch t {
	case RuleHolidayBonus:
		return 3
	case RuleLuckyDistance:
		return 2
	case RuleWeekdayBonus:
		return 1
	}
	return 0
}

// IncreaseScope selects whose previous-day total a daily-increase rule
// compares against.
type IncreaseScope string

const (
	ScopeIndividual IncreaseScope = "individual"
	ScopeTeam       IncreaseScope = "team"
)

// RuleConfig carries the per-type tunables of one event rule. Only the fields
// relevant to the rule's type are set; the struct round-trips through the
// event_rules jsonb column.
type RuleConfig struct {
	MinDistanceKm   float64 `json:"min_distance_km,omitempty"`
	MinPaceMinPerKm float64 `json:"min_pace_min_per_km,omitempty"`
	MaxPaceMinPerKm float64 `json:"max_pace_min_per_km,omitempty"`

	// Time window, local hours [StartHour, EndHour).
	StartHour int `json:"start_hour,omitempty"`
	EndHour   int `json:"end_hour,omitempty"`

	Scope         IncreaseScope `json:"scope,omitempty"`
	MinIncreaseKm float64       `json:"min_increase_km,omitempty"`

	MinParticipants int `json:"min_participants,omitempty"`

	Multiplier       float64        `json:"multiplier,omitempty"`
	Holidays         []string       `json:"holidays,omitempty"` // YYYY-MM-DD, event-local
	LuckyDistancesKm []float64      `json:"lucky_distances_km,omitempty"`
	ToleranceKm      float64        `json:"tolerance_km,omitempty"`
	Weekdays         []time.Weekday `json:"weekdays,omitempty"`
}

// EventRule pairs a rule type with its configuration. Rules are supplied by
// the calling context per event and never mutated by the engine.
type EventRule struct {
	Type   RuleType
	Config RuleConfig
}
