// Package domain defines the core types shared by the sync, scoring, and
// reporting subsystems.
package domain

import "time"

// SportRun is the only activity kind the scoring pipeline accepts. Listings
// with any other sport are skipped before a detail fetch is attempted.
const SportRun = "Run"

// NormalizedActivity is the canonical record derived from one upstream
// activity payload. It is immutable once built and is the only input the rule
// engine reads.
type NormalizedActivity struct {
	ID             int64
	UserID         string
	Sport          string
	DistanceMeters float64
	MovingTimeSecs int
	StartedAtLocal time.Time
	BestEfforts    []BestEffort
}

// DistanceKm returns the activity distance in kilometers.
func (a NormalizedActivity) DistanceKm() float64 {
	return a.DistanceMeters / 1000
}

// PaceMinPerKm returns the canonical pace in minutes per kilometer, or 0 for
// a zero-distance activity.
func (a NormalizedActivity) PaceMinPerKm() float64 {
	km := a.DistanceKm()
	if km == 0 {
		return 0
	}
	return float64(a.MovingTimeSecs) / 60 / km
}

// Day returns the local calendar day the activity started on.
func (a NormalizedActivity) Day() time.Time {
	y, m, d := a.StartedAtLocal.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.StartedAtLocal.Location())
}

// BestEffort is a provider-reported fastest split for a named standard
// distance within one activity. The store keeps at most one row per
// (user, name): the minimum elapsed time ever observed.
type BestEffort struct {
	ActivityID     int64
	UserID         string
	Name           string
	ElapsedSeconds int
}

// BonusApplication records one bonus rule that matched an activity and the
// multiplier it offered.
type BonusApplication struct {
	Rule       RuleType
	Multiplier float64
}

// ScoredActivity is the rule engine's verdict for one activity in one event.
// At most one bonus is ever applied; the rest of the eligible bonuses are
// retained for user-facing messaging.
type ScoredActivity struct {
	ActivityID    int64
	UserID        string
	EventID       string
	ActivityDate  time.Time
	BasePoints    float64
	AppliedBonus  *BonusApplication
	RejectedBonus []BonusApplication
	FinalPoints   float64
	Blocked       bool
	BlockedRule   RuleType
	BlockedReason string
}

// Event describes one scoring event a user participates in.
type Event struct {
	ID            string
	Name          string
	StartDate     time.Time
	EndDate       time.Time
	MinPercentage float64
	GraceDays     int
}

// Contains reports whether the event's date range covers the given local time.
func (e Event) Contains(t time.Time) bool {
	return !t.Before(e.StartDate) && !t.After(e.EndDate)
}

// TotalDays returns the inclusive length of the event in calendar days.
func (e Event) TotalDays() int {
	return int(e.EndDate.Sub(e.StartDate).Hours()/24) + 1
}

// AccessCredential holds the OAuth material for one user as last observed
// from the provider. ExpiresAt is always the expiry of AccessToken.
type AccessCredential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// WebhookEvent is the decoded single-activity notification pushed by the
// provider: create/update trigger a point fetch-and-score, delete removes the
// derived rows for the activity.
type WebhookEvent struct {
	ID         string
	Kind       string
	ActivityID int64
	OwnerID    string
	EventTime  time.Time
}

// Webhook event kinds as delivered by the provider.
const (
	WebhookCreate = "create"
	WebhookUpdate = "update"
	WebhookDelete = "delete"
)

// Cursor models the pagination token for scored-activity listings.
type Cursor struct {
	ActivityDate time.Time
	EventID      string
}
