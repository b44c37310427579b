package domain

import (
	"context"
	"time"
)

// DayHistory summarises previously scored activity around one calendar day,
// used by the history-dependent blocking rules.
type DayHistory struct {
	PrevDayUserKm   float64
	PrevDayTeamKm   float64
	TodayTeamKm     float64
	DayParticipants int
}

// Standing is one row of raw leaderboard input: distinct scored (non-blocked)
// days per user within an event.
type Standing struct {
	UserID     string
	ActiveDays int
}

// Store is the persistent collaborator the core writes through. All upserts
// are keyed by natural uniqueness constraints, so repeated calls are no-ops
// beyond the final state.
type Store interface {
	UpsertActivity(ctx context.Context, activity NormalizedActivity) error

	// UpsertBestEffort keeps at most one row per (user, effort name): the
	// write only lands when it beats the stored elapsed time.
	UpsertBestEffort(ctx context.Context, effort BestEffort) error
	DeleteBestEffort(ctx context.Context, userID, effortName string) error
	DeleteBestEffortsByActivity(ctx context.Context, activityID int64) error

	UpsertScoredActivity(ctx context.Context, scored ScoredActivity) error
	DeleteScoredByActivity(ctx context.Context, activityID int64) error

	GetWatermark(ctx context.Context, userID string) (time.Time, bool, error)
	SetWatermark(ctx context.Context, userID string, at time.Time) error

	GetEventsForUser(ctx context.Context, userID string) ([]Event, error)
	GetEventRules(ctx context.Context, eventID string) ([]EventRule, error)
	GetDayHistory(ctx context.Context, eventID, userID string, day time.Time) (DayHistory, error)

	GetEvent(ctx context.Context, eventID string) (*Event, error)
	GetStandings(ctx context.Context, eventID string) ([]Standing, error)
	ListScoredByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ScoredActivity, *Cursor, error)
}

// CredentialStore is the credential collaborator owned by the credential
// manager.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*AccessCredential, error)
	SaveRefreshed(ctx context.Context, cred AccessCredential) error
}
