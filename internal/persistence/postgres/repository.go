// Package postgres provides pgx-backed persistence for activities, scores,
// credentials, and the event outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideleague/pointsd/internal/domain"
	"github.com/strideleague/pointsd/internal/outbox"
)

// Repository is the Postgres implementation of the store and credential
// collaborators. Score writes also record outbox events inside the same
// transaction, so a committed score always has a pending publication.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertActivity stores the canonical activity record, replacing any previous
// state for the same upstream id.
func (r *Repository) UpsertActivity(ctx context.Context, activity domain.NormalizedActivity) error {
	const stmt = `INSERT INTO activities (activity_id, user_id, sport, distance_meters, moving_time_seconds, started_at_local, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,NOW())
        ON CONFLICT (activity_id) DO UPDATE
           SET user_id = EXCLUDED.user_id,
               sport = EXCLUDED.sport,
               distance_meters = EXCLUDED.distance_meters,
               moving_time_seconds = EXCLUDED.moving_time_seconds,
               started_at_local = EXCLUDED.started_at_local,
               updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt,
		activity.ID,
		activity.UserID,
		activity.Sport,
		activity.DistanceMeters,
		activity.MovingTimeSecs,
		activity.StartedAtLocal,
	)
	return err
}

// UpsertBestEffort keeps at most one row per (user, effort name). The update
// only lands when the new time beats the stored one, so concurrent writers
// converge on the minimum without a read-modify-write cycle.
func (r *Repository) UpsertBestEffort(ctx context.Context, effort domain.BestEffort) error {
	const stmt = `INSERT INTO best_efforts (user_id, effort_name, activity_id, elapsed_seconds)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id, effort_name) DO UPDATE
           SET activity_id = EXCLUDED.activity_id,
               elapsed_seconds = EXCLUDED.elapsed_seconds,
               recorded_at = NOW()
         WHERE best_efforts.elapsed_seconds > EXCLUDED.elapsed_seconds`

	_, err := r.pool.Exec(ctx, stmt, effort.UserID, effort.Name, effort.ActivityID, effort.ElapsedSeconds)
	return err
}

// DeleteBestEffort removes one named record for a user.
func (r *Repository) DeleteBestEffort(ctx context.Context, userID, effortName string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM best_efforts WHERE user_id=$1 AND effort_name=$2`, userID, effortName)
	return err
}

// DeleteBestEffortsByActivity removes every record sourced from the activity.
func (r *Repository) DeleteBestEffortsByActivity(ctx context.Context, activityID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM best_efforts WHERE activity_id=$1`, activityID)
	return err
}

// UpsertScoredActivity writes the verdict for one (user, event, day) and
// queues a score.updated outbox event in the same transaction.
func (r *Repository) UpsertScoredActivity(ctx context.Context, scored domain.ScoredActivity) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	rejected, err := json.Marshal(rejectedPayload(scored.RejectedBonus))
	if err != nil {
		return err
	}

	var appliedBonus, blockedRule *string
	var appliedMultiplier *float64
	if scored.AppliedBonus != nil {
		name := string(scored.AppliedBonus.Rule)
		appliedBonus = &name
		appliedMultiplier = &scored.AppliedBonus.Multiplier
	}
	if scored.Blocked {
		name := string(scored.BlockedRule)
		blockedRule = &name
	}

	const stmt = `INSERT INTO scored_activities
        (user_id, event_id, activity_date, activity_id, base_points, final_points,
         applied_bonus, applied_multiplier, rejected_bonuses, blocked, blocked_rule, blocked_reason, scored_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
        ON CONFLICT (user_id, event_id, activity_date) DO UPDATE
           SET activity_id = EXCLUDED.activity_id,
               base_points = EXCLUDED.base_points,
               final_points = EXCLUDED.final_points,
               applied_bonus = EXCLUDED.applied_bonus,
               applied_multiplier = EXCLUDED.applied_multiplier,
               rejected_bonuses = EXCLUDED.rejected_bonuses,
               blocked = EXCLUDED.blocked,
               blocked_rule = EXCLUDED.blocked_rule,
               blocked_reason = EXCLUDED.blocked_reason,
               scored_at = NOW()`

	_, err = tx.Exec(ctx, stmt,
		scored.UserID,
		scored.EventID,
		scored.ActivityDate,
		scored.ActivityID,
		scored.BasePoints,
		scored.FinalPoints,
		appliedBonus,
		appliedMultiplier,
		rejected,
		scored.Blocked,
		blockedRule,
		nullIfEmpty(scored.BlockedReason),
	)
	if err != nil {
		return err
	}

	payload := scoreUpdatedEvent{
		UserID:       scored.UserID,
		EventID:      scored.EventID,
		ActivityID:   scored.ActivityID,
		ActivityDate: scored.ActivityDate.Format("2006-01-02"),
		BasePoints:   scored.BasePoints,
		FinalPoints:  scored.FinalPoints,
		Blocked:      scored.Blocked,
		AppliedBonus: appliedBonus,
		Version:      eventVersion,
	}
	if err = insertOutbox(ctx, tx, outbox.EventTypeScoreUpdated, scored.UserID,
		fmt.Sprintf("%d:%s:%s", scored.ActivityID, scored.EventID, outbox.EventTypeScoreUpdated), payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteScoredByActivity removes every scored row derived from the activity.
func (r *Repository) DeleteScoredByActivity(ctx context.Context, activityID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM scored_activities WHERE activity_id=$1`, activityID)
	return err
}

// GetWatermark returns the last committed sync point for a user.
func (r *Repository) GetWatermark(ctx context.Context, userID string) (time.Time, bool, error) {
	var wm time.Time
	err := r.pool.QueryRow(ctx, `SELECT synced_until FROM sync_watermarks WHERE user_id=$1`, userID).Scan(&wm)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return wm, true, nil
}

// SetWatermark advances the sync point for a user.
func (r *Repository) SetWatermark(ctx context.Context, userID string, at time.Time) error {
	const stmt = `INSERT INTO sync_watermarks (user_id, synced_until, updated_at)
        VALUES ($1,$2,NOW())
        ON CONFLICT (user_id) DO UPDATE SET synced_until = EXCLUDED.synced_until, updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, userID, at)
	return err
}

// GetEventsForUser lists the events the user is a member of.
func (r *Repository) GetEventsForUser(ctx context.Context, userID string) ([]domain.Event, error) {
	const query = `SELECT e.event_id, e.name, e.start_date, e.end_date, e.min_percentage, e.grace_days
          FROM events e
          JOIN event_members em ON em.event_id = e.event_id
         WHERE em.user_id = $1
         ORDER BY e.start_date`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		if err := rows.Scan(&event.ID, &event.Name, &event.StartDate, &event.EndDate, &event.MinPercentage, &event.GraceDays); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEventRules returns the event's rules in their configured order.
func (r *Repository) GetEventRules(ctx context.Context, eventID string) ([]domain.EventRule, error) {
	const query = `SELECT rule_type, config FROM event_rules WHERE event_id=$1 ORDER BY position, rule_id`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eventRules []domain.EventRule
	for rows.Next() {
		var ruleType string
		var config []byte
		if err := rows.Scan(&ruleType, &config); err != nil {
			return nil, err
		}
		rule := domain.EventRule{Type: domain.RuleType(ruleType)}
		if err := json.Unmarshal(config, &rule.Config); err != nil {
			return nil, fmt.Errorf("decode rule config for %s: %w", ruleType, err)
		}
		eventRules = append(eventRules, rule)
	}
	return eventRules, rows.Err()
}

// GetDayHistory summarises logged distance around one calendar day for the
// history-dependent rules. Team figures span every member of the event.
func (r *Repository) GetDayHistory(ctx context.Context, eventID, userID string, day time.Time) (domain.DayHistory, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	prevStart := dayStart.AddDate(0, 0, -1)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var history domain.DayHistory

	const userQuery = `SELECT COALESCE(SUM(distance_meters),0)/1000
          FROM activities
         WHERE user_id=$1 AND started_at_local >= $2 AND started_at_local < $3`

	if err := r.pool.QueryRow(ctx, userQuery, userID, prevStart, dayStart).Scan(&history.PrevDayUserKm); err != nil {
		return history, err
	}

	const teamQuery = `SELECT COALESCE(SUM(a.distance_meters),0)/1000
          FROM activities a
          JOIN event_members em ON em.user_id = a.user_id AND em.event_id = $1
         WHERE a.started_at_local >= $2 AND a.started_at_local < $3`

	if err := r.pool.QueryRow(ctx, teamQuery, eventID, prevStart, dayStart).Scan(&history.PrevDayTeamKm); err != nil {
		return history, err
	}
	if err := r.pool.QueryRow(ctx, teamQuery, eventID, dayStart, dayEnd).Scan(&history.TodayTeamKm); err != nil {
		return history, err
	}

	const participantsQuery = `SELECT COUNT(DISTINCT user_id)
          FROM scored_activities
         WHERE event_id=$1 AND activity_date=$2 AND NOT blocked`

	if err := r.pool.QueryRow(ctx, participantsQuery, eventID, dayStart).Scan(&history.DayParticipants); err != nil {
		return history, err
	}

	return history, nil
}

// GetEvent returns one event, or nil when it does not exist.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	const query = `SELECT event_id, name, start_date, end_date, min_percentage, grace_days
          FROM events WHERE event_id=$1`

	var event domain.Event
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&event.ID, &event.Name, &event.StartDate, &event.EndDate, &event.MinPercentage, &event.GraceDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetStandings counts distinct non-blocked scored days per user for an event.
func (r *Repository) GetStandings(ctx context.Context, eventID string) ([]domain.Standing, error) {
	const query = `SELECT user_id, COUNT(DISTINCT activity_date)
          FROM scored_activities
         WHERE event_id=$1 AND NOT blocked
         GROUP BY user_id`

	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []domain.Standing
	for rows.Next() {
		var standing domain.Standing
		if err := rows.Scan(&standing.UserID, &standing.ActiveDays); err != nil {
			return nil, err
		}
		standings = append(standings, standing)
	}
	return standings, rows.Err()
}

// ListScoredByUser pages through a user's scored rows, newest day first.
func (r *Repository) ListScoredByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ScoredActivity, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT user_id, event_id, activity_date, activity_id, base_points, final_points,
                 applied_bonus, applied_multiplier, rejected_bonuses, blocked, blocked_rule, blocked_reason
          FROM scored_activities
         WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (activity_date, event_id) < ($3, $4)`
		args = append(args, cursor.ActivityDate, cursor.EventID)
	}

	query += ` ORDER BY activity_date DESC, event_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ScoredActivity, 0, limit)
	for rows.Next() {
		scored, scanErr := scanScored(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		results = append(results, scored)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{ActivityDate: last.ActivityDate, EventID: last.EventID}
	}

	return results, nextCursor, nil
}

// GetCredential loads a user's OAuth material.
func (r *Repository) GetCredential(ctx context.Context, userID string) (*domain.AccessCredential, error) {
	const query = `SELECT user_id, access_token, refresh_token, expires_at FROM credentials WHERE user_id=$1`

	var cred domain.AccessCredential
	err := r.pool.QueryRow(ctx, query, userID).Scan(&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCredentialNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// SaveRefreshed persists freshly rotated OAuth material.
func (r *Repository) SaveRefreshed(ctx context.Context, cred domain.AccessCredential) error {
	const stmt = `INSERT INTO credentials (user_id, access_token, refresh_token, expires_at, updated_at)
        VALUES ($1,$2,$3,$4,NOW())
        ON CONFLICT (user_id) DO UPDATE
           SET access_token = EXCLUDED.access_token,
               refresh_token = EXCLUDED.refresh_token,
               expires_at = EXCLUDED.expires_at,
               updated_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, cred.UserID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt)
	return err
}

// ListUserIDs returns every user with stored credentials, the population the
// periodic sync walks.
func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM credentials ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordWebhookEvent logs one provider notification and its processing
// outcome. Failed events stay unprocessed for the re-driver.
func (r *Repository) RecordWebhookEvent(ctx context.Context, event domain.WebhookEvent, processErr error) error {
	const stmt = `INSERT INTO webhook_events (event_id, kind, activity_id, owner_id, event_time, processed, last_error, last_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
        ON CONFLICT (event_id) DO UPDATE
           SET processed = EXCLUDED.processed,
               last_error = EXCLUDED.last_error,
               last_attempt_at = NOW()`

	var lastError interface{}
	if processErr != nil {
		lastError = processErr.Error()
	}

	_, err := r.pool.Exec(ctx, stmt,
		event.ID, event.Kind, event.ActivityID, event.OwnerID, event.EventTime,
		processErr == nil, lastError)
	return err
}

// RecordSyncCompletion queues a sync.completed outbox event for one finished
// user sync.
func (r *Repository) RecordSyncCompletion(ctx context.Context, userID string, synced, skipped, errCount int, watermark time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	payload := syncCompletedEvent{
		UserID:    userID,
		Synced:    synced,
		Skipped:   skipped,
		Errors:    errCount,
		Watermark: watermark.UTC().Format(time.RFC3339),
		Version:   eventVersion,
	}
	if err = insertOutbox(ctx, tx, outbox.EventTypeSyncCompleted, userID,
		fmt.Sprintf("%s:%d", userID, watermark.Unix()), payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const eventVersion = "1"

type scoreUpdatedEvent struct {
	UserID       string  `json:"user_id"`
	EventID      string  `json:"event_id"`
	ActivityID   int64   `json:"activity_id"`
	ActivityDate string  `json:"activity_date"`
	BasePoints   float64 `json:"base_points"`
	FinalPoints  float64 `json:"final_points"`
	Blocked      bool    `json:"blocked"`
	AppliedBonus *string `json:"applied_bonus,omitempty"`
	Version      string  `json:"version"`
}

type syncCompletedEvent struct {
	UserID    string `json:"user_id"`
	Synced    int    `json:"synced"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	Watermark string `json:"watermark"`
	Version   string `json:"version"`
}

type rejectedBonus struct {
	Rule       string  `json:"rule"`
	Multiplier float64 `json:"multiplier"`
}

func rejectedPayload(rejected []domain.BonusApplication) []rejectedBonus {
	out := make([]rejectedBonus, 0, len(rejected))
	for _, bonus := range rejected {
		out = append(out, rejectedBonus{Rule: string(bonus.Rule), Multiplier: bonus.Multiplier})
	}
	return out
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType, partitionKey, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6)`

	_, err = tx.Exec(ctx, stmt, eventType, meta.Topic, meta.SchemaSubject, partitionKey, body, dedupeKey)
	return err
}

func scanScored(rows pgx.Rows) (domain.ScoredActivity, error) {
	var scored domain.ScoredActivity
	var appliedBonus, blockedRule, blockedReason *string
	var appliedMultiplier *float64
	var rejected []byte

	if err := rows.Scan(
		&scored.UserID, &scored.EventID, &scored.ActivityDate, &scored.ActivityID,
		&scored.BasePoints, &scored.FinalPoints, &appliedBonus, &appliedMultiplier,
		&rejected, &scored.Blocked, &blockedRule, &blockedReason,
	); err != nil {
		return scored, err
	}

	if appliedBonus != nil {
		multiplier := 1.0
		if appliedMultiplier != nil {
			multiplier = *appliedMultiplier
		}
		scored.AppliedBonus = &domain.BonusApplication{Rule: domain.RuleType(*appliedBonus), Multiplier: multiplier}
	}
	if blockedRule != nil {
		scored.BlockedRule = domain.RuleType(*blockedRule)
	}
	if blockedReason != nil {
		scored.BlockedReason = *blockedReason
	}

	var rejectedList []rejectedBonus
	if len(rejected) > 0 {
		if err := json.Unmarshal(rejected, &rejectedList); err != nil {
			return scored, err
		}
	}
	for _, bonus := range rejectedList {
		scored.RejectedBonus = append(scored.RejectedBonus, domain.BonusApplication{
			Rule:       domain.RuleType(bonus.Rule),
			Multiplier: bonus.Multiplier,
		})
	}

	return scored, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	outbox.EventTypeScoreUpdated: {
		Topic:         "score_events",
		SchemaSubject: "score_events-value",
	},
	outbox.EventTypeSyncCompleted: {
		Topic:         "sync_events",
		SchemaSubject: "sync_events-value",
	},
}
