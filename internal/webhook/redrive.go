package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strideleague/pointsd/internal/domain"
)

// Redriver retries webhook events whose initial sync failed and quarantines
// entries that keep failing.
type Redriver struct {
	pool       *pgxpool.Pool
	engine     Syncer
	maxRetries int
	baseDelay  time.Duration
}

// NewRedriver constructs a Redriver with the provided pool and retry
// configuration.
func NewRedriver(pool *pgxpool.Pool, engine Syncer, maxRetries int, baseDelay time.Duration) *Redriver {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &Redriver{pool: pool, engine: engine, maxRetries: maxRetries, baseDelay: baseDelay}
}

type redriveEntry struct {
	ID         string
	Kind       string
	ActivityID int64
	OwnerID    string
	RetryCount int
}

// RunOnce processes a batch of unprocessed webhook events and returns the
// count of successfully re-driven entries.
func (r *Redriver) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const query = `SELECT event_id, kind, activity_id, owner_id, retry_count
                     FROM webhook_events
                    WHERE processed = FALSE
                      AND quarantined_at IS NULL
                      AND (next_retry_at IS NULL OR next_retry_at <= NOW())
                    ORDER BY received_at
                    LIMIT $1`

	rows, err := r.pool.Query(ctx, query, batchSize)
	if err != nil {
		return 0, err
	}

	entries, scanErr := scanEntries(rows)
	if scanErr != nil {
		return 0, scanErr
	}

	processed := 0
	var errs error
	for _, entry := range entries {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if procErr := r.handleEntry(ctx, entry); procErr != nil {
			errs = errors.Join(errs, procErr)
		} else {
			processed++
		}
	}
	return processed, errs
}

func scanEntries(rows pgx.Rows) ([]redriveEntry, error) {
	defer rows.Close()

	var entries []redriveEntry
	for rows.Next() {
		var entry redriveEntry
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.ActivityID, &entry.OwnerID, &entry.RetryCount); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// handleEntry applies retry/quarantine logic for a single failed event.
func (r *Redriver) handleEntry(ctx context.Context, entry redriveEntry) error {
	if entry.RetryCount >= r.maxRetries {
		_, err := r.pool.Exec(ctx,
			`UPDATE webhook_events
                SET quarantined_at = NOW(), last_error = $1
              WHERE event_id = $2`,
			"retry limit reached", entry.ID)
		if err == nil {
			recordQuarantined(entry.Kind)
		}
		return err
	}

	syncErr := r.redrive(ctx, entry)
	if syncErr != nil {
		delay := r.backoffDelay(entry.RetryCount + 1)
		_, err := r.pool.Exec(ctx,
			`UPDATE webhook_events
                SET retry_count = retry_count + 1,
                    last_attempt_at = NOW(),
                    next_retry_at = NOW() + $1::interval,
                    last_error = $2
              WHERE event_id = $3`,
			delay, syncErr.Error(), entry.ID)
		return err
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_events
            SET processed = TRUE, last_attempt_at = NOW(), last_error = NULL
          WHERE event_id = $1`,
		entry.ID)
	if err == nil {
		recordRedriven(entry.Kind)
	}
	return err
}

func (r *Redriver) redrive(ctx context.Context, entry redriveEntry) error {
	var err error
	switch entry.Kind {
	case domain.WebhookCreate:
		err = r.engine.SyncSingle(ctx, entry.OwnerID, entry.ActivityID, false)
	case domain.WebhookUpdate:
		err = r.engine.SyncSingle(ctx, entry.OwnerID, entry.ActivityID, true)
	case domain.WebhookDelete:
		err = r.engine.DeleteActivity(ctx, entry.ActivityID)
	}
	if errors.Is(err, domain.ErrUnsupportedSport) {
		return nil
	}
	return err
}

// backoffDelay calculates exponential backoff capped at one hour.
func (r *Redriver) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * r.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
