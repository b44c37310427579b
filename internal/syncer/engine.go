// Package syncer walks each user's upstream activity history since a
// persisted watermark and feeds every supported activity through
// normalization, persistence, and scoring.
package syncer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/strideleague/pointsd/internal/cache"
	"github.com/strideleague/pointsd/internal/domain"
	"github.com/strideleague/pointsd/internal/observability"
	"github.com/strideleague/pointsd/internal/provider"
	"github.com/strideleague/pointsd/internal/rules"
	"github.com/strideleague/pointsd/internal/scheduler"
)

// defaultLookback bounds the first-ever sync window for a user with no
// watermark.
const defaultLookback = 30 * 24 * time.Hour

// Fetcher is the slice of the scheduler the engine needs.
type Fetcher interface {
	Do(ctx context.Context, req *scheduler.Request) ([]byte, error)
}

// Result reports what one SyncUser run did. Partial failures surface here as
// counters, never as an error.
type Result struct {
	Synced  int
	Skipped int
	Errors  int
}

// Engine is the incremental sync coordinator. SyncUser calls for different
// users may run concurrently; every upstream request funnels through the one
// shared scheduler, which stays the sole rate-limit authority.
type Engine struct {
	sched    Fetcher
	cache    cache.Cache
	store    domain.Store
	maxPages int
	pageSize int
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New constructs an Engine.
func New(sched Fetcher, responseCache cache.Cache, store domain.Store, maxPages, pageSize int, opts ...Option) *Engine {
	if maxPages <= 0 {
		maxPages = 5
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	e := &Engine{
		sched:    sched,
		cache:    responseCache,
		store:    store,
		maxPages: maxPages,
		pageSize: pageSize,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncUser pages through the user's activity history since the stored
// watermark. Individual activity failures are counted and skipped; the
// watermark only advances after a clean full page set, so a retried run
// re-covers the same window and the idempotent upserts make that safe.
// Credential errors abort the user and propagate so batch callers can skip
// them.
func (e *Engine) SyncUser(ctx context.Context, userID string) (Result, error) {
	var res Result

	since, found, err := e.store.GetWatermark(ctx, userID)
	if err != nil {
		return res, err
	}
	if !found {
		since = e.now().Add(-defaultLookback)
	}

	syncStart := e.now()
	clean := true

	for page := 1; page <= e.maxPages; page++ {
		payload, err := e.sched.Do(ctx, &scheduler.Request{
			Kind:     scheduler.KindFetchAthlete,
			UserID:   userID,
			After:    since,
			Page:     page,
			PerPage:  e.pageSize,
			Priority: scheduler.PriorityHigh,
		})
		if err != nil {
			if errors.Is(err, domain.ErrCredentialNotFound) || errors.Is(err, domain.ErrRefreshFailed) {
				return res, err
			}
			e.logger.Warn("activity listing failed",
				zap.String("user_id", userID), zap.Int("page", page), zap.Error(err))
			res.Errors++
			clean = false
			break
		}

		listing, err := provider.ParseListing(payload)
		if err != nil {
			e.logger.Warn("activity listing undecodable",
				zap.String("user_id", userID), zap.Int("page", page), zap.Error(err))
			res.Errors++
			clean = false
			break
		}
		if len(listing) == 0 {
			break
		}

		for _, summary := range listing {
			if ctx.Err() != nil {
				// Aborting between activities is safe: the watermark has not
				// moved, so the next run re-covers this window.
				return res, ctx.Err()
			}
			e.syncOne(ctx, userID, summary, &res)
		}

		if len(listing) < e.pageSize {
			break
		}
	}

	if clean && res.Errors == 0 {
		if err := e.store.SetWatermark(ctx, userID, syncStart); err != nil {
			e.logger.Error("watermark update failed", zap.String("user_id", userID), zap.Error(err))
			res.Errors++
		} else {
			observability.RecordUserSynced(syncStart)
		}
	}

	recordSyncResult(res)
	return res, nil
}

func (e *Engine) syncOne(ctx context.Context, userID string, summary provider.ActivitySummary, res *Result) {
	if summary.SportType != domain.SportRun {
		res.Skipped++
		return
	}

	activity, err := e.fetchNormalized(ctx, userID, summary.ID, false)
	if err != nil {
		e.logger.Warn("activity sync failed",
			zap.String("user_id", userID), zap.Int64("activity_id", summary.ID), zap.Error(err))
		res.Errors++
		return
	}

	if err := e.persistAndScore(ctx, activity); err != nil {
		e.logger.Warn("activity persistence failed",
			zap.String("user_id", userID), zap.Int64("activity_id", summary.ID), zap.Error(err))
		res.Errors++
		return
	}

	res.Synced++
}

// SyncSingle handles the webhook point-update path for one activity,
// bypassing watermark logic. Unsupported sports return
// domain.ErrUnsupportedSport, which callers treat as a skip.
func (e *Engine) SyncSingle(ctx context.Context, userID string, activityID int64, invalidate bool) error {
	if invalidate {
		e.cache.Invalidate(ctx, activityID)
	}

	activity, err := e.fetchNormalized(ctx, userID, activityID, invalidate)
	if err != nil {
		return err
	}
	if activity.Sport != domain.SportRun {
		return domain.ErrUnsupportedSport
	}
	return e.persistAndScore(ctx, activity)
}

// DeleteActivity removes the scored rows and best-effort rows derived from
// one upstream activity.
func (e *Engine) DeleteActivity(ctx context.Context, activityID int64) error {
	e.cache.Invalidate(ctx, activityID)
	if err := e.store.DeleteScoredByActivity(ctx, activityID); err != nil {
		return err
	}
	return e.store.DeleteBestEffortsByActivity(ctx, activityID)
}

func (e *Engine) fetchNormalized(ctx context.Context, userID string, activityID int64, skipCache bool) (domain.NormalizedActivity, error) {
	var payload []byte
	var ok bool

	if !skipCache {
		payload, ok = e.cache.Get(ctx, activityID)
	}
	if !ok {
		var err error
		payload, err = e.sched.Do(ctx, &scheduler.Request{
			Kind:       scheduler.KindFetchActivity,
			UserID:     userID,
			ActivityID: activityID,
		})
		if err != nil {
			return domain.NormalizedActivity{}, err
		}
		e.cache.Put(ctx, activityID, payload)
	}

	return provider.Normalize(payload, userID)
}

func (e *Engine) persistAndScore(ctx context.Context, activity domain.NormalizedActivity) error {
	if err := e.store.UpsertActivity(ctx, activity); err != nil {
		return err
	}
	observability.RecordActivityPersisted(e.now())

	// A failed derived write does not roll back the activity row, but it
	// still fails the whole step so the run counts it and holds the
	// watermark, leaving the window to be re-covered.
	var firstErr error

	for _, effort := range activity.BestEfforts {
		if err := e.store.UpsertBestEffort(ctx, effort); err != nil {
			e.logger.Warn("best effort write failed",
				zap.Int64("activity_id", activity.ID), zap.String("effort", effort.Name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	events, err := e.store.GetEventsForUser(ctx, activity.UserID)
	if err != nil {
		return err
	}

	for _, event := range events {
		if !event.Contains(activity.StartedAtLocal) {
			continue
		}
		if err := e.scoreForEvent(ctx, activity, event); err != nil {
			e.logger.Warn("scoring failed",
				zap.Int64("activity_id", activity.ID), zap.String("event_id", event.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) scoreForEvent(ctx context.Context, activity domain.NormalizedActivity, event domain.Event) error {
	eventRules, err := e.store.GetEventRules(ctx, event.ID)
	if err != nil {
		return err
	}
	history, err := e.store.GetDayHistory(ctx, event.ID, activity.UserID, activity.Day())
	if err != nil {
		return err
	}

	scored := rules.Score(rules.Input{
		Activity: activity,
		EventID:  event.ID,
		Rules:    eventRules,
		History:  history,
	})

	// One scored row per calendar day per event: a later activity on the
	// same day overwrites the earlier one rather than accumulating.
	return e.store.UpsertScoredActivity(ctx, scored)
}
