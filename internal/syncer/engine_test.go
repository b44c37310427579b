package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strideleague/pointsd/internal/cache"
	"github.com/strideleague/pointsd/internal/domain"
	"github.com/strideleague/pointsd/internal/provider"
	"github.com/strideleague/pointsd/internal/scheduler"
)

type fakeFetcher struct {
	mu        sync.Mutex
	listings  map[int][]provider.ActivitySummary
	details   map[int64]string
	detailErr map[int64]error
	listErr   error
	requests  []scheduler.Request
}

func (f *fakeFetcher) Do(_ context.Context, req *scheduler.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)

	switch req.Kind {
	case scheduler.KindFetchAthlete:
		if f.listErr != nil {
			return nil, f.listErr
		}
		return json.Marshal(f.listings[req.Page])
	case scheduler.KindFetchActivity:
		if err, ok := f.detailErr[req.ActivityID]; ok {
			return nil, err
		}
		if payload, ok := f.details[req.ActivityID]; ok {
			return []byte(payload), nil
		}
		return nil, &domain.UpstreamError{Status: 404, Body: "not found"}
	}
	return nil, fmt.Errorf("unexpected kind %s", req.Kind)
}

func (f *fakeFetcher) kindCount(kind scheduler.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.Kind == kind {
			n++
		}
	}
	return n
}

type memStore struct {
	mu         sync.Mutex
	activities map[int64]domain.NormalizedActivity
	efforts    map[string]domain.BestEffort
	scored     map[string]domain.ScoredActivity
	watermarks map[string]time.Time
	events     map[string][]domain.Event
	rules      map[string][]domain.EventRule
}

func newMemStore() *memStore {
	return &memStore{
		activities: make(map[int64]domain.NormalizedActivity),
		efforts:    make(map[string]domain.BestEffort),
		scored:     make(map[string]domain.ScoredActivity),
		watermarks: make(map[string]time.Time),
		events:     make(map[string][]domain.Event),
		rules:      make(map[string][]domain.EventRule),
	}
}

func scoredKey(userID, eventID string, day time.Time) string {
	return fmt.Sprintf("%s|%s|%s", userID, eventID, day.Format("2006-01-02"))
}

func (s *memStore) UpsertActivity(_ context.Context, activity domain.NormalizedActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.ID] = activity
	return nil
}

func (s *memStore) UpsertBestEffort(_ context.Context, effort domain.BestEffort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := effort.UserID + "|" + effort.Name
	if existing, ok := s.efforts[key]; ok && existing.ElapsedSeconds <= effort.ElapsedSeconds {
		return nil
	}
	s.efforts[key] = effort
	return nil
}

func (s *memStore) DeleteBestEffort(_ context.Context, userID, effortName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.efforts, userID+"|"+effortName)
	return nil
}

func (s *memStore) DeleteBestEffortsByActivity(_ context.Context, activityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, effort := range s.efforts {
		if effort.ActivityID == activityID {
			delete(s.efforts, key)
		}
	}
	return nil
}

func (s *memStore) UpsertScoredActivity(_ context.Context, scored domain.ScoredActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scored[scoredKey(scored.UserID, scored.EventID, scored.ActivityDate)] = scored
	return nil
}

func (s *memStore) DeleteScoredByActivity(_ context.Context, activityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, scored := range s.scored {
		if scored.ActivityID == activityID {
			delete(s.scored, key)
		}
	}
	return nil
}

func (s *memStore) GetWatermark(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[userID]
	return wm, ok, nil
}

func (s *memStore) SetWatermark(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[userID] = at
	return nil
}

func (s *memStore) GetEventsForUser(_ context.Context, userID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[userID], nil
}

func (s *memStore) GetEventRules(_ context.Context, eventID string) ([]domain.EventRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[eventID], nil
}

func (s *memStore) GetDayHistory(context.Context, string, string, time.Time) (domain.DayHistory, error) {
	return domain.DayHistory{}, nil
}

func (s *memStore) GetEvent(_ context.Context, eventID string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, events := range s.events {
		for _, event := range events {
			if event.ID == eventID {
				return &event, nil
			}
		}
	}
	return nil, nil
}

func (s *memStore) GetStandings(context.Context, string) ([]domain.Standing, error) {
	return nil, nil
}

func (s *memStore) ListScoredByUser(context.Context, string, *domain.Cursor, int) ([]domain.ScoredActivity, *domain.Cursor, error) {
	return nil, nil, nil
}

func detailJSON(id int64, sport string, meters float64, startLocal string) string {
	return fmt.Sprintf(`{"id":%d,"sport_type":%q,"distance":%v,"moving_time":%v,"start_date_local":%q,"best_efforts":[{"name":"5k","elapsed_time":1400}]}`,
		id, sport, meters, int(meters*0.36), startLocal)
}

func testEngine(fetcher *fakeFetcher, store *memStore, now time.Time) (*Engine, *cache.Memory) {
	responseCache := cache.NewMemory(24 * time.Hour)
	engine := New(fetcher, responseCache, store, 5, 2, WithClock(func() time.Time { return now }))
	return engine, responseCache
}

func TestSyncUserFirstRun(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{
		listings: map[int][]provider.ActivitySummary{
			1: {
				{ID: 1, SportType: "Run", StartDateLocal: start},
				{ID: 2, SportType: "Ride", StartDateLocal: start},
			},
			2: {
				{ID: 3, SportType: "Run", StartDateLocal: start.Add(time.Hour)},
			},
		},
		details: map[int64]string{
			1: detailJSON(1, "Run", 5000, "2026-03-02T07:00:00Z"),
			3: detailJSON(3, "Run", 8000, "2026-03-02T08:00:00Z"),
		},
	}
	store := newMemStore()
	store.events["user-1"] = []domain.Event{{
		ID:        "event-1",
		StartDate: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
	}}

	engine, _ := testEngine(fetcher, store, now)

	res, err := engine.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, Result{Synced: 2, Skipped: 1}, res)

	require.Len(t, store.activities, 2)
	require.Equal(t, now, store.watermarks["user-1"])

	// Both runs landed on the same day, so the later one owns the scored row.
	require.Len(t, store.scored, 1)
	row := store.scored[scoredKey("user-1", "event-1", time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC))]
	require.Equal(t, int64(3), row.ActivityID)
	require.InDelta(t, 8.0, row.FinalPoints, 1e-9)
}

func TestSyncUserSecondRunWithNoNewDataIsIdempotent(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{listings: map[int][]provider.ActivitySummary{}}
	store := newMemStore()
	store.watermarks["user-1"] = now.Add(-time.Hour)

	engine, _ := testEngine(fetcher, store, now)

	res, err := engine.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Zero(t, res.Synced)
	require.Zero(t, res.Errors)

	// The empty window still advances the watermark.
	require.Equal(t, now, store.watermarks["user-1"])

	// The listing request used the stored watermark as its lower bound.
	require.Equal(t, now.Add(-time.Hour), fetcher.requests[0].After)
}

func TestSyncUserDetailFailureDoesNotAdvanceWatermark(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{
		listings: map[int][]provider.ActivitySummary{
			1: {
				{ID: 1, SportType: "Run", StartDateLocal: start},
				{ID: 2, SportType: "Run", StartDateLocal: start},
			},
		},
		details: map[int64]string{
			2: detailJSON(2, "Run", 5000, "2026-03-02T07:00:00Z"),
		},
		detailErr: map[int64]error{
			1: &domain.UpstreamError{Status: 500, Body: "boom"},
		},
	}
	store := newMemStore()

	engine, _ := testEngine(fetcher, store, now)

	res, err := engine.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Errors)
	require.Equal(t, 1, res.Synced)

	_, found, _ := store.GetWatermark(context.Background(), "user-1")
	require.False(t, found, "a dirty run must not advance the watermark")
}

type flakyStore struct {
	*memStore
	scoredErr error
	effortErr error
}

func (s *flakyStore) UpsertScoredActivity(ctx context.Context, scored domain.ScoredActivity) error {
	if s.scoredErr != nil {
		return s.scoredErr
	}
	return s.memStore.UpsertScoredActivity(ctx, scored)
}

func (s *flakyStore) UpsertBestEffort(ctx context.Context, effort domain.BestEffort) error {
	if s.effortErr != nil {
		return s.effortErr
	}
	return s.memStore.UpsertBestEffort(ctx, effort)
}

func TestSyncUserScoredWriteFailureHoldsWatermark(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{
		listings: map[int][]provider.ActivitySummary{
			1: {{ID: 1, SportType: "Run", StartDateLocal: start}},
		},
		details: map[int64]string{
			1: detailJSON(1, "Run", 5000, "2026-03-02T07:00:00Z"),
		},
	}
	store := newMemStore()
	store.events["user-1"] = []domain.Event{{
		ID:        "event-1",
		StartDate: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
	}}
	flaky := &flakyStore{memStore: store, scoredErr: fmt.Errorf("scored write refused")}

	responseCache := cache.NewMemory(24 * time.Hour)
	engine := New(fetcher, responseCache, flaky, 5, 2, WithClock(func() time.Time { return now }))

	res, err := engine.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Errors)
	require.Zero(t, res.Synced)

	// The activity row itself survives, but the lost score keeps the run
	// dirty so the next sync re-covers the same window.
	require.Len(t, store.activities, 1)
	_, found, _ := store.GetWatermark(context.Background(), "user-1")
	require.False(t, found, "a lost scored row must not advance the watermark")
}

func TestSyncUserBestEffortWriteFailureCounts(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{
		listings: map[int][]provider.ActivitySummary{
			1: {{ID: 1, SportType: "Run", StartDateLocal: start}},
		},
		details: map[int64]string{
			1: detailJSON(1, "Run", 5000, "2026-03-02T07:00:00Z"),
		},
	}
	store := newMemStore()
	flaky := &flakyStore{memStore: store, effortErr: fmt.Errorf("effort write refused")}

	responseCache := cache.NewMemory(24 * time.Hour)
	engine := New(fetcher, responseCache, flaky, 5, 2, WithClock(func() time.Time { return now }))

	res, err := engine.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Errors)

	_, found, _ := store.GetWatermark(context.Background(), "user-1")
	require.False(t, found)
}

func TestSyncUserCredentialFailurePropagates(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{listErr: domain.ErrRefreshFailed}
	store := newMemStore()

	engine, _ := testEngine(fetcher, store, now)

	_, err := engine.SyncUser(context.Background(), "user-1")
	require.ErrorIs(t, err, domain.ErrRefreshFailed)
}

func TestSyncUserServesDetailFromCache(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{
		listings: map[int][]provider.ActivitySummary{
			1: {{ID: 1, SportType: "Run", StartDateLocal: start}},
		},
	}
	store := newMemStore()

	engine, responseCache := testEngine(fetcher, store, now)
	responseCache.Put(context.Background(), 1, []byte(detailJSON(1, "Run", 5000, "2026-03-02T07:00:00Z")))

	res, err := engine.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Synced)
	require.Zero(t, fetcher.kindCount(scheduler.KindFetchActivity))
}

func TestSyncUserKeepsFastestBestEffort(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	start := time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)

	fetcher := &fakeFetcher{
		listings: map[int][]provider.ActivitySummary{
			1: {{ID: 1, SportType: "Run", StartDateLocal: start}},
		},
		details: map[int64]string{
			1: detailJSON(1, "Run", 5000, "2026-03-02T07:00:00Z"),
		},
	}
	store := newMemStore()
	store.efforts["user-1|5k"] = domain.BestEffort{UserID: "user-1", Name: "5k", ElapsedSeconds: 1200, ActivityID: 99}

	engine, _ := testEngine(fetcher, store, now)

	_, err := engine.SyncUser(context.Background(), "user-1")
	require.NoError(t, err)

	// Stored 1200s beats the new 1400s, so the old record survives.
	require.Equal(t, 1200, store.efforts["user-1|5k"].ElapsedSeconds)
}

func TestSyncSingleSkipsUnsupportedSport(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		details: map[int64]string{
			7: detailJSON(7, "Ride", 20000, "2026-03-02T07:00:00Z"),
		},
	}
	store := newMemStore()

	engine, _ := testEngine(fetcher, store, now)

	err := engine.SyncSingle(context.Background(), "user-1", 7, false)
	require.ErrorIs(t, err, domain.ErrUnsupportedSport)
	require.Empty(t, store.activities)
}

func TestSyncSingleUpdateInvalidatesCache(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		details: map[int64]string{
			7: detailJSON(7, "Run", 10000, "2026-03-02T07:00:00Z"),
		},
	}
	store := newMemStore()
	store.events["user-1"] = []domain.Event{{
		ID:        "event-1",
		StartDate: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
	}}

	engine, responseCache := testEngine(fetcher, store, now)
	responseCache.Put(context.Background(), 7, []byte(detailJSON(7, "Run", 5000, "2026-03-02T07:00:00Z")))

	require.NoError(t, engine.SyncSingle(context.Background(), "user-1", 7, true))

	// The stale cached payload was discarded: the stored record carries the
	// freshly fetched distance.
	require.InDelta(t, 10000.0, store.activities[7].DistanceMeters, 1e-9)
	require.Equal(t, 1, fetcher.kindCount(scheduler.KindFetchActivity))
}

func TestDeleteActivityRemovesDerivedRows(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	store.scored[scoredKey("user-1", "event-1", day)] = domain.ScoredActivity{ActivityID: 7, UserID: "user-1", EventID: "event-1", ActivityDate: day}
	store.efforts["user-1|5k"] = domain.BestEffort{UserID: "user-1", Name: "5k", ActivityID: 7}

	engine, _ := testEngine(&fakeFetcher{}, store, now)

	require.NoError(t, engine.DeleteActivity(context.Background(), 7))
	require.Empty(t, store.scored)
	require.Empty(t, store.efforts)
}
