package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strideleague/pointsd/internal/domain"
	"github.com/strideleague/pointsd/internal/persistence"
)

type stubStore struct {
	event     *domain.Event
	standings []domain.Standing
	scored    []domain.ScoredActivity
	next      *domain.Cursor

	lastCursor *domain.Cursor
	lastLimit  int
}

func (s *stubStore) GetEvent(context.Context, string) (*domain.Event, error) {
	return s.event, nil
}

func (s *stubStore) GetStandings(context.Context, string) ([]domain.Standing, error) {
	return s.standings, nil
}

func (s *stubStore) ListScoredByUser(_ context.Context, _ string, cursor *domain.Cursor, limit int) ([]domain.ScoredActivity, *domain.Cursor, error) {
	s.lastCursor = cursor
	s.lastLimit = limit
	return s.scored, s.next, nil
}

func newTestServer(store Store) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(store).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func TestGetLeaderboard(t *testing.T) {
	store := &stubStore{
		event: &domain.Event{
			ID:            "event-1",
			Name:          "spring league",
			StartDate:     time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
			EndDate:       time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
			MinPercentage: 66.67,
			GraceDays:     0,
		},
		standings: []domain.Standing{
			{UserID: "user-a", ActiveDays: 8},
			{UserID: "user-b", ActiveDays: 4},
		},
	}
	server := newTestServer(store)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/events/event-1/leaderboard")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body LeaderboardResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	require.Equal(t, "event-1", body.EventID)
	require.Len(t, body.Entries, 2)
	require.Equal(t, "user-a", body.Entries[0].UserID)
	require.Equal(t, 1, body.Entries[0].Rank)
	require.True(t, body.Entries[0].IsComplete)
	require.Equal(t, "user-b", body.Entries[1].UserID)
	require.False(t, body.Entries[1].IsComplete)
}

func TestGetLeaderboardUnknownEvent(t *testing.T) {
	server := newTestServer(&stubStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/events/nope/leaderboard")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListScores(t *testing.T) {
	day := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	store := &stubStore{
		scored: []domain.ScoredActivity{{
			ActivityID:   101,
			UserID:       "user-a",
			EventID:      "event-1",
			ActivityDate: day,
			BasePoints:   5,
			FinalPoints:  15,
			AppliedBonus: &domain.BonusApplication{Rule: domain.RuleHolidayBonus, Multiplier: 3},
			RejectedBonus: []domain.BonusApplication{
				{Rule: domain.RuleWeekdayBonus, Multiplier: 2},
			},
		}},
		next: &domain.Cursor{ActivityDate: day, EventID: "event-1"},
	}
	server := newTestServer(store)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/users/user-a/scores?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ListScoresResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	require.Equal(t, 1, store.lastLimit)
	require.Len(t, body.Items, 1)
	require.Equal(t, "2026-03-02", body.Items[0].ActivityDate)
	require.Equal(t, 15.0, body.Items[0].FinalPoints)
	require.NotNil(t, body.Items[0].AppliedBonus)
	require.Equal(t, string(domain.RuleHolidayBonus), body.Items[0].AppliedBonus.Rule)
	require.Len(t, body.Items[0].RejectedBonus, 1)
	require.NotEmpty(t, body.NextCursor)

	// The returned cursor feeds straight back into the next page request.
	decoded, err := persistence.DecodeCursor(body.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "event-1", decoded.EventID)
}

func TestListScoresPassesCursorThrough(t *testing.T) {
	store := &stubStore{}
	server := newTestServer(store)
	defer server.Close()

	token := persistence.EncodeCursor(&domain.Cursor{
		ActivityDate: time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC),
		EventID:      "event-9",
	})

	resp, err := http.Get(server.URL + "/v1/users/user-a/scores?cursor=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotNil(t, store.lastCursor)
	require.Equal(t, "event-9", store.lastCursor.EventID)
}

func TestListScoresRejectsBadCursor(t *testing.T) {
	server := newTestServer(&stubStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/users/user-a/scores?cursor=%21broken")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(&stubStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
