package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strideleague/pointsd/internal/domain"
)

type stubCredStore struct {
	cred  *domain.AccessCredential
	err   error
	saved []domain.AccessCredential
}

func (s *stubCredStore) GetCredential(context.Context, string) (*domain.AccessCredential, error) {
	return s.cred, s.err
}

func (s *stubCredStore) SaveRefreshed(_ context.Context, cred domain.AccessCredential) error {
	s.saved = append(s.saved, cred)
	return nil
}

func TestGetValidTokenReturnsStoredTokenWhenFresh(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := &stubCredStore{cred: &domain.AccessCredential{
		UserID:      "user-1",
		AccessToken: "stored-token",
		ExpiresAt:   now.Add(time.Hour),
	}}

	m := NewManager(store, Config{}, WithClock(func() time.Time { return now }))

	tok, err := m.GetValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "stored-token", tok.AccessToken)
	require.False(t, tok.Refreshed)
	require.Empty(t, store.saved)
}

func TestGetValidTokenRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))
		require.Equal(t, "old-refresh", r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-token","refresh_token":"new-refresh","token_type":"Bearer","expires_in":21600}`))
	}))
	defer srv.Close()

	store := &stubCredStore{cred: &domain.AccessCredential{
		UserID:       "user-1",
		AccessToken:  "stale-token",
		RefreshToken: "old-refresh",
		ExpiresAt:    now.Add(2 * time.Minute),
	}}

	m := NewManager(store, Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL},
		WithClock(func() time.Time { return now }))

	tok, err := m.GetValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "new-token", tok.AccessToken)
	require.True(t, tok.Refreshed)

	require.Len(t, store.saved, 1)
	require.Equal(t, "new-refresh", store.saved[0].RefreshToken)
	require.False(t, store.saved[0].ExpiresAt.IsZero())
}

func TestGetValidTokenKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-token","token_type":"Bearer","expires_in":21600}`))
	}))
	defer srv.Close()

	store := &stubCredStore{cred: &domain.AccessCredential{
		UserID:       "user-1",
		RefreshToken: "old-refresh",
		ExpiresAt:    now.Add(-time.Minute),
	}}

	m := NewManager(store, Config{TokenURL: srv.URL}, WithClock(func() time.Time { return now }))

	_, err := m.GetValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	require.Equal(t, "old-refresh", store.saved[0].RefreshToken)
}

func TestGetValidTokenCredentialNotFound(t *testing.T) {
	m := NewManager(&stubCredStore{}, Config{})

	_, err := m.GetValidToken(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestGetValidTokenRefreshFailure(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	store := &stubCredStore{cred: &domain.AccessCredential{
		UserID:       "user-1",
		RefreshToken: "revoked",
		ExpiresAt:    now,
	}}

	m := NewManager(store, Config{TokenURL: srv.URL}, WithClock(func() time.Time { return now }))

	_, err := m.GetValidToken(context.Background(), "user-1")
	require.ErrorIs(t, err, domain.ErrRefreshFailed)
	require.Empty(t, store.saved)
}
