// Package credentials owns per-user provider tokens and their refresh
// lifecycle.
package credentials

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/strideleague/pointsd/internal/domain"
)

// refreshMargin is how close to expiry a token may get before it is refreshed
// ahead of use.
const refreshMargin = 5 * time.Minute

// Config carries the provider OAuth application settings.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Token is the result of a GetValidToken call. Refreshed lets the scheduler
// charge the refresh round-trip against the rate window.
type Token struct {
	AccessToken string
	Refreshed   bool
}

// Manager resolves a valid access token per user, refreshing through the
// provider token endpoint when the stored one is about to expire.
type Manager struct {
	store  domain.CredentialStore
	conf   *oauth2.Config
	now    func() time.Time
	logger *zap.Logger
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager constructs a Manager.
func NewManager(store domain.CredentialStore, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns a usable access token for the user. A token expiring
// within refreshMargin is refreshed and persisted first. Refresh failures
// come back as domain.ErrRefreshFailed so batch callers can skip the user
// without aborting the run.
func (m *Manager) GetValidToken(ctx context.Context, userID string) (Token, error) {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return Token{}, err
	}
	if cred == nil {
		return Token{}, domain.ErrCredentialNotFound
	}

	if cred.ExpiresAt.Sub(m.now()) >= refreshMargin {
		return Token{AccessToken: cred.AccessToken}, nil
	}

	refreshed, err := m.refresh(ctx, *cred)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: refreshed.AccessToken, Refreshed: true}, nil
}

// Refresh forces a refresh regardless of remaining lifetime. Used by syncd's
// pre-warm pass through the scheduler queue.
func (m *Manager) Refresh(ctx context.Context, userID string) error {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		return domain.ErrCredentialNotFound
	}
	_, err = m.refresh(ctx, *cred)
	return err
}

func (m *Manager) refresh(ctx context.Context, cred domain.AccessCredential) (domain.AccessCredential, error) {
	src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.AccessCredential{}, fmt.Errorf("%w: user %s: %v", domain.ErrRefreshFailed, cred.UserID, err)
	}

	next := domain.AccessCredential{
		UserID:       cred.UserID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// Some providers rotate refresh tokens only occasionally.
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	if err := m.store.SaveRefreshed(ctx, next); err != nil {
		return domain.AccessCredential{}, err
	}

	m.logger.Info("token refreshed",
		zap.String("user_id", cred.UserID),
		zap.Time("expires_at", next.ExpiresAt),
	)
	return next, nil
}
