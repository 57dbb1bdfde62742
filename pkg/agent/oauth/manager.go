package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshMargin is how long before expiry a token is refreshed.
const DefaultRefreshMargin = time.Minute

// Manager owns the in-memory token for one provider and keeps it valid:
// load from the store, refresh near expiry, and fall back to the
// interactive flow when no token exists or a refresh is rejected. All
// operations are single-flight; concurrent callers wait on the one
// in-flight authorization or refresh instead of duplicating it.
type Manager struct {
	store  Store
	auth   Authorizer
	margin time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	token *Token
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRefreshMargin sets the safety margin before expiry (1–5 minutes
// depending on provider).
func WithRefreshMargin(margin time.Duration) ManagerOption {
	return func(m *Manager) { m.margin = margin }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a token lifecycle manager for the authorizer's
// provider, backed by the given store.
func NewManager(store Store, auth Authorizer, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		auth:   auth,
		margin: DefaultRefreshMargin,
		logger: slog.Default().With("component", "oauth-manager", "provider", auth.Provider()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Provider returns the managed provider identifier.
func (m *Manager) Provider() string { return m.auth.Provider() }

// EnsureValid returns a usable access token, authorizing or refreshing
// first if needed. Refresh failures are recovered locally by discarding
// the stored record and re-running the interactive flow; callers never
// see a *RefreshError.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		stored, err := m.store.GetToken(ctx, m.auth.Provider())
		if err != nil {
			return "", fmt.Errorf("loading stored token: %w", err)
		}
		m.token = stored
	}

	if m.token == nil {
		if err := m.authorizeLocked(ctx); err != nil {
			return "", err
		}
		return m.token.AccessToken, nil
	}

	if m.token.Expired(m.margin) {
		if err := m.refreshLocked(ctx); err != nil {
			return "", err
		}
	}

	return m.token.AccessToken, nil
}

// ForceRefresh discards the cached access token validity and refreshes
// immediately. The chat transport uses it after an HTTP 401.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		stored, err := m.store.GetToken(ctx, m.auth.Provider())
		if err != nil {
			return "", fmt.Errorf("loading stored token: %w", err)
		}
		m.token = stored
	}
	if m.token == nil {
		if err := m.authorizeLocked(ctx); err != nil {
			return "", err
		}
		return m.token.AccessToken, nil
	}

	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}
	return m.token.AccessToken, nil
}

// Clear forgets the in-memory and stored token, forcing a full
// re-authorization on the next call.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
	return m.store.DeleteToken(ctx, m.auth.Provider())
}

// refreshLocked runs the refresh sub-protocol. A rejected or failed
// refresh deletes the stored record and falls back to the interactive
// flow; the rejected refresh token is never retried.
func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.token.RefreshToken == "" {
		m.logger.Warn("no refresh token, re-authorizing")
		return m.reauthorizeLocked(ctx)
	}

	token, err := m.auth.Refresh(ctx, m.token.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed, re-authorizing", "error", err)
		return m.reauthorizeLocked(ctx)
	}

	m.token = token
	if err := m.store.SaveToken(ctx, token); err != nil {
		return fmt.Errorf("persisting refreshed token: %w", err)
	}
	m.logger.Debug("token refreshed", "expires_at", token.ExpiresAt)
	return nil
}

// reauthorizeLocked deletes the stored record and runs the interactive
// flow from scratch.
func (m *Manager) reauthorizeLocked(ctx context.Context) error {
	m.token = nil
	if err := m.store.DeleteToken(ctx, m.auth.Provider()); err != nil {
		return fmt.Errorf("deleting stale token: %w", err)
	}
	return m.authorizeLocked(ctx)
}

func (m *Manager) authorizeLocked(ctx context.Context) error {
	token, err := m.auth.Authorize(ctx)
	if err != nil {
		return err
	}
	m.token = token
	if err := m.store.SaveToken(ctx, token); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}
	m.logger.Info("authorization complete", "expires_at", token.ExpiresAt)
	return nil
}
