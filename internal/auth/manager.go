// Package auth owns the access/refresh token pair and the single-flight
// refresh protocol. Tokens are opaque bearer strings and are never parsed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/finly-app/client-go/internal/apierrors"
)

// Persistent store keys for the token pair.
const (
	accessTokenKey  = "auth.access_token"
	refreshTokenKey = "auth.refresh_token"
)

// TokenPair holds the bearer tokens for the current session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Store is the slice of the persistent key-value store the manager needs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	DeleteMany(ctx context.Context, keys []string) error
}

// RefreshFunc exchanges a refresh token for a new pair. It is injected by
// the client so this package stays independent of the HTTP pipeline.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// Manager mediates all access to the session tokens. It keeps an in-memory
// mirror of the persisted pair and guarantees that concurrent refresh
// attempts collapse into a single backend call.
type Manager struct {
	store   Store
	refresh RefreshFunc
	logger  zerolog.Logger

	sf singleflight.Group

	mu      sync.RWMutex
	current TokenPair
	loaded  bool
	subs    []chan Event
}

// NewManager creates a Manager over the given store and refresh call.
func NewManager(store Store, refresh RefreshFunc) *Manager {
	return &Manager{
		store:   store,
		refresh: refresh,
		logger:  log.Logger,
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.logger = logger
}

// AccessToken returns the current access token, if any.
func (m *Manager) AccessToken(ctx context.Context) (string, bool) {
	pair := m.tokens(ctx)
	return pair.AccessToken, pair.AccessToken != ""
}

// AttachAuth sets the Authorization header when an access token exists.
// Requests without a token are left unauthenticated: some endpoints are
// public.
func (m *Manager) AttachAuth(ctx context.Context, req *http.Request) {
	if token, ok := m.AccessToken(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// SetTokens persists a new pair and publishes TokensRefreshed. Called on
// login, signup and refresh success. The refresh token is written first: a
// partial failure must never leave an access token that cannot be
// refreshed.
func (m *Manager) SetTokens(ctx context.Context, pair TokenPair) error {
	if err := m.store.Set(ctx, refreshTokenKey, pair.RefreshToken); err != nil {
		return fmt.Errorf("persisting refresh token: %w", err)
	}
	if err := m.store.Set(ctx, accessTokenKey, pair.AccessToken); err != nil {
		return fmt.Errorf("persisting access token: %w", err)
	}

	m.mu.Lock()
	m.current = pair
	m.loaded = true
	m.mu.Unlock()

	m.publish(TokensRefreshed)
	return nil
}

// ClearTokens removes the session from the store and the mirror. Called on
// logout and on irrecoverable refresh failure.
func (m *Manager) ClearTokens(ctx context.Context) error {
	m.mu.Lock()
	m.current = TokenPair{}
	m.loaded = true
	m.mu.Unlock()

	if err := m.store.DeleteMany(ctx, []string{accessTokenKey, refreshTokenKey}); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent
// callers share a single in-flight exchange: the first caller issues the
// backend call and every other caller awaits the same result. Failure
// wipes the session and publishes SessionExpired, since a session nobody
// can refresh must not keep serving requests.
func (m *Manager) Refresh(ctx context.Context) (TokenPair, error) {
	v, err, shared := m.sf.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if shared {
		m.logger.Debug().Msg("token refresh shared with concurrent caller")
	}
	if err != nil {
		return TokenPair{}, err
	}
	return v.(TokenPair), nil
}

func (m *Manager) doRefresh(ctx context.Context) (TokenPair, error) {
	// The exchange outlives the first caller: followers sharing this
	// flight must not be failed by the leader's cancellation.
	ctx = context.WithoutCancel(ctx)

	current := m.tokens(ctx)
	if current.RefreshToken == "" {
		if current.AccessToken == "" {
			return TokenPair{}, apierrors.ErrNoSession
		}
		// An access token without a refresh token is a broken session
		// that can only keep producing 401s.
		m.logger.Warn().Msg("access token present without refresh token, clearing session")
		if cerr := m.ClearTokens(ctx); cerr != nil {
			m.logger.Error().Err(cerr).Msg("failed to clear broken session")
		}
		m.publish(SessionExpired)
		return TokenPair{}, errors.Join(apierrors.ErrSessionExpired, apierrors.ErrNoSession)
	}

	pair, err := m.refresh(ctx, current.RefreshToken)
	if err != nil {
		m.logger.Warn().Err(err).Msg("token refresh failed, clearing session")
		if cerr := m.ClearTokens(ctx); cerr != nil {
			m.logger.Error().Err(cerr).Msg("failed to clear tokens after refresh failure")
		}
		m.publish(SessionExpired)
		return TokenPair{}, errors.Join(apierrors.ErrSessionExpired, err)
	}

	if err := m.SetTokens(ctx, pair); err != nil {
		return TokenPair{}, err
	}

	m.logger.Info().Msg("session tokens refreshed")
	return pair, nil
}

// tokens returns the mirrored pair, lazily loading from the store on first
// use. Store read failures are logged and treated as an absent session.
func (m *Manager) tokens(ctx context.Context) TokenPair {
	m.mu.RLock()
	if m.loaded {
		pair := m.current
		m.mu.RUnlock()
		return pair
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.current
	}

	var pair TokenPair
	if v, ok, err := m.store.Get(ctx, accessTokenKey); err != nil {
		m.logger.Warn().Err(err).Msg("reading access token from store")
	} else if ok {
		pair.AccessToken = v
	}
	if v, ok, err := m.store.Get(ctx, refreshTokenKey); err != nil {
		m.logger.Warn().Err(err).Msg("reading refresh token from store")
	} else if ok {
		pair.RefreshToken = v
	}

	m.current = pair
	m.loaded = true
	return pair
}
