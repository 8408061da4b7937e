// Package session owns the access/refresh token pair and the auth state
// derived from it.
//
// The Manager is the only writer of token state. It moves from UNHYDRATED to
// HYDRATED (anonymous or authenticated) on first use, collapses concurrent
// refresh requests into a single network call, and broadcasts transitions to
// any number of subscribers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
)

const tokensKey = "session.tokens"

// ErrNoRefreshToken is returned by Refresh when there is nothing to refresh.
var ErrNoRefreshToken = errors.New("no refresh token")

// State is the hydration/auth state.
type State int

const (
	StateUnhydrated State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unhydrated"
	}
}

// Tokens is the persisted token pair plus the user it was issued for.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId,omitempty"`
}

// Store is the key/value persistence the manager hydrates from.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (Tokens, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Tokens, error)

// RefreshTokens calls f.
func (f RefresherFunc) RefreshTokens(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// Manager holds the session state.
type Manager struct {
	store     Store
	refresher Refresher
	logger    *zap.Logger
	metrics   *metrics.Collector

	mu     sync.RWMutex
	state  State
	tokens Tokens

	hydrateGroup singleflight.Group
	refreshGroup singleflight.Group

	lmu       sync.Mutex
	listeners []subscription
	nextID    int
}

type subscription struct {
	id int
	fn Listener
}

// NewManager creates an unhydrated manager.
func NewManager(store Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// UserID returns the authenticated user, or "".
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated {
		return ""
	}
	return m.tokens.UserID
}

// IsAuthenticated reports whether a token pair is held.
func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateAuthenticated
}

// EnsureHydrated loads tokens from storage once. Concurrent callers share a
// single storage read. A failed read leaves the manager unhydrated so that a
// later call retries.
func (m *Manager) EnsureHydrated(ctx context.Context) error {
	if m.State() != StateUnhydrated {
		return nil
	}

	_, err, _ := m.hydrateGroup.Do("hydrate", func() (any, error) {
		if m.State() != StateUnhydrated {
			return nil, nil
		}

		raw, ok, err := m.store.Get(ctx, tokensKey)
		if err != nil {
			return nil, fmt.Errorf("hydrate session: %w", err)
		}

		var t Tokens
		if ok && len(raw) > 0 {
			if err := json.Unmarshal(raw, &t); err != nil {
				m.logger.Warn("discarding unreadable session tokens", zap.Error(err))
				t = Tokens{}
			}
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state != StateUnhydrated {
			return nil, nil
		}
		m.tokens = t
		if t.AccessToken != "" {
			m.state = StateAuthenticated
		} else {
			m.state = StateAnonymous
		}
		m.logger.Debug("session hydrated", zap.Stringer("state", m.state))
		return nil, nil
	})
	return err
}

// AccessToken returns the current access token ("" when anonymous).
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if err := m.EnsureHydrated(ctx); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.AccessToken, nil
}

// Save persists a token pair after login. Signing in from a signed-out
// state, or as a different user, emits EventLoggedIn; saving again for the
// same user emits EventRefreshed. A pair without a user id is taken to
// belong to the user already signed in.
func (m *Manager) Save(ctx context.Context, t Tokens) error {
	if t.AccessToken == "" {
		return errors.New("save session: empty access token")
	}
	if err := m.EnsureHydrated(ctx); err != nil {
		return err
	}
	if t.UserID == "" {
		m.mu.RLock()
		if m.state == StateAuthenticated {
			t.UserID = m.tokens.UserID
		}
		m.mu.RUnlock()
	}
	if err := m.persist(ctx, t); err != nil {
		return err
	}

	m.mu.Lock()
	wasAuthenticated := m.state == StateAuthenticated
	prevUser := m.tokens.UserID
	m.tokens = t
	m.state = StateAuthenticated
	m.mu.Unlock()

	ev := Event{Type: EventRefreshed, UserID: t.UserID}
	if !wasAuthenticated || prevUser != t.UserID {
		ev.Type = EventLoggedIn
	}
	m.logger.Info("session saved", zap.String("event", string(ev.Type)), zap.String("userId", t.UserID))
	m.emit(ctx, ev)
	return nil
}

// Refresh exchanges the refresh token for a new pair and returns the new
// access token. Concurrent callers share one network call and its result.
// Any failure clears the session and broadcasts EventInvalidated.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	return m.refresh(ctx, "")
}

// RefreshStale is Refresh for a caller that was rejected while sending stale.
// When the held access token already differs from stale (another caller
// refreshed in the meantime) it is returned without a network call.
func (m *Manager) RefreshStale(ctx context.Context, stale string) (string, error) {
	return m.refresh(ctx, stale)
}

func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	if err := m.EnsureHydrated(ctx); err != nil {
		return "", err
	}

	v, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		return m.doRefresh(context.WithoutCancel(ctx), stale)
	})
	if shared {
		m.logger.Debug("joined in-flight refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	m.mu.RLock()
	current := m.tokens
	m.mu.RUnlock()

	if stale != "" && current.AccessToken != "" && current.AccessToken != stale {
		return current.AccessToken, nil
	}

	if current.RefreshToken == "" {
		m.invalidate(ctx, ReasonExpired)
		return "", &apierr.Error{Kind: apierr.KindAuth, Message: "session expired", Err: ErrNoRefreshToken}
	}

	next, err := m.refresher.RefreshTokens(ctx, current.RefreshToken)
	m.metrics.RecordRefresh(err)
	if err == nil && next.AccessToken == "" {
		err = errors.New("refresh returned no access token")
	}
	if err != nil {
		m.logger.Warn("token refresh failed", zap.Error(err))
		m.invalidate(ctx, ReasonExpired)
		return "", err
	}

	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.UserID == "" {
		next.UserID = current.UserID
	}
	if err := m.persist(ctx, next); err != nil {
		// The new pair is still valid in memory for this process.
		m.logger.Warn("persist refreshed tokens", zap.Error(err))
	}

	m.mu.Lock()
	m.tokens = next
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.emit(ctx, Event{Type: EventRefreshed, UserID: next.UserID})
	return next.AccessToken, nil
}

// Invalidate drops the session after an unrecoverable auth failure and
// broadcasts EventInvalidated with the given reason.
func (m *Manager) Invalidate(ctx context.Context, reason Reason) {
	m.invalidate(ctx, reason)
}

func (m *Manager) invalidate(ctx context.Context, reason Reason) {
	m.mu.Lock()
	wasAuth := m.state == StateAuthenticated
	userID := m.tokens.UserID
	m.tokens = Tokens{}
	m.state = StateAnonymous
	m.mu.Unlock()

	if err := m.store.Delete(ctx, tokensKey); err != nil {
		m.logger.Warn("clear session tokens", zap.Error(err))
	}
	if wasAuth {
		m.logger.Info("session invalidated", zap.String("reason", string(reason)))
		m.emit(ctx, Event{Type: EventInvalidated, UserID: userID, Reason: reason})
	}
}

// Clear logs out: tokens are removed and EventLoggedOut is broadcast.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.EnsureHydrated(ctx); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, tokensKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	m.mu.Lock()
	userID := m.tokens.UserID
	m.tokens = Tokens{}
	m.state = StateAnonymous
	m.mu.Unlock()

	m.emit(ctx, Event{Type: EventLoggedOut, UserID: userID})
	return nil
}

func (m *Manager) persist(ctx context.Context, t Tokens) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Put(ctx, tokensKey, raw); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}
