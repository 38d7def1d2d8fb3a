package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/orun-dev/orun/internal/idp"
)

var (
	// ErrNotAuthenticated is returned when a token is requested without a
	// live session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStateMismatch is returned when a login callback carries a state
	// parameter that no pending login produced.
	ErrStateMismatch = errors.New("state parameter does not match a pending login")
)

const (
	// AdminRole is the role required to operate the console.
	AdminRole = "orun-admin"

	// DefaultRefreshInterval is how often the background loop checks token
	// freshness while authenticated.
	DefaultRefreshInterval = 30 * time.Second

	// DefaultMinValidity is the validity window a token must retain; below
	// it a silent refresh is performed.
	DefaultMinValidity = 30 * time.Second

	// pendingLoginTTL bounds how long an issued authorization URL stays
	// redeemable.
	pendingLoginTTL = 10 * time.Minute

	refreshCallTimeout = 30 * time.Second
)

type initPhase int

const (
	initNotStarted initPhase = iota
	initInFlight
	initDone
)

type pendingLogin struct {
	verifier  string
	createdAt time.Time
}

// Manager owns the one authenticated session of this process. It performs
// the boot handshake exactly once, hands out login redirects, completes
// callbacks, keeps the token fresh on a 30 second cycle and tears everything
// down on logout. All token material lives in memory only.
type Manager struct {
	provider *idp.Client
	logger   zerolog.Logger
	origin   string

	refreshInterval time.Duration
	minValidity     time.Duration

	mu      sync.Mutex
	state   State
	user    *User
	token   *oauth2.Token
	idToken string
	isAdmin bool

	phase         initPhase
	initFinished  chan struct{}
	initOutcome   bool
	initErr       error
	pendingLogins map[string]pendingLogin

	refreshInFlight chan struct{}

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRefreshInterval overrides the background refresh cadence.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) { m.refreshInterval = d }
}

// WithMinValidity overrides the minimum validity window.
func WithMinValidity(d time.Duration) Option {
	return func(m *Manager) { m.minValidity = d }
}

// NewManager creates a session manager bound to the given provider client.
// origin is this gateway's externally reachable URL, used as the post-logout
// redirect target.
func NewManager(provider *idp.Client, origin string, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		provider:        provider,
		logger:          logger,
		origin:          origin,
		refreshInterval: DefaultRefreshInterval,
		minValidity:     DefaultMinValidity,
		state:           StateUninitialized,
		pendingLogins:   make(map[string]pendingLogin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize performs the one-time boot handshake: provider discovery plus a
// best-effort existing-session probe. Concurrent callers join the in-flight
// attempt; once finished the outcome is cached and the handshake never runs
// again. A session probe the provider cannot serve resolves to "not
// authenticated" instead of failing.
func (m *Manager) Initialize(ctx context.Context) (bool, error) {
	m.mu.Lock()
	switch m.phase {
	case initDone:
		authenticated := m.state == StateAuthenticated
		m.mu.Unlock()
		return authenticated, m.initErr
	case initInFlight:
		finished := m.initFinished
		m.mu.Unlock()
		select {
		case <-finished:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		m.mu.Lock()
		outcome, err := m.initOutcome, m.initErr
		m.mu.Unlock()
		return outcome, err
	}

	m.phase = initInFlight
	m.initFinished = make(chan struct{})
	m.state = StateInitializing
	finished := m.initFinished
	m.mu.Unlock()

	authenticated, err := m.handshake(ctx)

	m.mu.Lock()
	m.phase = initDone
	m.initOutcome = authenticated
	m.initErr = err
	if err != nil {
		m.resetLocked()
	} else if authenticated {
		m.state = StateAuthenticated
	} else {
		m.state = StateAnonymous
	}
	m.mu.Unlock()
	close(finished)

	if err != nil {
		m.logger.Error().Err(err).Msg("Session initialization failed")
		return false, err
	}

	m.logger.Info().Bool("authenticated", authenticated).Msg("Session initialized")
	return authenticated, nil
}

// handshake performs discovery and the silent session probe.
func (m *Manager) handshake(ctx context.Context) (bool, error) {
	if _, err := m.provider.Discover(ctx); err != nil {
		return false, fmt.Errorf("provider discovery failed: %w", err)
	}

	err := m.provider.CheckSession(ctx)
	switch {
	case err == nil:
		// Endpoint reachable but no session can be detected without the
		// browser's cookies; the operator logs in interactively.
		return false, nil
	case errors.Is(err, idp.ErrSessionCheckUnavailable):
		m.logger.Debug().Msg("Session check unavailable, continuing unauthenticated")
		return false, nil
	default:
		return false, err
	}
}

// BeginLogin builds the interactive authorization URL the browser should be
// redirected to. The PKCE verifier is held against the state parameter until
// the provider calls back.
func (m *Manager) BeginLogin(ctx context.Context) (string, error) {
	pkce, err := idp.GeneratePKCE()
	if err != nil {
		return "", err
	}
	state, err := idp.GenerateState()
	if err != nil {
		return "", err
	}

	authURL, err := m.provider.AuthCodeURL(ctx, state, pkce)
	if err != nil {
		return "", fmt.Errorf("failed to build authorization URL: %w", err)
	}

	m.mu.Lock()
	m.prunePendingLocked()
	m.pendingLogins[state] = pendingLogin{verifier: pkce.CodeVerifier, createdAt: time.Now()}
	m.mu.Unlock()

	return authURL, nil
}

// CompleteLogin redeems the authorization code delivered to the callback
// endpoint. On success the session becomes authenticated and the refresh
// loop is armed. User, token and the derived admin flag are published in a
// single step so no partial state is observable.
func (m *Manager) CompleteLogin(ctx context.Context, state, code string) error {
	m.mu.Lock()
	pending, ok := m.pendingLogins[state]
	if ok {
		delete(m.pendingLogins, state)
	}
	m.mu.Unlock()

	if !ok || time.Since(pending.createdAt) > pendingLoginTTL {
		return ErrStateMismatch
	}

	token, err := m.provider.Exchange(ctx, code, pending.verifier)
	if err != nil {
		return err
	}

	claims, err := idp.ParseClaims(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to read identity from token: %w", err)
	}

	user := &User{
		ID:       claims.Subject,
		Username: claims.Username(),
		Email:    claims.Email,
	}
	isAdmin := claims.HasRole(AdminRole, m.provider.ClientID())

	idToken, _ := token.Extra("id_token").(string)

	m.mu.Lock()
	m.user = user
	m.token = token
	m.idToken = idToken
	m.isAdmin = isAdmin
	m.state = StateAuthenticated
	m.armRefreshLocked()
	m.mu.Unlock()

	if !isAdmin {
		m.logger.Warn().Str("username", user.Username).Msg("Authenticated user lacks orun-admin access")
	}
	m.logger.Info().Str("username", user.Username).Bool("is_admin", isAdmin).Msg("Login completed")
	return nil
}

// Refresh ensures the current token stays valid for at least minValidity.
// When the remaining lifetime already covers the window this is a no-op.
// At most one refresh grant is in flight at a time: providers that rotate
// refresh tokens revoke the old token on first use, so concurrent callers
// wait for the in-flight exchange and then re-check freshness instead of
// redeeming the same token again. Any refresh failure is fatal to the
// session: state is cleared and the background loop disarmed.
func (m *Manager) Refresh(ctx context.Context, minValidity time.Duration) error {
	for {
		m.mu.Lock()
		if m.state != StateAuthenticated || m.token == nil {
			m.mu.Unlock()
			return ErrNotAuthenticated
		}
		if !m.token.Expiry.IsZero() && time.Until(m.token.Expiry) >= minValidity {
			m.mu.Unlock()
			return nil
		}
		if m.refreshInFlight != nil {
			inFlight := m.refreshInFlight
			m.mu.Unlock()
			select {
			case <-inFlight:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		inFlight := make(chan struct{})
		m.refreshInFlight = inFlight
		refreshToken := m.token.RefreshToken
		m.mu.Unlock()

		token, err := m.provider.Refresh(ctx, refreshToken)

		m.mu.Lock()
		m.refreshInFlight = nil
		close(inFlight)
		if err != nil {
			m.resetLocked()
			m.mu.Unlock()
			m.logger.Error().Err(err).Msg("Token refresh failed, ending session")
			return err
		}
		if m.state != StateAuthenticated {
			// Logged out while the exchange was in flight; discard the result.
			m.mu.Unlock()
			return ErrNotAuthenticated
		}
		if token.RefreshToken == "" {
			token.RefreshToken = refreshToken
		}
		if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
			m.idToken = idToken
		}
		m.token = token
		m.mu.Unlock()

		m.logger.Debug().Time("expiry", token.Expiry).Msg("Token refreshed")
		return nil
	}
}

// Logout clears local state synchronously and returns the provider logout
// URL the browser should be sent to. Local teardown happens even when the
// logout URL cannot be built.
func (m *Manager) Logout(ctx context.Context) string {
	m.mu.Lock()
	idToken := m.idToken
	username := ""
	if m.user != nil {
		username = m.user.Username
	}
	m.resetLocked()
	m.mu.Unlock()

	m.logger.Info().Str("username", username).Msg("Logged out")

	logoutURL, err := m.provider.EndSessionURL(ctx, idToken, m.origin)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to build end-session URL")
		return m.origin
	}
	return logoutURL
}

// Token returns a bearer token guaranteed to remain valid for the default
// minimum window, refreshing it first if needed.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if err := m.Refresh(ctx, m.minValidity); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return "", ErrNotAuthenticated
	}
	return m.token.AccessToken, nil
}

// Snapshot returns a copy of the published auth state.
func (m *Manager) Snapshot() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := AuthState{
		IsAuthenticated: m.state == StateAuthenticated,
		IsAdmin:         m.isAdmin,
		Loading:         m.state == StateInitializing,
	}
	if m.user != nil {
		u := *m.user
		snapshot.User = &u
	}
	if m.token != nil {
		snapshot.Token = m.token.AccessToken
	}
	return snapshot
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears the session down without contacting the provider. No refresh
// fires after Close returns.
func (m *Manager) Close() {
	m.mu.Lock()
	done := m.refreshDone
	m.disarmRefreshLocked()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// resetLocked clears all session state and disarms the refresh loop.
// Must be called with m.mu held.
func (m *Manager) resetLocked() {
	m.user = nil
	m.token = nil
	m.idToken = ""
	m.isAdmin = false
	m.state = StateAnonymous
	m.disarmRefreshLocked()
}

// armRefreshLocked starts the background refresh loop if it is not running.
// Must be called with m.mu held.
func (m *Manager) armRefreshLocked() {
	if m.refreshCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.refreshCancel = cancel
	m.refreshDone = done

	go m.refreshLoop(ctx, done)
}

// disarmRefreshLocked cancels the refresh loop. Must be called with m.mu held.
func (m *Manager) disarmRefreshLocked() {
	if m.refreshCancel != nil {
		m.refreshCancel()
		m.refreshCancel = nil
		m.refreshDone = nil
	}
}

func (m *Manager) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, refreshCallTimeout)
			err := m.Refresh(callCtx, m.minValidity)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				// Refresh already tore the session down; stop the loop.
				return
			}
		}
	}
}

// prunePendingLocked drops expired pending logins. Must be called with m.mu held.
func (m *Manager) prunePendingLocked() {
	now := time.Now()
	for state, pending := range m.pendingLogins {
		if now.Sub(pending.createdAt) > pendingLoginTTL {
			delete(m.pendingLogins, state)
		}
	}
}
