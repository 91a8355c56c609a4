// Package session owns per-platform authenticated session state.
//
// The Manager is the single writer of session state; adapters borrow a
// read-only Session snapshot per call. How a session is actually
// established (API token exchange, browser automation, …) is hidden
// behind the Authenticator interface so automation-technique churn
// never touches the orchestration core.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Status of a platform session.
type Status string

const (
	StatusValid    Status = "VALID"
	StatusExpiring Status = "EXPIRING" // still usable, refresh in flight
	StatusInvalid  Status = "INVALID"  // halted until operator re-auth
)

// Session is a read-only snapshot of one platform's auth state.
// CredentialRef is an opaque reference into the secret store — never
// the secret itself.
type Session struct {
	PlatformID      string
	CredentialRef   string
	Status          Status
	LastValidatedAt time.Time
	ExpiresAt       time.Time
}

// Authenticator establishes a session for a platform and reports when
// it will expire. Implementations must treat credentialRef as opaque.
type Authenticator interface {
	Login(ctx context.Context, platformID, credentialRef string) (expiresAt time.Time, err error)
}

// CredentialSource resolves the opaque credential reference for a
// platform from an external secret store.
type CredentialSource interface {
	Ref(platformID string) (string, error)
}

// Sentinel errors returned by Acquire.
var (
	// ErrSessionInvalid means the platform is halted until an operator
	// calls Reauthenticate.
	ErrSessionInvalid = errors.New("session invalid, operator re-auth required")

	// ErrLoginRateLimited means a login attempt is not permitted yet.
	// Platforms that lock accounts after repeated failed logins must
	// never be hammered.
	ErrLoginRateLimited = errors.New("login rate limited")
)

// Options tunes the Manager.
type Options struct {
	ExpiryMargin     time.Duration // refresh proactively this close to expiry
	LoginMinGap      time.Duration // minimum time between login attempts
	MaxLoginFailures int           // consecutive failures before halting
}

func (o *Options) defaults() {
	if o.ExpiryMargin <= 0 {
		o.ExpiryMargin = 5 * time.Minute
	}
	if o.LoginMinGap <= 0 {
		o.LoginMinGap = 30 * time.Second
	}
	if o.MaxLoginFailures <= 0 {
		o.MaxLoginFailures = 3
	}
}

type platformState struct {
	mu          sync.Mutex
	session     Session
	haveSession bool
	refreshing  bool
	lastLoginAt time.Time
	failures    int
	halted      bool
}

// Manager owns all platform sessions. Safe for concurrent use; state
// is isolated per platform so platforms never block each other.
type Manager struct {
	auth  Authenticator
	creds CredentialSource
	opts  Options
	now   func() time.Time

	mu     sync.Mutex
	states map[string]*platformState
}

// NewManager constructs a Manager.
func NewManager(auth Authenticator, creds CredentialSource, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		auth:   auth,
		creds:  creds,
		opts:   opts,
		now:    time.Now,
		states: make(map[string]*platformState),
	}
}

func (m *Manager) state(platformID string) *platformState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[platformID]
	if !ok {
		st = &platformState{}
		m.states[platformID] = st
	}
	return st
}

// Acquire returns a usable session for the platform, logging in when
// none exists. A session inside the expiry margin is returned as-is
// (status EXPIRING) while a single background refresh runs, so callers
// holding the still-valid session are never blocked.
func (m *Manager) Acquire(ctx context.Context, platformID string) (Session, error) {
	st := m.state(platformID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.halted {
		return Session{}, fmt.Errorf("%s: %w", platformID, ErrSessionInvalid)
	}

	now := m.now()
	if st.haveSession && now.Before(st.session.ExpiresAt) {
		if st.session.ExpiresAt.Sub(now) <= m.opts.ExpiryMargin {
			st.session.Status = StatusExpiring
			if !st.refreshing {
				st.refreshing = true
				go m.refresh(platformID)
			}
		}
		return st.session, nil
	}

	// No session, or expired: log in inline.
	if err := m.loginLocked(ctx, platformID, st); err != nil {
		return Session{}, err
	}
	return st.session, nil
}

// loginLocked performs one rate-limited login attempt. st.mu is held.
func (m *Manager) loginLocked(ctx context.Context, platformID string, st *platformState) error {
	now := m.now()
	if !st.lastLoginAt.IsZero() && now.Sub(st.lastLoginAt) < m.opts.LoginMinGap {
		return fmt.Errorf("%s: %w", platformID, ErrLoginRateLimited)
	}

	ref, err := m.creds.Ref(platformID)
	if err != nil {
		return fmt.Errorf("resolve credential ref for %s: %w", platformID, err)
	}

	st.lastLoginAt = now
	expiresAt, err := m.auth.Login(ctx, platformID, ref)
	if err != nil {
		st.failures++
		log.Printf("[session] Login failed for %s (attempt %d/%d): %v",
			platformID, st.failures, m.opts.MaxLoginFailures, err)
		if st.failures >= m.opts.MaxLoginFailures {
			st.halted = true
			st.haveSession = false
			log.Printf("[session] Platform %s halted — re-auth required", platformID)
			return fmt.Errorf("%s: %w", platformID, ErrSessionInvalid)
		}
		return fmt.Errorf("login %s: %w", platformID, err)
	}

	st.failures = 0
	st.haveSession = true
	st.session = Session{
		PlatformID:      platformID,
		CredentialRef:   ref,
		Status:          StatusValid,
		LastValidatedAt: now,
		ExpiresAt:       expiresAt,
	}
	return nil
}

// refresh re-validates an expiring session in the background. Single
// writer: only one refresh per platform runs at a time. The login call
// itself runs outside the state lock, so Acquire keeps handing out the
// still-valid session for the whole network round trip.
func (m *Manager) refresh(platformID string) {
	st := m.state(platformID)

	st.mu.Lock()
	now := m.now()
	if st.halted ||
		(!st.lastLoginAt.IsZero() && now.Sub(st.lastLoginAt) < m.opts.LoginMinGap) {
		st.refreshing = false
		st.mu.Unlock()
		return
	}
	ref, err := m.creds.Ref(platformID)
	if err != nil {
		st.refreshing = false
		st.mu.Unlock()
		log.Printf("[session] Background refresh for %s failed: %v", platformID, err)
		return
	}
	st.lastLoginAt = now
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	expiresAt, loginErr := m.auth.Login(ctx, platformID, ref)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.refreshing = false

	if loginErr != nil {
		st.failures++
		log.Printf("[session] Background refresh for %s failed (attempt %d/%d): %v",
			platformID, st.failures, m.opts.MaxLoginFailures, loginErr)
		if st.failures >= m.opts.MaxLoginFailures {
			st.halted = true
			st.haveSession = false
			log.Printf("[session] Platform %s halted — re-auth required", platformID)
		}
		return
	}

	st.failures = 0
	st.haveSession = true
	st.session = Session{
		PlatformID:      platformID,
		CredentialRef:   ref,
		Status:          StatusValid,
		LastValidatedAt: now,
		ExpiresAt:       expiresAt,
	}
}

// Invalidate marks a platform's session invalid and halts it. Called
// by the dispatch worker on an adapter auth failure.
func (m *Manager) Invalidate(platformID string) {
	st := m.state(platformID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.haveSession = false
	st.halted = true
	st.session.Status = StatusInvalid
	log.Printf("[session] Session for %s invalidated", platformID)
}

// Reauthenticate clears the halt after an operator re-auth event and
// attempts a fresh login immediately.
func (m *Manager) Reauthenticate(ctx context.Context, platformID string) error {
	st := m.state(platformID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.halted = false
	st.failures = 0
	st.lastLoginAt = time.Time{}
	return m.loginLocked(ctx, platformID, st)
}

// Status reports the platform's current session status without
// triggering any login.
func (m *Manager) Status(platformID string) Status {
	st := m.state(platformID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.halted {
		return StatusInvalid
	}
	if !st.haveSession {
		return StatusInvalid
	}
	if st.session.ExpiresAt.Sub(m.now()) <= m.opts.ExpiryMargin {
		return StatusExpiring
	}
	return StatusValid
}

// RefreshExpiring re-validates every known session inside its expiry
// margin. Wired to a cron sweep so long-idle platforms stay warm.
func (m *Manager) RefreshExpiring(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		st := m.state(id)
		st.mu.Lock()
		needs := st.haveSession && !st.halted && !st.refreshing &&
			st.session.ExpiresAt.Sub(m.now()) <= m.opts.ExpiryMargin
		if needs {
			st.refreshing = true
			go m.refresh(id)
		}
		st.mu.Unlock()
	}
}
