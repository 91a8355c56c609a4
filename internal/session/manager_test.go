package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/session"
)

type scriptedAuth struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
	fail  func(call int) error
	delay func(call int) time.Duration
}

func (a *scriptedAuth) Login(ctx context.Context, platformID, ref string) (time.Time, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()
	if a.delay != nil {
		time.Sleep(a.delay(call))
	}
	if a.fail != nil {
		if err := a.fail(call); err != nil {
			return time.Time{}, err
		}
	}
	return time.Now().Add(a.ttl), nil
}

func (a *scriptedAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type staticCreds map[string]string

func (c staticCreds) Ref(platformID string) (string, error) {
	ref, ok := c[platformID]
	if !ok {
		return "", errors.New("no credential")
	}
	return ref, nil
}

func newManager(auth *scriptedAuth, opts session.Options) *session.Manager {
	return session.NewManager(auth, staticCreds{"upwork": "ref-upwork"}, opts)
}

func TestAcquire_LogsInOnce(t *testing.T) {
	auth := &scriptedAuth{ttl: time.Hour}
	m := newManager(auth, session.Options{})
	ctx := context.Background()

	s, err := m.Acquire(ctx, "upwork")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s.Status != session.StatusValid || s.CredentialRef != "ref-upwork" {
		t.Errorf("session = %+v", s)
	}

	// Second acquire reuses the session, no second login.
	if _, err := m.Acquire(ctx, "upwork"); err != nil {
		t.Fatal(err)
	}
	if auth.callCount() != 1 {
		t.Errorf("login called %d times, want 1", auth.callCount())
	}
}

func TestAcquire_LoginRateLimited(t *testing.T) {
	auth := &scriptedAuth{ttl: time.Hour, fail: func(call int) error {
		return errors.New("bad gateway")
	}}
	m := newManager(auth, session.Options{LoginMinGap: time.Hour, MaxLoginFailures: 5})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "upwork"); err == nil {
		t.Fatal("first acquire should fail")
	}
	_, err := m.Acquire(ctx, "upwork")
	if !errors.Is(err, session.ErrLoginRateLimited) {
		t.Errorf("immediate retry = %v, want ErrLoginRateLimited", err)
	}
	if auth.callCount() != 1 {
		t.Errorf("login attempted %d times inside the min gap, want 1", auth.callCount())
	}
}

// Consecutive login failures halt the platform until operator re-auth.
func TestAcquire_HaltsAfterMaxFailures(t *testing.T) {
	auth := &scriptedAuth{ttl: time.Hour, fail: func(call int) error {
		if call <= 2 {
			return errors.New("captcha wall")
		}
		return nil
	}}
	m := newManager(auth, session.Options{LoginMinGap: time.Millisecond, MaxLoginFailures: 2})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "upwork"); err == nil {
		t.Fatal("first login should fail")
	}
	time.Sleep(5 * time.Millisecond)
	_, err := m.Acquire(ctx, "upwork")
	if !errors.Is(err, session.ErrSessionInvalid) {
		t.Fatalf("second failure should halt, got %v", err)
	}

	// Halted: no more login attempts no matter how often we ask.
	time.Sleep(5 * time.Millisecond)
	if _, err := m.Acquire(ctx, "upwork"); !errors.Is(err, session.ErrSessionInvalid) {
		t.Errorf("halted acquire = %v, want ErrSessionInvalid", err)
	}
	if auth.callCount() != 2 {
		t.Errorf("login attempted %d times while halted, want 2", auth.callCount())
	}

	// Operator re-auth clears the halt.
	if err := m.Reauthenticate(ctx, "upwork"); err != nil {
		t.Fatalf("Reauthenticate: %v", err)
	}
	if m.Status("upwork") != session.StatusValid {
		t.Errorf("Status = %s after re-auth, want VALID", m.Status("upwork"))
	}
}

func TestInvalidate_HaltsPlatform(t *testing.T) {
	auth := &scriptedAuth{ttl: time.Hour}
	m := newManager(auth, session.Options{})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "upwork"); err != nil {
		t.Fatal(err)
	}
	m.Invalidate("upwork")

	if m.Status("upwork") != session.StatusInvalid {
		t.Errorf("Status = %s after Invalidate, want INVALID", m.Status("upwork"))
	}
	if _, err := m.Acquire(ctx, "upwork"); !errors.Is(err, session.ErrSessionInvalid) {
		t.Errorf("Acquire after Invalidate = %v, want ErrSessionInvalid", err)
	}
}

// A session inside the expiry margin is returned immediately as
// EXPIRING while a single background refresh runs.
func TestAcquire_ExpiringRefreshesWithoutBlocking(t *testing.T) {
	auth := &scriptedAuth{ttl: 50 * time.Millisecond}
	m := newManager(auth, session.Options{
		ExpiryMargin: 40 * time.Millisecond,
		LoginMinGap:  time.Millisecond,
	})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "upwork"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(15 * time.Millisecond) // now inside the margin
	s, err := m.Acquire(ctx, "upwork")
	if err != nil {
		t.Fatalf("Acquire inside margin: %v", err)
	}
	if s.Status != session.StatusExpiring {
		t.Errorf("Status = %s, want EXPIRING", s.Status)
	}

	// The background refresh lands shortly after.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if auth.callCount() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("background refresh never ran")
}

// A slow refresh login must not stall concurrent Acquire calls: they
// keep getting the still-valid session while the round trip runs.
func TestAcquire_NotBlockedBySlowRefresh(t *testing.T) {
	auth := &scriptedAuth{ttl: 5 * time.Second, delay: func(call int) time.Duration {
		if call >= 2 {
			return 400 * time.Millisecond // only the refresh login is slow
		}
		return 0
	}}
	m := newManager(auth, session.Options{
		ExpiryMargin: 10 * time.Second, // every session is inside the margin
		LoginMinGap:  time.Millisecond,
	})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "upwork"); err != nil {
		t.Fatal(err)
	}

	// This acquire kicks off the slow background refresh.
	time.Sleep(5 * time.Millisecond)
	if _, err := m.Acquire(ctx, "upwork"); err != nil {
		t.Fatal(err)
	}

	// While the refresh is in flight, acquires return immediately.
	start := time.Now()
	s, err := m.Acquire(ctx, "upwork")
	if err != nil {
		t.Fatalf("Acquire during refresh: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Acquire during refresh took %s, should not wait for the login", elapsed)
	}
	if s.Status != session.StatusExpiring {
		t.Errorf("Status = %s during refresh, want EXPIRING", s.Status)
	}
}
