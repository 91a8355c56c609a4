package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/ratelimit"
)

// Three acquisitions under a 50ms gap must be spaced out: the third
// cannot complete before ~100ms have passed.
func TestAcquire_EnforcesGap(t *testing.T) {
	l := ratelimit.New(map[string]ratelimit.Config{
		"upwork": {MinGap: 50 * time.Millisecond},
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "upwork"); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond {
		t.Errorf("3 acquisitions took %s, want ≥ 100ms (two 50ms gaps)", elapsed)
	}
}

func TestAcquire_FirstIsImmediate(t *testing.T) {
	l := ratelimit.New(map[string]ratelimit.Config{
		"bark": {MinGap: time.Minute},
	})

	start := time.Now()
	if err := l.Acquire(context.Background(), "bark"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first acquire waited %s, want immediate", elapsed)
	}
}

// Platforms never share counters: saturating one must not delay another.
func TestAcquire_PlatformsIndependent(t *testing.T) {
	l := ratelimit.New(map[string]ratelimit.Config{
		"upwork": {MinGap: time.Minute},
		"angi":   {MinGap: time.Millisecond},
	})
	ctx := context.Background()

	if err := l.Acquire(ctx, "upwork"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Acquire(ctx, "angi"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("angi acquire waited %s while upwork was saturated", elapsed)
	}
}

func TestAcquire_CancelledWhileWaiting(t *testing.T) {
	l := ratelimit.New(map[string]ratelimit.Config{
		"upwork": {MinGap: time.Minute},
	})

	if err := l.Acquire(context.Background(), "upwork"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, "upwork"); err == nil {
		t.Error("Acquire should return the context error when cancelled mid-wait")
	}
}

// A hard platform-side rejection tightens the gap beyond the
// configured one; successes decay it back down, never below base.
func TestPenalize_TightensAndDecays(t *testing.T) {
	base := 10 * time.Millisecond
	l := ratelimit.New(map[string]ratelimit.Config{
		"thumbtack": {MinGap: base},
	})

	l.Penalize("thumbtack")
	tightened := l.Gap("thumbtack")
	if tightened <= base {
		t.Fatalf("gap after penalty = %s, want > %s", tightened, base)
	}

	l.Penalize("thumbtack")
	if l.Gap("thumbtack") <= tightened {
		t.Error("second penalty should tighten further")
	}

	for i := 0; i < 50; i++ {
		l.OnSuccess("thumbtack")
	}
	if got := l.Gap("thumbtack"); got != base {
		t.Errorf("gap after sustained success = %s, want decayed back to %s", got, base)
	}
}

// A penalty must never pull reservations already booked further ahead
// back toward now — the limiter only ever gets stricter.
func TestPenalize_NeverLoosensBookedReservations(t *testing.T) {
	base := 40 * time.Millisecond
	l := ratelimit.New(map[string]ratelimit.Config{
		"upwork": {MinGap: base},
	})

	// Book slots out to ~now+200ms. The cancelled context returns each
	// call immediately but keeps its reservation.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		l.Acquire(cancelled, "upwork")
	}

	// now+2×base would be earlier than the booked now+5×base.
	l.Penalize("upwork")

	start := time.Now()
	if err := l.Acquire(context.Background(), "upwork"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("acquire after penalty waited %s, want ≥ 150ms (booked reservations kept)", elapsed)
	}
}

func TestPenalize_CapsAtMaxMultiple(t *testing.T) {
	base := time.Millisecond
	l := ratelimit.New(map[string]ratelimit.Config{
		"bark": {MinGap: base},
	})
	for i := 0; i < 20; i++ {
		l.Penalize("bark")
	}
	if got := l.Gap("bark"); got > 16*base {
		t.Errorf("gap = %s, want capped at %s", got, 16*base)
	}
}
