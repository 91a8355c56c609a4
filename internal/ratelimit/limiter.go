// Package ratelimit enforces per-platform bid-submission ceilings.
//
// Each platform gets its own reservation line: Acquire hands out the
// next permitted slot and sleeps the calling goroutine until then, so
// a rate-limited platform suspends only its own dispatch worker. A
// hard platform-side rejection (Penalize) tightens the effective gap
// beyond the configured one; successful submissions decay it back.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"
)

// Config is one platform's submission ceiling.
type Config struct {
	MinGap    time.Duration // minimum spacing between submissions
	PerMinute int           // 0 = no per-minute ceiling
}

const (
	penaltyFactor = 2.0  // gap multiplier per hard rejection
	decayFactor   = 0.75 // applied toward the base gap per success
	maxPenaltyMul = 16   // effective gap never exceeds base × this
)

type line struct {
	mu      sync.Mutex
	cfg     Config
	gap     time.Duration // effective gap, ≥ cfg.MinGap
	next    time.Time     // earliest free slot
	history []time.Time   // reserved slots inside the last minute
}

// Limiter holds one reservation line per platform. Platforms never
// share counters.
type Limiter struct {
	mu    sync.Mutex
	lines map[string]*line
	now   func() time.Time
}

// New constructs a Limiter with the given per-platform configs. A
// platform absent from cfgs gets defaults on first use.
func New(cfgs map[string]Config) *Limiter {
	l := &Limiter{lines: make(map[string]*line), now: time.Now}
	for id, cfg := range cfgs {
		l.lines[id] = newLine(cfg)
	}
	return l
}

func newLine(cfg Config) *line {
	if cfg.MinGap <= 0 {
		cfg.MinGap = time.Second
	}
	return &line{cfg: cfg, gap: cfg.MinGap}
}

func (l *Limiter) line(platformID string) *line {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lines[platformID]
	if !ok {
		ln = newLine(Config{})
		l.lines[platformID] = ln
	}
	return ln
}

// Acquire reserves the next submission slot for the platform and
// blocks the calling goroutine until it arrives, or until ctx is
// cancelled. Reservations are handed out in call order.
func (l *Limiter) Acquire(ctx context.Context, platformID string) error {
	ln := l.line(platformID)

	ln.mu.Lock()
	now := l.now()
	slot := ln.next
	if slot.Before(now) {
		slot = now
	}

	// Per-minute ceiling: push the slot past the oldest reservation
	// still inside the window.
	if ln.cfg.PerMinute > 0 {
		pruned := ln.history[:0]
		for _, t := range ln.history {
			if slot.Sub(t) < time.Minute {
				pruned = append(pruned, t)
			}
		}
		ln.history = pruned
		if len(ln.history) >= ln.cfg.PerMinute {
			earliest := ln.history[len(ln.history)-ln.cfg.PerMinute].Add(time.Minute)
			if earliest.After(slot) {
				slot = earliest
			}
		}
		ln.history = append(ln.history, slot)
	}

	ln.next = slot.Add(ln.gap)
	ln.mu.Unlock()

	wait := slot.Sub(l.now())
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Penalize tightens the platform's effective gap after a hard
// platform-side rate-limit rejection. Logged as an anomaly: the local
// ceiling should have prevented it.
func (l *Limiter) Penalize(platformID string) {
	ln := l.line(platformID)
	ln.mu.Lock()
	defer ln.mu.Unlock()

	tightened := time.Duration(float64(ln.gap) * penaltyFactor)
	if limit := ln.cfg.MinGap * maxPenaltyMul; tightened > limit {
		tightened = limit
	}
	ln.gap = tightened
	// Only push the next slot out, never pull a reservation already
	// booked further ahead back toward now.
	if earliest := l.now().Add(ln.gap); earliest.After(ln.next) {
		ln.next = earliest
	}
	log.Printf("[ratelimit] Platform-side rate limit on %s — gap tightened to %s (configured %s)",
		platformID, ln.gap, ln.cfg.MinGap)
}

// OnSuccess decays the effective gap back toward the configured one.
func (l *Limiter) OnSuccess(platformID string) {
	ln := l.line(platformID)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.gap <= ln.cfg.MinGap {
		return
	}
	decayed := ln.cfg.MinGap + time.Duration(float64(ln.gap-ln.cfg.MinGap)*decayFactor)
	if decayed-ln.cfg.MinGap < time.Millisecond {
		decayed = ln.cfg.MinGap
	}
	ln.gap = decayed
}

// Gap reports the platform's current effective gap.
func (l *Limiter) Gap(platformID string) time.Duration {
	ln := l.line(platformID)
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.gap
}
