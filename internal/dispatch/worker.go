package dispatch

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/bidstate"
	"github.com/AmericanPowerAI/LeaX/internal/bidstore"
	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/platform"
	"github.com/AmericanPowerAI/LeaX/internal/session"
)

// EventSink receives terminal-state transitions for the analytics
// stream. Implementations must not block the worker for long.
type EventSink interface {
	TerminalTransition(ctx context.Context, attempt model.BidAttempt)
}

// SessionSource is the slice of the session manager the worker needs.
type SessionSource interface {
	Acquire(ctx context.Context, platformID string) (session.Session, error)
	Invalidate(platformID string)
}

// TokenSource is the slice of the rate limiter the worker needs.
type TokenSource interface {
	Acquire(ctx context.Context, platformID string) error
	Penalize(platformID string)
	OnSuccess(platformID string)
}

// Worker drains one platform's queue: limiter token → session →
// SubmitBid, with exponential backoff on transient failures up to the
// retry ceiling.
type Worker struct {
	platformID string
	queue      *Queue
	adapter    platform.Adapter
	sessions   SessionSource
	limiter    TokenSource
	attempts   bidstore.Store
	events     EventSink

	retryCeiling int
	backoffBase  time.Duration

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker constructs a dispatch worker for one platform.
func NewWorker(q *Queue, adapter platform.Adapter, sessions SessionSource, limiter TokenSource,
	attempts bidstore.Store, events EventSink, retryCeiling int, backoffBase time.Duration) *Worker {
	if retryCeiling <= 0 {
		retryCeiling = 3
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return &Worker{
		platformID:   adapter.ID(),
		queue:        q,
		adapter:      adapter,
		sessions:     sessions,
		limiter:      limiter,
		attempts:     attempts,
		events:       events,
		retryCeiling: retryCeiling,
		backoffBase:  backoffBase,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drains the queue until ctx is cancelled. An in-flight submission
// is allowed to finish rather than hard-aborted, so a platform-side
// bid is never left in an unknown state.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[dispatch] Worker for %s started", w.platformID)
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("[dispatch] Worker for %s stopping: %v", w.platformID, err)
			return
		}
		w.process(ctx, item)
	}
}

// process runs the full submission lifecycle for one queued bid.
func (w *Worker) process(ctx context.Context, item Item) {
	var lastErr string

	for attempt := 1; attempt <= w.retryCeiling; attempt++ {
		if err := w.limiter.Acquire(ctx, w.platformID); err != nil {
			return // shutdown; startup reconciliation closes the attempt
		}

		sess, err := w.sessions.Acquire(ctx, w.platformID)
		if err != nil {
			if errors.Is(err, session.ErrSessionInvalid) {
				w.haltPlatform(item, "session invalid")
				return
			}
			// Login rate-limited or transient: wait out a backoff step.
			lastErr = err.Error()
			if w.backoff(ctx, attempt) != nil {
				return
			}
			continue
		}

		res, err := w.adapter.SubmitBid(ctx, sess, item.Job, item.Amount)
		switch {
		case err == nil:
			if res.Accepted {
				w.limiter.OnSuccess(w.platformID)
				w.transition(ctx, item.AttemptID, bidstate.StatusSubmitted, attempt, nil)
				log.Printf("[dispatch] Bid %s submitted on %s (attempt %d, $%.2f)",
					item.AttemptID, w.platformID, attempt, item.Amount)
			} else {
				reason := res.Reason
				w.terminal(ctx, item.AttemptID, bidstate.StatusRejected, attempt, &reason)
				log.Printf("[dispatch] Bid %s rejected by %s: %s", item.AttemptID, w.platformID, reason)
			}
			return

		case errors.Is(err, platform.ErrAuth):
			w.sessions.Invalidate(w.platformID)
			w.haltPlatform(item, "auth failure on submission")
			return

		case errors.Is(err, platform.ErrRateLimited):
			w.limiter.Penalize(w.platformID)
			lastErr = err.Error()
			log.Printf("[dispatch] %s rate-limited bid %s (attempt %d/%d)",
				w.platformID, item.AttemptID, attempt, w.retryCeiling)

		case platform.IsIncompatible(err):
			reason := err.Error()
			w.terminal(ctx, item.AttemptID, bidstate.StatusFailed, attempt, &reason)
			log.Printf("[dispatch] ALERT adapter for %s incompatible during submission: %v", w.platformID, err)
			return

		default: // transient
			lastErr = err.Error()
			log.Printf("[dispatch] Transient failure submitting bid %s on %s (attempt %d/%d): %v",
				item.AttemptID, w.platformID, attempt, w.retryCeiling, err)
		}

		if attempt < w.retryCeiling {
			if w.backoff(ctx, attempt) != nil {
				return
			}
		}
	}

	w.terminal(ctx, item.AttemptID, bidstate.StatusFailed, w.retryCeiling, &lastErr)
	log.Printf("[dispatch] Bid %s failed on %s after %d attempts: %s",
		item.AttemptID, w.platformID, w.retryCeiling, lastErr)
}

// backoff sleeps base × 2^(attempt−1), honouring cancellation.
func (w *Worker) backoff(ctx context.Context, attempt int) error {
	return w.sleep(ctx, w.backoffBase<<(attempt-1))
}

// haltPlatform suspends drains for the platform and puts the in-hand
// item back at the head of the queue. Nothing is failed or skipped:
// the whole backlog stays PENDING and resumes in order after re-auth.
func (w *Worker) haltPlatform(item Item, why string) {
	w.queue.Halt()
	w.queue.requeue(item)
	log.Printf("[dispatch] Platform %s halted (%s) — dispatch suspended until re-auth", w.platformID, why)
}

// transition applies a status change, logging instead of crashing on
// store errors: a dangling PENDING row is reconciled at the next
// startup, a lost transition must never kill the worker.
func (w *Worker) transition(ctx context.Context, id string, to bidstate.Status, attemptCount int, lastErr *string) *model.BidAttempt {
	a, err := w.attempts.Transition(ctx, id, to, attemptCount, lastErr)
	if err != nil {
		log.Printf("[dispatch] Transition %s → %s failed: %v", id, to, err)
		return nil
	}
	return a
}

// terminal applies a terminal transition and publishes the event for
// the analytics stream.
func (w *Worker) terminal(ctx context.Context, id string, to bidstate.Status, attemptCount int, lastErr *string) {
	a := w.transition(ctx, id, to, attemptCount, lastErr)
	if a != nil && w.events != nil {
		w.events.TerminalTransition(ctx, *a)
	}
}
