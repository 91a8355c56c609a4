// Package bidstore persists BidAttempt records and guards every status
// change with the bidstate machine, so a terminal attempt can never
// change again no matter who asks.
package bidstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/bidstate"
	"github.com/AmericanPowerAI/LeaX/internal/model"
)

// ErrNotFound is returned when a bid attempt does not exist.
var ErrNotFound = errors.New("bid attempt not found")

// ErrForbiddenTransition wraps a state-machine rejection.
type ErrForbiddenTransition struct {
	From, To bidstate.Status
}

func (e *ErrForbiddenTransition) Error() string {
	return fmt.Sprintf("transition %s → %s is not allowed", e.From, e.To)
}

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	PlatformID string
	Status     string
	Limit      int
}

// Store is the BidAttempt persistence port.
type Store interface {
	Create(ctx context.Context, a *model.BidAttempt) error
	Get(ctx context.Context, id string) (*model.BidAttempt, error)
	List(ctx context.Context, f Filter) ([]model.BidAttempt, error)

	// Transition moves an attempt to a new status, updating
	// attempt_count and last_error along the way. Rejected with
	// ErrForbiddenTransition when the state machine forbids it.
	Transition(ctx context.Context, id string, to bidstate.Status, attemptCount int, lastErr *string) (*model.BidAttempt, error)

	// ActiveCount reports non-terminal attempts for a platform.
	ActiveCount(ctx context.Context, platformID string) (int, error)

	// StatusCounts reports attempts per status for a platform, for
	// win-rate reporting. An empty platformID counts everything.
	StatusCounts(ctx context.Context, platformID string) (map[string]int, error)

	// ExpireStale moves SUBMITTED attempts older than cutoff to
	// EXPIRED. Wired to a cron sweep; returns how many were expired.
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// checkTransition validates a proposed move against the state machine.
func checkTransition(fromRaw string, to bidstate.Status) error {
	from, err := bidstate.ParseStatus(fromRaw)
	if err != nil {
		return err
	}
	if !bidstate.IsTransitionAllowed(from, to) {
		return &ErrForbiddenTransition{From: from, To: to}
	}
	return nil
}
