// Package dedup records which jobs have already been evaluated or bid
// on, keyed by (platform_id, external_id).
//
// MarkSeen is an atomic check-and-set: two loops (or two overlapping
// poll cycles of the same loop) racing on the same listing get exactly
// one winner, which is what guarantees at most one BidAttempt per job.
package dedup

import "context"

// ActiveCounter reports the number of non-terminal bid attempts for a
// platform. Backed by the bid-attempt store.
type ActiveCounter interface {
	ActiveCount(ctx context.Context, platformID string) (int, error)
}

// Store is the dedup port. Implementations must be safe for concurrent
// use across platform loops.
type Store interface {
	// MarkSeen records the job as seen, owned by attemptID. Returns
	// true when this call was the first to see it, false when the job
	// was already recorded. Atomic check-and-set.
	MarkSeen(ctx context.Context, platformID, externalID, attemptID string) (bool, error)

	// HasSeen reports whether the job has been recorded.
	HasSeen(ctx context.Context, platformID, externalID string) (bool, error)

	// ActiveCount reports non-terminal bid attempts for the platform,
	// used for the strategy's concurrency-cap check.
	ActiveCount(ctx context.Context, platformID string) (int, error)
}
