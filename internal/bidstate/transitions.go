// Package bidstate defines the BidAttempt status state machine.
//
// Valid status graph:
//
//	PENDING ──► SUBMITTED ──► ACCEPTED
//	    │            │
//	    ├────────────┼──► REJECTED
//	    │            └──► EXPIRED
//	    ├──► FAILED
//	    └──► SKIPPED
//
// ACCEPTED, REJECTED, EXPIRED, FAILED and SKIPPED are terminal states:
// once reached, an attempt never changes status again.
package bidstate

import "fmt"

// Status values mirror the bid_status enum in PostgreSQL.
type Status string

const (
	StatusPending   Status = "PENDING"   // queued, not yet sent to the platform
	StatusSubmitted Status = "SUBMITTED" // accepted by the platform, awaiting outcome
	StatusAccepted  Status = "ACCEPTED"  // client accepted the bid
	StatusRejected  Status = "REJECTED"  // platform or client rejected it
	StatusExpired   Status = "EXPIRED"   // listing closed before an outcome
	StatusFailed    Status = "FAILED"    // retries exhausted
	StatusSkipped   Status = "SKIPPED"   // cancelled before submission (platform disabled)
)

// validTransitions lists every allowed (from → to) pair. Terminal
// states have no entry.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusSubmitted, StatusRejected, StatusFailed, StatusSkipped},
	StatusSubmitted: {StatusAccepted, StatusRejected, StatusExpired},
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusSubmitted, StatusAccepted, StatusRejected,
		StatusExpired, StatusFailed, StatusSkipped:
		return st, nil
	}
	return "", fmt.Errorf("unknown bid status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted
// by the state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}
