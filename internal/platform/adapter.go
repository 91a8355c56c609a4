// Package platform contains the pluggable marketplace adapter contract.
//
// This package is intentionally generic: it carries no site-specific
// parsing rules, endpoint paths or fingerprints. Each supported
// marketplace provides one Adapter implementation; the orchestration
// core never sees anything beyond this contract.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/session"
)

// RawListing is one listing as returned by a platform, before
// normalisation. Extra carries adapter-specific fields (client
// reputation, contract type, …) that the normaliser knows how to read.
type RawListing struct {
	ExternalID  string                 `json:"externalId"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category,omitempty"`
	BudgetMin   float64                `json:"budgetMin,omitempty"`
	BudgetMax   float64                `json:"budgetMax,omitempty"`
	Currency    string                 `json:"currency,omitempty"`
	PostedAt    time.Time              `json:"postedAt"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SubmissionResult is the platform's answer to a bid submission.
// Failures travel as errors (see the taxonomy below), not results.
type SubmissionResult struct {
	Accepted bool
	Reason   string // set when the platform rejected the bid outright
}

// Adapter abstracts all platform-specific logic. Each call is
// independent: adapters keep no state that must survive a restart —
// that state lives in the session manager and the dedup store.
type Adapter interface {
	// ID returns the platform identifier, e.g. "upwork" or "bark".
	ID() string

	// Discover runs one poll cycle and returns the listings currently
	// visible. It is a finite batch per call, not an open stream.
	Discover(ctx context.Context, s session.Session) ([]RawListing, error)

	// SubmitBid places a bid on the given job using the borrowed
	// session. The session is read-only to the adapter.
	SubmitBid(ctx context.Context, s session.Session, job model.Job, amount float64) (SubmissionResult, error)
}

// ─── Error taxonomy ──────────────────────────────────────────────────────────

// ErrTransient marks network-level failures worth retrying with backoff.
var ErrTransient = errors.New("transient platform failure")

// ErrAuth marks an authentication failure: the session must be
// invalidated and the platform halted until an operator re-auth.
var ErrAuth = errors.New("platform authentication failure")

// ErrRateLimited marks a platform-side rate-limit rejection. The local
// limiter tightens its ceiling when it sees this.
var ErrRateLimited = errors.New("platform rate limit hit")

// IncompatibleError marks a detected layout/schema change. It disables
// the platform and raises an operator alert; it is never retried.
type IncompatibleError struct {
	PlatformID string
	Detail     string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("adapter for %s incompatible: %s", e.PlatformID, e.Detail)
}

// IsIncompatible reports whether err is (or wraps) an IncompatibleError.
func IsIncompatible(err error) bool {
	var ie *IncompatibleError
	return errors.As(err, &ie)
}
