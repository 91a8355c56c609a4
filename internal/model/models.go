// Package model defines the shared data structures of the bidding engine.
package model

import "time"

// BudgetRange is the advertised budget of a listing. Min/Max of 0 mean
// the platform did not publish that bound.
type BudgetRange struct {
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// HasBounds reports whether both bounds are present.
func (b BudgetRange) HasBounds() bool { return b.Min > 0 && b.Max > 0 }

// ClientSignal carries optional, platform-dependent reputation data
// about the client who posted the listing.
type ClientSignal struct {
	Rating    float64 `json:"rating,omitempty"`    // 0–5, 0 = unknown
	HireCount int     `json:"hireCount,omitempty"`
	Verified  bool    `json:"verified,omitempty"`
}

// Job is a canonical, normalised listing. Immutable once produced by
// the normaliser; identity is (PlatformID, ExternalID).
type Job struct {
	PlatformID     string        `json:"platformId"`
	ExternalID     string        `json:"externalId"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Category       string        `json:"category,omitempty"`
	Budget         BudgetRange   `json:"budget"`
	PostedAt       time.Time     `json:"postedAt"`
	Client         *ClientSignal `json:"client,omitempty"`
	RawFingerprint string        `json:"rawFingerprint"`
}

// BidFunc selects how the bid amount is derived from the listing budget.
type BidFunc string

const (
	BidFixed    BidFunc = "FIXED"            // always Strategy.Amount
	BidPercent  BidFunc = "PERCENT_OF_MAX"   // Amount% of budget max
	BidUndercut BidFunc = "UNDERCUT_PERCENT" // budget max reduced by Amount%
)

// Strategy is the account's bidding configuration. It is versioned:
// every evaluated decision pins the version it was computed with, so a
// hot-swap never changes the meaning of in-flight work.
type Strategy struct {
	Version           int                `toml:"version" json:"version"`
	Keywords          []string           `toml:"keywords" json:"keywords"`                     // any-match, empty = match all
	ExcludeTerms      []string           `toml:"exclude_terms" json:"excludeTerms"`            // any-match discards
	Categories        []string           `toml:"categories" json:"categories"`                 // any-match, empty = match all
	BudgetFloor       float64            `toml:"budget_floor" json:"budgetFloor"`              // listing max must reach this
	ClientRatingFloor float64            `toml:"client_rating_floor" json:"clientRatingFloor"` // 0 = no floor
	BidFunc           BidFunc            `toml:"bid_func" json:"bidFunc"`
	Amount            float64            `toml:"amount" json:"amount"` // meaning depends on BidFunc
	MaxActiveBids     int                `toml:"max_active_bids" json:"maxActiveBids"`
	PlatformEnabled   map[string]bool    `toml:"platform_enabled" json:"platformEnabled"`
}

// Enabled reports whether bidding is on for a platform. Platforms
// absent from the map default to enabled.
func (s *Strategy) Enabled(platformID string) bool {
	if s.PlatformEnabled == nil {
		return true
	}
	on, ok := s.PlatformEnabled[platformID]
	return !ok || on
}

// Decision is the outcome of evaluating one Job against one Strategy.
// Exactly one of Bid/Skip applies: SkipReason empty means bid.
type Decision struct {
	Bid             bool    `json:"bid"`
	Amount          float64 `json:"amount,omitempty"`
	Score           float64 `json:"score,omitempty"` // used for queue-overflow eviction
	SkipReason      string  `json:"skipReason,omitempty"`
	StrategyVersion int     `json:"strategyVersion"`
}

// BidAttempt is one submission lifecycle for a Job.
type BidAttempt struct {
	ID              string     `json:"id"`
	PlatformID      string     `json:"platformId"`
	ExternalID      string     `json:"externalId"`
	JobTitle        string     `json:"jobTitle"`
	StrategyVersion int        `json:"strategyVersion"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"` // see bidstate
	AttemptCount    int        `json:"attemptCount"`
	LastError       *string    `json:"lastError,omitempty"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
