// Package strategy implements the matching and scoring engine: it
// decides whether and how to bid on a normalised Job.
//
// Evaluation is deterministic: the same Job, strategy version and
// active-count snapshot always yield the same Decision, so every
// decision is reproducible for debugging.
package strategy

import (
	"strings"

	"github.com/AmericanPowerAI/LeaX/internal/model"
)

// Skip reasons, logged for strategy tuning.
const (
	SkipPlatformDisabled  = "platform-disabled"
	SkipPlatformHalted    = "platform-halted"
	SkipExcludedTerm      = "excluded-term"
	SkipKeywordMismatch   = "keyword-mismatch"
	SkipCategoryMismatch  = "category-mismatch"
	SkipBudgetBelowFloor  = "budget-below-floor"
	SkipClientRatingFloor = "client-rating-below-floor"
	SkipConcurrencyCap    = "concurrency-cap-reached"
	SkipNoBudget          = "no-budget-for-percent-bid"
	SkipQueueFull         = "queue-full"
	SkipDisabled          = "disabled"
	SkipOrphaned          = "orphaned-by-restart"
)

// Evaluate applies the strategy to a job. activeCount is the caller's
// snapshot of non-terminal attempts on the job's platform. The first
// failing filter short-circuits with its reason.
func Evaluate(job model.Job, strat *model.Strategy, activeCount int) model.Decision {
	skip := func(reason string) model.Decision {
		return model.Decision{SkipReason: reason, StrategyVersion: strat.Version}
	}

	if !strat.Enabled(job.PlatformID) {
		return skip(SkipPlatformDisabled)
	}

	text := strings.ToLower(job.Title + " " + job.Description)

	// Exclusion terms discard before anything else, same as the
	// red-flag pass runs before any feed insert.
	for _, term := range strat.ExcludeTerms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return skip(SkipExcludedTerm)
		}
	}

	if len(strat.Keywords) > 0 && !anyTermIn(text, strat.Keywords) {
		return skip(SkipKeywordMismatch)
	}

	if len(strat.Categories) > 0 && !anyEqualFold(job.Category, strat.Categories) {
		return skip(SkipCategoryMismatch)
	}

	if strat.BudgetFloor > 0 && job.Budget.Max > 0 && job.Budget.Max < strat.BudgetFloor {
		return skip(SkipBudgetBelowFloor)
	}

	if strat.ClientRatingFloor > 0 {
		if job.Client == nil || job.Client.Rating < strat.ClientRatingFloor {
			return skip(SkipClientRatingFloor)
		}
	}

	if strat.MaxActiveBids > 0 && activeCount >= strat.MaxActiveBids {
		return skip(SkipConcurrencyCap)
	}

	// Percentage bid functions need a published budget max; without one
	// they would compute a $0 bid.
	if job.Budget.Max <= 0 &&
		(strat.BidFunc == model.BidPercent || strat.BidFunc == model.BidUndercut) {
		return skip(SkipNoBudget)
	}

	amount := bidAmount(job, strat)
	return model.Decision{
		Bid:             true,
		Amount:          amount,
		Score:           score(job),
		StrategyVersion: strat.Version,
	}
}

// bidAmount computes the bid per the strategy's function, clamped into
// the listing's budget bounds when both are present.
func bidAmount(job model.Job, strat *model.Strategy) float64 {
	var amount float64
	switch strat.BidFunc {
	case model.BidPercent:
		amount = job.Budget.Max * strat.Amount / 100
	case model.BidUndercut:
		amount = job.Budget.Max * (1 - strat.Amount/100)
	default: // BidFixed
		amount = strat.Amount
	}

	if job.Budget.HasBounds() {
		if amount < job.Budget.Min {
			amount = job.Budget.Min
		}
		if amount > job.Budget.Max {
			amount = job.Budget.Max
		}
	}
	return amount
}

// score ranks decisions for queue-overflow eviction: richer listings
// survive a full queue. Derived only from the job, so it is stable.
func score(job model.Job) float64 {
	s := job.Budget.Max
	if job.Client != nil {
		s += job.Client.Rating * 10
		if job.Client.Verified {
			s += 25
		}
	}
	return s
}

func anyTermIn(text string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(text, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func anyEqualFold(v string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
