// Package normalize converts platform-specific listings into the
// canonical Job model.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/platform"
)

// Normalize converts a RawListing into an immutable Job. Pure: same
// input always yields the same Job, including the fingerprint.
func Normalize(platformID string, raw platform.RawListing) (model.Job, error) {
	if raw.ExternalID == "" {
		return model.Job{}, fmt.Errorf("listing from %s has no external id", platformID)
	}
	if raw.Title == "" {
		return model.Job{}, fmt.Errorf("listing %s/%s has no title", platformID, raw.ExternalID)
	}

	budget := model.BudgetRange{
		Min:      raw.BudgetMin,
		Max:      raw.BudgetMax,
		Currency: raw.Currency,
	}

	job := model.Job{
		PlatformID:     platformID,
		ExternalID:     raw.ExternalID,
		Title:          strings.TrimSpace(raw.Title),
		Description:    strings.TrimSpace(raw.Description),
		Category:       strings.TrimSpace(raw.Category),
		Budget:         budget,
		PostedAt:       raw.PostedAt,
		Client:         clientSignal(raw.Extra),
		RawFingerprint: Fingerprint(raw.Title, raw.Description, budget),
	}
	return job, nil
}

// Fingerprint hashes the normalised content of a listing. Equal
// fingerprints across platforms suggest the same underlying job
// cross-posted or reposted under a new external id — a secondary,
// weaker dedup signal that is logged, never auto-merged.
func Fingerprint(title, description string, budget model.BudgetRange) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.2f|%.2f",
		strings.ToLower(strings.TrimSpace(title)),
		strings.ToLower(strings.TrimSpace(description)),
		budget.Min, budget.Max,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// clientSignal extracts optional client reputation fields from the
// adapter's Extra map. Missing or malformed fields yield nil — the
// signal is platform-dependent and strictly optional.
func clientSignal(extra map[string]interface{}) *model.ClientSignal {
	if extra == nil {
		return nil
	}
	var (
		sig model.ClientSignal
		any bool
	)
	if v, ok := extra["clientRating"].(float64); ok {
		sig.Rating = v
		any = true
	}
	if v, ok := extra["clientHireCount"].(float64); ok {
		sig.HireCount = int(v)
		any = true
	}
	if v, ok := extra["clientVerified"].(bool); ok {
		sig.Verified = v
		any = true
	}
	if !any {
		return nil
	}
	return &sig
}
