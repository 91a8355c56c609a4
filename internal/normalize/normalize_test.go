package normalize_test

import (
	"testing"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/normalize"
	"github.com/AmericanPowerAI/LeaX/internal/platform"
)

func sampleListing() platform.RawListing {
	return platform.RawListing{
		ExternalID:  "job-123",
		Title:       "  Install ceiling fans  ",
		Description: "Three fans, existing wiring.",
		Category:    "electrical",
		BudgetMin:   100,
		BudgetMax:   250,
		Currency:    "USD",
		PostedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalize_Basic(t *testing.T) {
	job, err := normalize.Normalize("thumbtack", sampleListing())
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if job.PlatformID != "thumbtack" || job.ExternalID != "job-123" {
		t.Errorf("identity = (%s, %s), want (thumbtack, job-123)", job.PlatformID, job.ExternalID)
	}
	if job.Title != "Install ceiling fans" {
		t.Errorf("Title = %q, want trimmed", job.Title)
	}
	if job.Budget.Min != 100 || job.Budget.Max != 250 || job.Budget.Currency != "USD" {
		t.Errorf("Budget = %+v, want {100 250 USD}", job.Budget)
	}
	if job.RawFingerprint == "" {
		t.Error("RawFingerprint must be set")
	}
}

func TestNormalize_MissingIdentity(t *testing.T) {
	raw := sampleListing()
	raw.ExternalID = ""
	if _, err := normalize.Normalize("bark", raw); err == nil {
		t.Error("Normalize should reject a listing without external id")
	}

	raw = sampleListing()
	raw.Title = ""
	if _, err := normalize.Normalize("bark", raw); err == nil {
		t.Error("Normalize should reject a listing without title")
	}
}

// Same content must fingerprint identically regardless of case,
// surrounding whitespace, or which platform it came from.
func TestFingerprint_ContentOnly(t *testing.T) {
	b := model.BudgetRange{Min: 100, Max: 250}
	a := normalize.Fingerprint("Install ceiling fans", "Three fans.", b)
	c := normalize.Fingerprint("  INSTALL CEILING FANS ", "Three fans.", b)
	if a != c {
		t.Error("fingerprint should ignore case and surrounding whitespace")
	}

	d := normalize.Fingerprint("Install ceiling fans", "Three fans.", model.BudgetRange{Min: 100, Max: 300})
	if a == d {
		t.Error("fingerprint should change when budget changes")
	}
}

func TestFingerprint_CrossPlatformRepost(t *testing.T) {
	raw := sampleListing()
	j1, err := normalize.Normalize("thumbtack", raw)
	if err != nil {
		t.Fatal(err)
	}
	raw.ExternalID = "other-456" // reposted under a new id elsewhere
	j2, err := normalize.Normalize("angi", raw)
	if err != nil {
		t.Fatal(err)
	}
	if j1.RawFingerprint != j2.RawFingerprint {
		t.Error("identical content must fingerprint equal across platforms")
	}
}

func TestNormalize_ClientSignal(t *testing.T) {
	raw := sampleListing()
	raw.Extra = map[string]interface{}{
		"clientRating":    4.5,
		"clientHireCount": float64(12),
		"clientVerified":  true,
	}
	job, err := normalize.Normalize("upwork", raw)
	if err != nil {
		t.Fatal(err)
	}
	if job.Client == nil {
		t.Fatal("Client signal should be populated")
	}
	if job.Client.Rating != 4.5 || job.Client.HireCount != 12 || !job.Client.Verified {
		t.Errorf("Client = %+v", *job.Client)
	}

	raw.Extra = nil
	job, err = normalize.Normalize("upwork", raw)
	if err != nil {
		t.Fatal(err)
	}
	if job.Client != nil {
		t.Error("Client signal should be nil when the platform sends none")
	}
}
