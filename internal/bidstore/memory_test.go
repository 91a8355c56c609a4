package bidstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/bidstate"
	"github.com/AmericanPowerAI/LeaX/internal/bidstore"
	"github.com/AmericanPowerAI/LeaX/internal/model"
)

func newAttempt(id, platform string) *model.BidAttempt {
	return &model.BidAttempt{
		ID:         id,
		PlatformID: platform,
		ExternalID: "job-" + id,
		JobTitle:   "Fix the thing",
		Amount:     120,
		Status:     string(bidstate.StatusPending),
	}
}

func TestMemory_TransitionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := bidstore.NewMemory()

	if err := store.Create(ctx, newAttempt("a1", "upwork")); err != nil {
		t.Fatal(err)
	}

	a, err := store.Transition(ctx, "a1", bidstate.StatusSubmitted, 1, nil)
	if err != nil {
		t.Fatalf("PENDING → SUBMITTED failed: %v", err)
	}
	if a.SubmittedAt == nil {
		t.Error("SubmittedAt should be stamped on SUBMITTED")
	}

	if _, err := store.Transition(ctx, "a1", bidstate.StatusAccepted, 1, nil); err != nil {
		t.Fatalf("SUBMITTED → ACCEPTED failed: %v", err)
	}
}

// A terminal attempt never changes status again.
func TestMemory_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	store := bidstore.NewMemory()

	if err := store.Create(ctx, newAttempt("a1", "upwork")); err != nil {
		t.Fatal(err)
	}
	reason := "budget withdrawn"
	if _, err := store.Transition(ctx, "a1", bidstate.StatusFailed, 3, &reason); err != nil {
		t.Fatal(err)
	}

	for _, to := range []bidstate.Status{
		bidstate.StatusPending, bidstate.StatusSubmitted, bidstate.StatusAccepted,
	} {
		_, err := store.Transition(ctx, "a1", to, 3, nil)
		var forbidden *bidstore.ErrForbiddenTransition
		if !errors.As(err, &forbidden) {
			t.Errorf("FAILED → %s should return ErrForbiddenTransition, got %v", to, err)
		}
	}

	a, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != string(bidstate.StatusFailed) {
		t.Errorf("status changed after terminal, got %s", a.Status)
	}
}

func TestMemory_ActiveCount(t *testing.T) {
	ctx := context.Background()
	store := bidstore.NewMemory()

	for _, id := range []string{"a1", "a2", "a3"} {
		if err := store.Create(ctx, newAttempt(id, "bark")); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Create(ctx, newAttempt("b1", "angi")); err != nil {
		t.Fatal(err)
	}

	// a1 goes terminal; a2 submitted (still active); a3 stays pending.
	reason := "client rejected"
	if _, err := store.Transition(ctx, "a1", bidstate.StatusSubmitted, 1, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(ctx, "a1", bidstate.StatusRejected, 1, &reason); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(ctx, "a2", bidstate.StatusSubmitted, 1, nil); err != nil {
		t.Fatal(err)
	}

	n, err := store.ActiveCount(ctx, "bark")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("ActiveCount(bark) = %d, want 2 (a2 submitted, a3 pending)", n)
	}

	n, err = store.ActiveCount(ctx, "angi")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ActiveCount(angi) = %d, want 1", n)
	}
}

func TestMemory_ExpireStale(t *testing.T) {
	ctx := context.Background()
	store := bidstore.NewMemory()

	if err := store.Create(ctx, newAttempt("a1", "upwork")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(ctx, "a1", bidstate.StatusSubmitted, 1, nil); err != nil {
		t.Fatal(err)
	}

	// Cutoff in the future: the fresh submission qualifies as stale.
	n, err := store.ExpireStale(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ExpireStale = %d, want 1", n)
	}

	a, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != string(bidstate.StatusExpired) {
		t.Errorf("status = %s, want EXPIRED", a.Status)
	}
}

func TestMemory_ListFilter(t *testing.T) {
	ctx := context.Background()
	store := bidstore.NewMemory()

	if err := store.Create(ctx, newAttempt("a1", "upwork")); err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, newAttempt("a2", "bark")); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx, bidstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("List() = %d attempts, want 2", len(all))
	}

	barkOnly, err := store.List(ctx, bidstore.Filter{PlatformID: "bark"})
	if err != nil {
		t.Fatal(err)
	}
	if len(barkOnly) != 1 || barkOnly[0].ID != "a2" {
		t.Errorf("List(bark) = %+v, want just a2", barkOnly)
	}
}
