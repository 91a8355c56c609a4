package bidstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AmericanPowerAI/LeaX/internal/bidstate"
	"github.com/AmericanPowerAI/LeaX/internal/model"
)

// Memory is an in-memory Store for tests and mock mode. It enforces
// the same transition rules as the Postgres store.
type Memory struct {
	mu       sync.Mutex
	attempts map[string]*model.BidAttempt
	order    []string // creation order, for List
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{attempts: make(map[string]*model.BidAttempt)}
}

// Create implements Store.
func (m *Memory) Create(ctx context.Context, a *model.BidAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	m.attempts[a.ID] = &cp
	m.order = append(m.order, a.ID)
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, id string) (*model.BidAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context, f Filter) ([]model.BidAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.BidAttempt, 0)
	for _, id := range m.order {
		a := m.attempts[id]
		if f.PlatformID != "" && a.PlatformID != f.PlatformID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Transition implements Store.
func (m *Memory) Transition(ctx context.Context, id string, to bidstate.Status, attemptCount int, lastErr *string) (*model.BidAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := checkTransition(a.Status, to); err != nil {
		return nil, err
	}
	a.Status = string(to)
	a.AttemptCount = attemptCount
	a.LastError = lastErr
	if to == bidstate.StatusSubmitted {
		now := time.Now().UTC()
		a.SubmittedAt = &now
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

// ActiveCount implements Store.
func (m *Memory) ActiveCount(ctx context.Context, platformID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.PlatformID != platformID {
			continue
		}
		st, err := bidstate.ParseStatus(a.Status)
		if err != nil {
			continue
		}
		if !bidstate.IsTerminal(st) {
			n++
		}
	}
	return n, nil
}

// StatusCounts implements Store.
func (m *Memory) StatusCounts(ctx context.Context, platformID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range m.attempts {
		if platformID != "" && a.PlatformID != platformID {
			continue
		}
		counts[a.Status]++
	}
	return counts, nil
}

// ExpireStale implements Store.
func (m *Memory) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.attempts {
		if a.Status == string(bidstate.StatusSubmitted) && a.SubmittedAt != nil && a.SubmittedAt.Before(cutoff) {
			a.Status = string(bidstate.StatusExpired)
			a.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}
