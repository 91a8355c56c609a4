package dedup

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used by tests and mock mode. Not
// durable — production runs use Postgres.
type Memory struct {
	mu      sync.Mutex
	seen    map[string]string // key → owning attempt id
	counter ActiveCounter
}

// NewMemory constructs a Memory store. counter may be nil, in which
// case ActiveCount always reports zero.
func NewMemory(counter ActiveCounter) *Memory {
	return &Memory{seen: make(map[string]string), counter: counter}
}

func key(platformID, externalID string) string { return platformID + "\x00" + externalID }

// MarkSeen implements Store.
func (m *Memory) MarkSeen(ctx context.Context, platformID, externalID, attemptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(platformID, externalID)
	if _, ok := m.seen[k]; ok {
		return false, nil
	}
	m.seen[k] = attemptID
	return true, nil
}

// HasSeen implements Store.
func (m *Memory) HasSeen(ctx context.Context, platformID, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[key(platformID, externalID)]
	return ok, nil
}

// ActiveCount implements Store.
func (m *Memory) ActiveCount(ctx context.Context, platformID string) (int, error) {
	if m.counter == nil {
		return 0, nil
	}
	return m.counter.ActiveCount(ctx, platformID)
}
