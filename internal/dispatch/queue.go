// Package dispatch serializes bid submissions per platform: a bounded
// FIFO queue feeds one dedicated worker, which applies rate limiting,
// session acquisition and retry with backoff.
package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/AmericanPowerAI/LeaX/internal/model"
)

// Item is one accepted bid decision waiting for submission. The
// BidAttempt row already exists (PENDING) before the item is queued —
// the dedup mark and the attempt are created together.
type Item struct {
	Job       model.Job
	Amount    float64
	Score     float64
	AttemptID string
}

// ErrHalted is returned by Enqueue while the platform is halted
// awaiting operator re-auth.
var ErrHalted = errors.New("platform halted")

// Queue is one platform's bounded submission queue. FIFO within the
// platform; when full, the lowest-score item loses (newest first on
// ties), so a burst of weak listings never evicts a strong one.
type Queue struct {
	platformID string

	mu     sync.Mutex
	items  []Item
	cap    int
	halted bool
	signal chan struct{}
}

// NewQueue constructs a Queue with the given capacity.
func NewQueue(platformID string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		platformID: platformID,
		cap:        capacity,
		signal:     make(chan struct{}, 1),
	}
}

// Enqueue adds an item in FIFO position. When the queue is full the
// lowest-score item — the incoming one included — is dropped and
// reported through evict, so its attempt can be closed out.
func (q *Queue) Enqueue(item Item, evict func(dropped Item)) error {
	q.mu.Lock()
	if q.halted {
		q.mu.Unlock()
		return ErrHalted
	}

	if len(q.items) >= q.cap {
		victim := -1 // -1 = drop the incoming item
		lowest := item.Score
		for i := len(q.items) - 1; i >= 0; i-- { // newest first
			if q.items[i].Score < lowest {
				lowest = q.items[i].Score
				victim = i
			}
		}
		var dropped Item
		if victim == -1 {
			dropped = item
			q.mu.Unlock()
			log.Printf("[dispatch] Queue for %s full — dropping incoming bid %s (score %.0f)",
				q.platformID, dropped.AttemptID, dropped.Score)
			if evict != nil {
				evict(dropped)
			}
			return nil
		}
		dropped = q.items[victim]
		q.items = append(q.items[:victim], q.items[victim+1:]...)
		q.items = append(q.items, item)
		q.mu.Unlock()
		log.Printf("[dispatch] Queue for %s full — evicted bid %s (score %.0f) for %s (score %.0f)",
			q.platformID, dropped.AttemptID, dropped.Score, item.AttemptID, item.Score)
		if evict != nil {
			evict(dropped)
		}
		q.wake()
		return nil
	}

	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Dequeue blocks until an item is available or ctx is cancelled. While
// the queue is halted no items are handed out: they wait, in order,
// for Resume.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if !q.halted && len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// requeue puts an item back at the head of the queue, preserving FIFO
// order for a submission interrupted by a platform halt. Bypasses the
// halt and capacity checks: the item was already admitted once.
func (q *Queue) requeue(item Item) {
	q.mu.Lock()
	q.items = append([]Item{item}, q.items...)
	q.mu.Unlock()
	q.wake()
}

// Halt rejects further enqueues and suspends dequeues until Resume.
// Pending items stay put: they resume in order after re-auth.
func (q *Queue) Halt() {
	q.mu.Lock()
	q.halted = true
	q.mu.Unlock()
}

// Resume clears the halt.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.halted = false
	q.mu.Unlock()
	q.wake()
}

// Halted reports whether the queue is rejecting enqueues.
func (q *Queue) Halted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}

// Drain empties the queue, reporting each pending item. Used when a
// platform is disabled: items are cancelled, not failed.
func (q *Queue) Drain(fn func(Item)) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, it := range items {
		fn(it)
	}
	return len(items)
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
