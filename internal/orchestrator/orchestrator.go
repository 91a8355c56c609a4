// Package orchestrator owns the lifecycle of all platform monitoring
// loops and dispatch workers, and exposes the control surface used by
// the gateway/UI layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/AmericanPowerAI/LeaX/internal/bidstate"
	"github.com/AmericanPowerAI/LeaX/internal/bidstore"
	"github.com/AmericanPowerAI/LeaX/internal/config"
	"github.com/AmericanPowerAI/LeaX/internal/dedup"
	"github.com/AmericanPowerAI/LeaX/internal/dispatch"
	"github.com/AmericanPowerAI/LeaX/internal/model"
	"github.com/AmericanPowerAI/LeaX/internal/normalize"
	"github.com/AmericanPowerAI/LeaX/internal/platform"
	"github.com/AmericanPowerAI/LeaX/internal/ratelimit"
	"github.com/AmericanPowerAI/LeaX/internal/session"
	"github.com/AmericanPowerAI/LeaX/internal/strategy"
)

const (
	maxRestarts        = 5
	restartBackoffBase = time.Second
)

// PlatformHealth is one platform's status for the control surface.
type PlatformHealth struct {
	PlatformID     string         `json:"platformId"`
	Enabled        bool           `json:"enabled"`
	Halted         bool           `json:"halted"`
	SessionStatus  string         `json:"sessionStatus"`
	QueueDepth     int            `json:"queueDepth"`
	ActiveBids     int            `json:"activeBids"`
	Restarts       int            `json:"restarts"`
	LastError      string         `json:"lastError,omitempty"`
	DisabledReason string         `json:"disabledReason,omitempty"`
	StatusCounts   map[string]int `json:"statusCounts,omitempty"`
}

type platformRuntime struct {
	id      string
	cfg     config.Platform
	adapter platform.Adapter
	queue   *dispatch.Queue
	worker  *dispatch.Worker

	mu             sync.Mutex
	enabled        bool
	cancel         context.CancelFunc
	running        sync.WaitGroup
	restarts       int
	lastError      string
	disabledReason string
}

// Orchestrator supervises one discovery loop and one dispatch worker
// per enabled platform. Platforms share nothing except the dedup
// store and session manager, both of which serialize internally.
type Orchestrator struct {
	cfg      *config.Config
	sessions *session.Manager
	dedup    dedup.Store
	attempts bidstore.Store
	limiter  *ratelimit.Limiter
	events   dispatch.EventSink
	cron     *cron.Cron

	mu        sync.Mutex
	strat     *model.Strategy
	platforms map[string]*platformRuntime

	// fingerprints maps content hashes to the first identity seen, for
	// the cross-platform repost signal. Log-only: false positives are
	// too costly to auto-merge.
	fpMu         sync.Mutex
	fingerprints map[string]string

	rootCtx context.Context
}

// New constructs an Orchestrator. Adapters are attached with Register
// before Start.
func New(cfg *config.Config, sessions *session.Manager, ded dedup.Store,
	attempts bidstore.Store, limiter *ratelimit.Limiter, events dispatch.EventSink) *Orchestrator {
	strat := cfg.Strategy
	return &Orchestrator{
		cfg:          cfg,
		sessions:     sessions,
		dedup:        ded,
		attempts:     attempts,
		limiter:      limiter,
		events:       events,
		cron:         cron.New(),
		strat:        &strat,
		platforms:    make(map[string]*platformRuntime),
		fingerprints: make(map[string]string),
	}
}

// Register attaches a platform adapter with its tunables.
func (o *Orchestrator) Register(adapter platform.Adapter, pcfg config.Platform) {
	id := adapter.ID()
	q := dispatch.NewQueue(id, pcfg.QueueSize)
	w := dispatch.NewWorker(q, adapter, o.sessions, o.limiter, o.attempts, o.events,
		pcfg.RetryCeiling, pcfg.BackoffBase.Duration)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.platforms[id] = &platformRuntime{
		id:      id,
		cfg:     pcfg,
		adapter: adapter,
		queue:   q,
		worker:  w,
	}
}

// Start launches loops for every platform enabled in config, plus the
// background sweeps. Returns after startup; tasks run until ctx ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.rootCtx = ctx

	if err := o.reconcilePending(ctx); err != nil {
		return err
	}

	if _, err := o.cron.AddFunc(o.cfg.SessionSweep, func() {
		o.sessions.RefreshExpiring(ctx)
	}); err != nil {
		return fmt.Errorf("cron session sweep: %w", err)
	}
	if _, err := o.cron.AddFunc(o.cfg.StaleSweep, func() {
		cutoff := time.Now().UTC().Add(-o.cfg.StaleAfter)
		n, err := o.attempts.ExpireStale(ctx, cutoff)
		if err != nil {
			log.Printf("[orchestrator] Stale sweep error: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[orchestrator] Stale sweep expired %d submitted bid(s)", n)
		}
	}); err != nil {
		return fmt.Errorf("cron stale sweep: %w", err)
	}
	o.cron.Start()

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, rt := range o.platforms {
		if rt.cfg.Enabled {
			o.startPlatformLocked(rt)
			log.Printf("[orchestrator] Platform %s started", id)
		} else {
			log.Printf("[orchestrator] Platform %s registered but disabled", id)
		}
	}
	return nil
}

// reconcilePending closes out PENDING attempts left behind by a
// previous process. Their queue items lived only in memory, so nobody
// will ever submit them — and because the dedup store already marked
// the jobs seen, they would otherwise hold the concurrency cap
// hostage forever.
func (o *Orchestrator) reconcilePending(ctx context.Context) error {
	orphans, err := o.attempts.List(ctx, bidstore.Filter{
		Status: string(bidstate.StatusPending),
		Limit:  100000,
	})
	if err != nil {
		return fmt.Errorf("reconcile pending attempts: %w", err)
	}
	for _, a := range orphans {
		o.closeAttempt(ctx, a.ID, strategy.SkipOrphaned)
	}
	if len(orphans) > 0 {
		log.Printf("[orchestrator] Reconciled %d orphaned pending bid(s) from a previous run", len(orphans))
	}
	return nil
}

// Stop cancels all platform tasks and waits for them to finish their
// current suspension point.
func (o *Orchestrator) Stop() {
	o.cron.Stop()
	o.mu.Lock()
	rts := make([]*platformRuntime, 0, len(o.platforms))
	for _, rt := range o.platforms {
		rts = append(rts, rt)
	}
	o.mu.Unlock()

	for _, rt := range rts {
		rt.mu.Lock()
		cancel := rt.cancel
		rt.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		rt.running.Wait()
	}
	log.Println("[orchestrator] All platform tasks stopped")
}

// startPlatformLocked spins up the discovery loop and dispatch worker.
// o.mu must be held.
func (o *Orchestrator) startPlatformLocked(rt *platformRuntime) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.enabled {
		return
	}
	ctx, cancel := context.WithCancel(o.rootCtx)
	rt.enabled = true
	rt.cancel = cancel
	rt.restarts = 0
	rt.disabledReason = ""
	rt.queue.Resume()

	rt.running.Add(2)
	go func() {
		defer rt.running.Done()
		rt.worker.Run(ctx)
	}()
	go func() {
		defer rt.running.Done()
		o.superviseDiscovery(ctx, rt)
	}()
}

// superviseDiscovery restarts a crashed discovery loop with backoff up
// to the restart ceiling, then disables the platform and reports it.
func (o *Orchestrator) superviseDiscovery(ctx context.Context, rt *platformRuntime) {
	for {
		err := o.runDiscovery(ctx, rt)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		rt.mu.Lock()
		rt.lastError = err.Error()
		rt.restarts++
		restarts := rt.restarts
		rt.mu.Unlock()

		if platform.IsIncompatible(err) {
			log.Printf("[orchestrator] ALERT adapter for %s incompatible: %v — platform disabled", rt.id, err)
			o.disableWithReason(rt, "adapter incompatible: "+err.Error())
			return
		}
		if restarts > maxRestarts {
			log.Printf("[orchestrator] Platform %s exceeded %d restarts — disabled (last error: %v)",
				rt.id, maxRestarts, err)
			o.disableWithReason(rt, "restart ceiling exceeded: "+err.Error())
			return
		}

		backoff := restartBackoffBase << (restarts - 1)
		log.Printf("[orchestrator] Discovery loop for %s crashed (%v) — restart %d/%d in %s",
			rt.id, err, restarts, maxRestarts, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// runDiscovery is one platform's monitoring loop: poll → normalize →
// dedup-filter → evaluate → enqueue, every poll interval. Returns nil
// only on cancellation; an error means the loop needs supervision.
func (o *Orchestrator) runDiscovery(ctx context.Context, rt *platformRuntime) error {
	ticker := time.NewTicker(rt.cfg.PollInterval.Duration)
	defer ticker.Stop()

	// First poll immediately, so a bid can go out seconds after start.
	if err := o.pollOnce(ctx, rt); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.pollOnce(ctx, rt); err != nil {
				return err
			}
		}
	}
}

// pollOnce executes one discovery cycle. Transient adapter failures
// are logged and swallowed (next tick retries); incompatibility and
// store failures propagate to the supervisor — never bid without a
// confirmed dedup check.
func (o *Orchestrator) pollOnce(ctx context.Context, rt *platformRuntime) error {
	sess, err := o.sessions.Acquire(ctx, rt.id)
	if err != nil {
		if errors.Is(err, session.ErrSessionInvalid) {
			log.Printf("[discovery] %s session unavailable: %v — loop idle until re-auth", rt.id, err)
			return nil // stay alive; re-auth resumes us
		}
		log.Printf("[discovery] %s session error: %v — will retry next tick", rt.id, err)
		return nil
	}

	listings, err := rt.adapter.Discover(ctx, sess)
	if err != nil {
		if platform.IsIncompatible(err) {
			return err
		}
		log.Printf("[discovery] %s poll error: %v — will retry next tick", rt.id, err)
		return nil
	}

	var queued, skipped, dupes int
	for _, raw := range listings {
		outcome, err := o.processListing(ctx, rt, raw)
		if err != nil {
			return err // dedup/attempt store failure: fail closed
		}
		switch outcome {
		case outcomeQueued:
			queued++
		case outcomeSkipped:
			skipped++
		case outcomeDuplicate:
			dupes++
		}
	}
	if queued > 0 || skipped > 0 {
		log.Printf("[discovery] %s cycle done — queued=%d skipped=%d duplicates=%d of %d listing(s)",
			rt.id, queued, skipped, dupes, len(listings))
	}
	return nil
}

type listingOutcome int

const (
	outcomeQueued listingOutcome = iota
	outcomeSkipped
	outcomeDuplicate
)

// processListing runs one listing through normalize → dedup →
// evaluate → enqueue.
func (o *Orchestrator) processListing(ctx context.Context, rt *platformRuntime, raw platform.RawListing) (listingOutcome, error) {
	job, err := normalize.Normalize(rt.id, raw)
	if err != nil {
		slog.Warn("listing dropped by normalizer", "platform", rt.id, "err", err)
		return outcomeSkipped, nil
	}

	seen, err := o.dedup.HasSeen(ctx, job.PlatformID, job.ExternalID)
	if err != nil {
		return 0, fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		return outcomeDuplicate, nil
	}

	o.noteFingerprint(job)

	strat := o.Strategy()
	active, err := o.dedup.ActiveCount(ctx, job.PlatformID)
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}

	decision := strategy.Evaluate(job, strat, active)
	if !decision.Bid {
		// Record the evaluation so the next cycle skips it cheaply.
		if _, err := o.dedup.MarkSeen(ctx, job.PlatformID, job.ExternalID, ""); err != nil {
			return 0, fmt.Errorf("dedup mark: %w", err)
		}
		slog.Info("skip", "platform", job.PlatformID, "job", job.ExternalID,
			"reason", decision.SkipReason, "strategyVersion", decision.StrategyVersion)
		return outcomeSkipped, nil
	}

	attemptID := uuid.NewString()
	first, err := o.dedup.MarkSeen(ctx, job.PlatformID, job.ExternalID, attemptID)
	if err != nil {
		return 0, fmt.Errorf("dedup mark: %w", err)
	}
	if !first {
		// Another cycle won the check-and-set between HasSeen and here.
		return outcomeDuplicate, nil
	}

	attempt := &model.BidAttempt{
		ID:              attemptID,
		PlatformID:      job.PlatformID,
		ExternalID:      job.ExternalID,
		JobTitle:        job.Title,
		StrategyVersion: decision.StrategyVersion,
		Amount:          decision.Amount,
		Status:          string(bidstate.StatusPending),
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		return 0, fmt.Errorf("create attempt: %w", err)
	}

	item := dispatch.Item{Job: job, Amount: decision.Amount, Score: decision.Score, AttemptID: attemptID}
	err = rt.queue.Enqueue(item, func(dropped dispatch.Item) {
		o.closeAttempt(ctx, dropped.AttemptID, strategy.SkipQueueFull)
	})
	if err != nil {
		// Platform halted between evaluation and enqueue.
		o.closeAttempt(ctx, attemptID, strategy.SkipPlatformHalted)
		return outcomeSkipped, nil
	}
	return outcomeQueued, nil
}

// closeAttempt marks a never-submitted attempt skipped.
func (o *Orchestrator) closeAttempt(ctx context.Context, attemptID, reason string) {
	r := reason
	a, err := o.attempts.Transition(ctx, attemptID, bidstate.StatusSkipped, 0, &r)
	if err != nil {
		log.Printf("[orchestrator] Close attempt %s (%s): %v", attemptID, reason, err)
		return
	}
	if o.events != nil {
		o.events.TerminalTransition(ctx, *a)
	}
}

// noteFingerprint logs when identical content shows up under a second
// identity — a likely cross-post or repost. Signal only.
func (o *Orchestrator) noteFingerprint(job model.Job) {
	identity := job.PlatformID + "/" + job.ExternalID
	o.fpMu.Lock()
	prev, ok := o.fingerprints[job.RawFingerprint]
	if !ok {
		o.fingerprints[job.RawFingerprint] = identity
	}
	o.fpMu.Unlock()
	if ok && prev != identity {
		slog.Warn("fingerprint collision — possible cross-posted job",
			"first", prev, "second", identity)
	}
}

// disableWithReason is the supervisor-side disable: tasks are already
// dead or dying, so only state and the queue need attention.
func (o *Orchestrator) disableWithReason(rt *platformRuntime, reason string) {
	rt.mu.Lock()
	rt.enabled = false
	rt.disabledReason = reason
	cancel := rt.cancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.drainAsSkipped(rt)
}

func (o *Orchestrator) drainAsSkipped(rt *platformRuntime) {
	ctx := context.Background()
	n := rt.queue.Drain(func(it dispatch.Item) {
		o.closeAttempt(ctx, it.AttemptID, strategy.SkipDisabled)
	})
	if n > 0 {
		log.Printf("[orchestrator] Cancelled %d pending bid(s) for %s", n, rt.id)
	}
}

// ─── Control surface ─────────────────────────────────────────────────────────

// ErrUnknownPlatform is returned for control calls naming an
// unregistered platform.
var ErrUnknownPlatform = errors.New("unknown platform")

func (o *Orchestrator) runtime(platformID string) (*platformRuntime, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.platforms[platformID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platformID)
	}
	return rt, nil
}

// Enable starts a platform's tasks.
func (o *Orchestrator) Enable(platformID string) error {
	rt, err := o.runtime(platformID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.startPlatformLocked(rt)
	o.mu.Unlock()
	log.Printf("[orchestrator] Platform %s enabled", platformID)
	return nil
}

// Disable stops a platform's tasks at their next suspension point and
// cancels its pending queue items (skipped, not failed). In-flight
// submissions finish first.
func (o *Orchestrator) Disable(platformID string) error {
	rt, err := o.runtime(platformID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	rt.enabled = false
	rt.disabledReason = "disabled by operator"
	cancel := rt.cancel
	rt.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	rt.running.Wait()
	o.drainAsSkipped(rt)
	log.Printf("[orchestrator] Platform %s disabled", platformID)
	return nil
}

// Reauthenticate performs the operator re-auth for a halted platform
// and resumes its dispatch queue on success.
func (o *Orchestrator) Reauthenticate(ctx context.Context, platformID string) error {
	rt, err := o.runtime(platformID)
	if err != nil {
		return err
	}
	if err := o.sessions.Reauthenticate(ctx, platformID); err != nil {
		return err
	}
	rt.queue.Resume()
	log.Printf("[orchestrator] Platform %s re-authenticated — dispatch resumed", platformID)
	return nil
}

// Strategy returns the active strategy snapshot.
func (o *Orchestrator) Strategy() *model.Strategy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.strat
}

// UpdateStrategy hot-swaps the bidding strategy. The version always
// moves forward; decisions already in flight keep the version they
// were evaluated with.
func (o *Orchestrator) UpdateStrategy(s model.Strategy) model.Strategy {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.Version <= o.strat.Version {
		s.Version = o.strat.Version + 1
	}
	o.strat = &s
	log.Printf("[orchestrator] Strategy updated to version %d", s.Version)
	return s
}

// ListBidAttempts exposes the attempt history to the UI layer.
func (o *Orchestrator) ListBidAttempts(ctx context.Context, f bidstore.Filter) ([]model.BidAttempt, error) {
	return o.attempts.List(ctx, f)
}

// Health reports per-platform status for the control surface.
func (o *Orchestrator) Health(ctx context.Context) []PlatformHealth {
	o.mu.Lock()
	rts := make([]*platformRuntime, 0, len(o.platforms))
	for _, rt := range o.platforms {
		rts = append(rts, rt)
	}
	o.mu.Unlock()

	out := make([]PlatformHealth, 0, len(rts))
	for _, rt := range rts {
		rt.mu.Lock()
		h := PlatformHealth{
			PlatformID:     rt.id,
			Enabled:        rt.enabled,
			Halted:         rt.queue.Halted(),
			SessionStatus:  string(o.sessions.Status(rt.id)),
			QueueDepth:     rt.queue.Len(),
			Restarts:       rt.restarts,
			LastError:      rt.lastError,
			DisabledReason: rt.disabledReason,
		}
		rt.mu.Unlock()

		if n, err := o.attempts.ActiveCount(ctx, rt.id); err == nil {
			h.ActiveBids = n
		}
		if counts, err := o.attempts.StatusCounts(ctx, rt.id); err == nil {
			h.StatusCounts = counts
		}
		out = append(out, h)
	}
	return out
}
