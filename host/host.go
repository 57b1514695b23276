package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ratchetlabs/ratchet/exec"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
)

// Host drives run execution against a store: it claims due runs and
// resumes them on a bounded worker pool, heartbeats the claims it
// holds, requeues stale runs abandoned by dead hosts, and sweeps
// terminal runs past their retention window. Many hosts may share one
// store; the claim CAS keeps them from stepping on each other.
type Host struct {
	runs   run.Store
	ledger ledger.Store
	runner *exec.Runner
	logger *slog.Logger

	workerID          id.WorkerID
	concurrency       int
	pollInterval      time.Duration
	claimBatch        int
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	retention         time.Duration
	sweepInterval     time.Duration
	limits            *Limits

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	activeMu sync.Mutex
	active   map[string]activeAttempt
}

// activeAttempt is a claimed run currently executing on this host.
type activeAttempt struct {
	runID  id.RunID
	cancel context.CancelFunc
}

// Option configures a Host.
type Option func(*Host)

// WithConcurrency sets the maximum number of attempts executed
// concurrently.
func WithConcurrency(n int) Option {
	return func(h *Host) { h.concurrency = n }
}

// WithPollInterval sets how often the host looks for due runs.
func WithPollInterval(d time.Duration) Option {
	return func(h *Host) { h.pollInterval = d }
}

// WithClaimBatch sets the maximum number of due runs claimed per poll.
func WithClaimBatch(n int) Option {
	return func(h *Host) { h.claimBatch = n }
}

// WithHeartbeatInterval sets how often the host refreshes the claims
// of executing attempts. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Host) { h.heartbeatInterval = d }
}

// WithStaleAfter sets how long a run may sit in the running state
// without a store update before the reaper requeues it. A zero value
// disables the reaper.
func WithStaleAfter(d time.Duration) Option {
	return func(h *Host) { h.staleAfter = d }
}

// WithRetention sets how long terminal runs and their ledgers are kept
// before the sweeper purges them. A zero value disables sweeping.
func WithRetention(d time.Duration) Option {
	return func(h *Host) { h.retention = d }
}

// WithSweepInterval sets how often the sweeper looks for purgable runs.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Host) { h.sweepInterval = d }
}

// WithLimits sets per-handler rate and concurrency caps.
func WithLimits(l *Limits) Option {
	return func(h *Host) { h.limits = l }
}

// NewHost creates a host. It does nothing until Start is called.
func NewHost(
	runs run.Store,
	ledgerStore ledger.Store,
	runner *exec.Runner,
	logger *slog.Logger,
	opts ...Option,
) *Host {
	h := &Host{
		runs:              runs,
		ledger:            ledgerStore,
		runner:            runner,
		logger:            logger,
		workerID:          id.NewWorkerID(),
		concurrency:       10,
		pollInterval:      time.Second,
		claimBatch:        32,
		heartbeatInterval: time.Minute,
		staleAfter:        5 * time.Minute,
		retention:         24 * time.Hour,
		sweepInterval:     time.Minute,
		active:            make(map[string]activeAttempt),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WorkerID returns the host's unique worker identifier.
func (h *Host) WorkerID() id.WorkerID { return h.workerID }

// Active returns the number of attempts currently executing.
func (h *Host) Active() int {
	h.activeMu.Lock()
	defer h.activeMu.Unlock()
	return len(h.active)
}

// Start launches the host loops. It returns immediately.
func (h *Host) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}
	h.running = true

	loopCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	h.logger.Info("host starting",
		slog.String("worker_id", h.workerID.String()),
		slog.Int("concurrency", h.concurrency),
		slog.Duration("poll_interval", h.pollInterval),
	)

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { h.claimLoop(gctx); return nil })
	if h.heartbeatInterval > 0 {
		g.Go(func() error { h.heartbeatLoop(gctx); return nil })
	}
	if h.staleAfter > 0 {
		g.Go(func() error { h.reapLoop(gctx); return nil })
	}
	if h.retention > 0 && h.sweepInterval > 0 {
		g.Go(func() error { h.sweepLoop(gctx); return nil })
	}

	done := h.done
	go func() {
		_ = g.Wait() // loops only return nil
		close(done)
	}()

	return nil
}

// Stop halts the loops and waits for in-flight attempts to finish. If
// ctx expires first, the remaining attempts' contexts are cancelled;
// their runs stay claimed and are replayed after StaleAfter by
// whichever host reaps them.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	h.logger.Info("host stopping", slog.String("worker_id", h.workerID.String()))
	cancel()

	select {
	case <-done:
		h.logger.Info("host stopped gracefully")
	case <-ctx.Done():
		h.logger.Warn("host shutdown timed out, cancelling active attempts")
		h.cancelActive()
		<-done
	}
	return nil
}

// ──────────────────────────────────────────────────
// Claim loop
// ──────────────────────────────────────────────────

func (h *Host) claimLoop(ctx context.Context) {
	workers := new(errgroup.Group)
	workers.SetLimit(h.concurrency)
	defer func() { _ = workers.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Claim no more than the free worker slots, so dispatch below
		// never blocks and claimed runs never wait behind a full pool.
		batch := h.concurrency - h.Active()
		if batch <= 0 {
			h.sleep(ctx)
			continue
		}
		if batch > h.claimBatch {
			batch = h.claimBatch
		}

		claimed, err := h.runs.ClaimDueRuns(ctx, time.Now().UTC(), batch, h.workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Error("claim due runs failed", slog.String("error", err.Error()))
			h.sleep(ctx)
			continue
		}
		if len(claimed) == 0 {
			h.sleep(ctx)
			continue
		}

		for _, rn := range claimed {
			runCtx, runCancel := context.WithCancel(context.Background())
			h.track(rn.ID, runCancel)
			rn := rn
			workers.Go(func() error {
				defer runCancel()
				defer h.untrack(rn.ID)
				h.executeOne(runCtx, rn)
				return nil
			})
		}
	}
}

// executeOne resumes a single claimed run. The attempt context is
// independent of the loop context: shutdown stops claiming first and
// lets in-flight attempts drain.
func (h *Host) executeOne(ctx context.Context, rn *run.Run) {
	if h.limits != nil {
		if !h.limits.Acquire(rn.Handler) {
			h.releaseClaim(rn)
			return
		}
		defer h.limits.Release(rn.Handler)
	}

	h.logger.Debug("resuming run",
		slog.String("run_id", rn.ID.String()),
		slog.String("handler", rn.Handler),
		slog.Int("attempt", rn.Attempt),
	)

	if err := h.runner.Resume(ctx, rn.ID); err != nil {
		h.logger.Error("resume failed",
			slog.String("run_id", rn.ID.String()),
			slog.String("handler", rn.Handler),
			slog.String("error", err.Error()),
		)
	}
}

// releaseClaim puts a rate-limited run back to sleep for one poll
// interval without burning an attempt.
func (h *Host) releaseClaim(rn *run.Run) {
	wake := time.Now().UTC().Add(h.pollInterval)
	rn.State = run.StateSleeping
	rn.WakeAt = &wake
	rn.ClaimedBy = id.Nil
	rn.Attempt--
	if err := h.runs.UpdateRun(context.Background(), rn); err != nil {
		h.logger.Error("failed to release rate-limited run",
			slog.String("run_id", rn.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Heartbeats
// ──────────────────────────────────────────────────

func (h *Host) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sendHeartbeats(ctx)
		}
	}
}

func (h *Host) sendHeartbeats(ctx context.Context) {
	h.activeMu.Lock()
	ids := make([]id.RunID, 0, len(h.active))
	for _, a := range h.active {
		ids = append(ids, a.runID)
	}
	h.activeMu.Unlock()

	for _, runID := range ids {
		if err := h.runs.TouchRun(ctx, runID, h.workerID); err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("heartbeat failed",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ──────────────────────────────────────────────────
// Stale-run reaper
// ──────────────────────────────────────────────────

func (h *Host) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(h.staleAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reapStale(ctx)
		}
	}
}

func (h *Host) reapStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-h.staleAfter)
	n, err := h.runs.RequeueStaleRuns(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Error("requeue stale runs failed", slog.String("error", err.Error()))
		}
		return
	}
	if n > 0 {
		h.logger.Info("requeued stale runs", slog.Int("count", n))
	}
}

// ──────────────────────────────────────────────────
// Retention sweeper
// ──────────────────────────────────────────────────

func (h *Host) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepExpired(ctx)
		}
	}
}

func (h *Host) sweepExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-h.retention)
	expired, err := h.runs.ListRuns(ctx, run.ListOpts{
		CompletedBefore: cutoff,
		Limit:           h.claimBatch,
	})
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Error("list expired runs failed", slog.String("error", err.Error()))
		}
		return
	}

	swept := 0
	for _, rn := range expired {
		// Ledger first: if the run were deleted first and the purge
		// failed, the next sweep could no longer find the orphaned
		// records. PurgeRun is idempotent, so a failed delete retries
		// both halves cleanly.
		if err := h.ledger.PurgeRun(ctx, rn.ID); err != nil {
			h.logger.Error("purge expired ledger failed",
				slog.String("run_id", rn.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := h.runs.DeleteRun(ctx, rn.ID); err != nil {
			h.logger.Error("delete expired run failed",
				slog.String("run_id", rn.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		swept++
	}
	if swept > 0 {
		h.logger.Info("swept expired runs", slog.Int("count", swept))
	}
}

// ──────────────────────────────────────────────────
// Bookkeeping
// ──────────────────────────────────────────────────

func (h *Host) sleep(ctx context.Context) {
	select {
	case <-time.After(h.pollInterval):
	case <-ctx.Done():
	}
}

func (h *Host) track(runID id.RunID, cancel context.CancelFunc) {
	h.activeMu.Lock()
	h.active[runID.String()] = activeAttempt{runID: runID, cancel: cancel}
	h.activeMu.Unlock()
}

func (h *Host) untrack(runID id.RunID) {
	h.activeMu.Lock()
	delete(h.active, runID.String())
	h.activeMu.Unlock()
}

func (h *Host) cancelActive() {
	h.activeMu.Lock()
	defer h.activeMu.Unlock()
	for key, a := range h.active {
		h.logger.Warn("cancelling active attempt", slog.String("run_id", key))
		a.cancel()
	}
}
