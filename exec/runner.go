package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/middleware"
	"github.com/ratchetlabs/ratchet/run"
)

// RunEmitter emits run-level lifecycle events. ext.Registry satisfies
// it directly; the interface lives here so exec stays decoupled from
// the extension system.
type RunEmitter interface {
	StepEmitter
	EmitRunStarted(ctx context.Context, r *run.Run)
	EmitRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, r *run.Run, err error)
	EmitRunCancelled(ctx context.Context, r *run.Run)
	EmitRunSuspended(ctx context.Context, r *run.Run, wakeAt time.Time)
	EmitRunResumed(ctx context.Context, r *run.Run)
}

// Runner orchestrates run execution: creating runs, building the
// Execution context, invoking handlers, and finalizing state when an
// attempt returns.
type Runner struct {
	registry *Registry
	runs     run.Store
	ledger   ledger.Store
	emitter  RunEmitter
	logger   *slog.Logger

	mw          middleware.Middleware
	sink        Sink
	stepTimeout time.Duration
}

// NewRunner creates a run runner.
func NewRunner(
	registry *Registry,
	runs run.Store,
	ledgerStore ledger.Store,
	emitter RunEmitter,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		registry: registry,
		runs:     runs,
		ledger:   ledgerStore,
		emitter:  emitter,
		logger:   logger,
	}
}

// Registry returns the handler registry.
func (r *Runner) Registry() *Registry { return r.registry }

// SetMiddleware installs the middleware chain applied to live steps.
func (r *Runner) SetMiddleware(mw middleware.Middleware) { r.mw = mw }

// SetProgressSink installs a sink for handler progress updates.
func (r *Runner) SetProgressSink(s Sink) { r.sink = s }

// SetStepTimeout sets the per-step execution cap applied to live steps.
func (r *Runner) SetStepTimeout(d time.Duration) { r.stepTimeout = d }

// Start starts a new run with a typed input. The input is JSON-marshaled
// and stored on the Run.
func Start[T any](ctx context.Context, runner *Runner, handler string, input T) (*run.Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for handler %q: %w", handler, err)
	}

	return runner.StartRaw(ctx, handler, data)
}

// StartRaw starts a run with pre-serialized JSON input. The run is
// stamped with the latest registered version of the handler and its
// first attempt executes on the calling goroutine: a handler that never
// suspends completes before StartRaw returns, while one that parks on a
// timer returns in the sleeping state for the host to wake later.
func (r *Runner) StartRaw(ctx context.Context, handler string, input []byte) (*run.Run, error) {
	runner, ok := r.registry.Get(handler)
	if !ok {
		return nil, fmt.Errorf("handler %q: %w", handler, ratchet.ErrHandlerNotFound)
	}

	now := time.Now().UTC()
	rn := &run.Run{
		Entity:    ratchet.NewEntity(),
		ID:        id.NewRunID(),
		Handler:   handler,
		Version:   r.registry.LatestVersion(handler),
		State:     run.StateRunning,
		Input:     input,
		Attempt:   1,
		StartedAt: now,
	}

	if err := r.runs.CreateRun(ctx, rn); err != nil {
		return nil, fmt.Errorf("create run for handler %q: %w", handler, err)
	}

	r.emitter.EmitRunStarted(ctx, rn)

	r.executeRun(ctx, rn, runner)

	return rn, nil
}

// EnqueueRaw creates a run parked due immediately, without executing an
// attempt on the calling goroutine. The host's claim loop picks it up
// like any other due run. Cron fires use this path so a slow first
// attempt cannot stall the scheduler's tick loop.
func (r *Runner) EnqueueRaw(ctx context.Context, handler string, input []byte) (*run.Run, error) {
	if _, ok := r.registry.Get(handler); !ok {
		return nil, fmt.Errorf("handler %q: %w", handler, ratchet.ErrHandlerNotFound)
	}

	now := time.Now().UTC()
	rn := &run.Run{
		Entity:    ratchet.NewEntity(),
		ID:        id.NewRunID(),
		Handler:   handler,
		Version:   r.registry.LatestVersion(handler),
		State:     run.StateSleeping,
		Input:     input,
		WakeAt:    &now,
		StartedAt: now,
	}

	if err := r.runs.CreateRun(ctx, rn); err != nil {
		return nil, fmt.Errorf("create run for handler %q: %w", handler, err)
	}
	return rn, nil
}

// Resume executes the next attempt of a claimed run. The caller (the
// host's claim loop) must already have transitioned the run to the
// running state via ClaimDueRuns; Resume rejects runs in any other
// state. The handler replays from the top, fast-forwarding through the
// ledger, and continues live past the replay boundary.
func (r *Runner) Resume(ctx context.Context, runID id.RunID) error {
	rn, err := r.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if rn.State != run.StateRunning {
		return fmt.Errorf("run %s is in state %q, not running: %w", runID, rn.State, ratchet.ErrInvalidState)
	}

	// Version-aware lookup so in-flight runs replay against the version
	// that recorded their ledger.
	runner, ok := r.registry.GetVersion(rn.Handler, rn.Version)
	if !ok {
		return fmt.Errorf("handler %q version %d (run %s): %w", rn.Handler, rn.Version, runID, ratchet.ErrHandlerNotFound)
	}

	// A claimed run on its first attempt was enqueued, never started
	// inline, so this is the moment its lifecycle begins.
	if rn.Attempt <= 1 {
		r.emitter.EmitRunStarted(ctx, rn)
	} else {
		r.emitter.EmitRunResumed(ctx, rn)
	}

	r.executeRun(ctx, rn, runner)
	return nil
}

// executeRun invokes the handler for one attempt and finalizes the run
// according to how the attempt ended: completed, suspended on a timer,
// cancelled, abandoned to a concurrent attempt, or failed.
func (r *Runner) executeRun(ctx context.Context, rn *run.Run, runner RunnerFunc) {
	start := time.Now()

	ex := NewExecution(ctx, rn, r.runs, r.ledger, r.emitter, r.logger)
	ex.SetMiddleware(r.mw)
	ex.SetProgressSink(r.sink)
	ex.SetStepTimeout(r.stepTimeout)

	output, err := runner(ex, rn.Input)
	elapsed := time.Since(start)

	if err == nil {
		// A handler that returns success while recorded steps remain
		// unvisited diverged from the attempt that wrote them.
		if rem, posErr := ex.unvisited(); posErr != nil {
			err = posErr
		} else if rem > 0 {
			err = &DeterminismError{RunID: rn.ID, Index: ex.cur.next,
				Detail: fmt.Sprintf("handler returned with %d recorded steps unvisited", rem)}
		}
	}

	now := time.Now().UTC()

	switch {
	case err == nil:
		rn.State = run.StateCompleted
		rn.Output = output
		rn.Error = ""
		rn.WakeAt = nil
		rn.ClaimedBy = id.Nil
		rn.CompletedAt = &now
		if updateErr := r.runs.UpdateRun(ctx, rn); updateErr != nil {
			r.logger.Error("failed to update run as completed",
				slog.String("run_id", rn.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
		r.emitter.EmitRunCompleted(ctx, rn, elapsed)

	case IsSuspension(err):
		s, _ := AsSuspension(err)
		rn.State = run.StateSleeping
		rn.WakeAt = &s.WakeAt
		rn.ClaimedBy = id.Nil
		if updateErr := r.runs.UpdateRun(ctx, rn); updateErr != nil {
			r.logger.Error("failed to park suspended run",
				slog.String("run_id", rn.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
		r.logger.Debug("run suspended",
			slog.String("run_id", rn.ID.String()),
			slog.String("handler", rn.Handler),
			slog.Time("wake_at", s.WakeAt),
		)
		r.emitter.EmitRunSuspended(ctx, rn, s.WakeAt)

	case errors.Is(err, ratchet.ErrRunCancelled):
		// The store already holds the cancelled state; refresh the
		// caller's copy and leave it untouched.
		if fresh, getErr := r.runs.GetRun(ctx, rn.ID); getErr == nil {
			*rn = *fresh
		}
		r.logger.Info("run cancelled during execution",
			slog.String("run_id", rn.ID.String()),
			slog.String("handler", rn.Handler),
		)
		r.emitter.EmitRunCancelled(ctx, rn)

	case errors.Is(err, ratchet.ErrDuplicateStep):
		// Another attempt won the ledger race and owns this run now.
		// Do not finalize state on its behalf.
		r.logger.Error("attempt abandoned after losing step ledger race",
			slog.String("run_id", rn.ID.String()),
			slog.String("handler", rn.Handler),
			slog.Int("attempt", rn.Attempt),
			slog.String("error", err.Error()),
		)

	case ctx.Err() != nil:
		// The attempt's context ended before the run finished, so the
		// error says nothing about the run itself. Leave its state
		// alone; the reaper or the next host start replays it.
		r.logger.Warn("attempt abandoned: context ended",
			slog.String("run_id", rn.ID.String()),
			slog.String("handler", rn.Handler),
			slog.Int("attempt", rn.Attempt),
			slog.String("error", err.Error()),
		)

	default:
		rn.State = run.StateFailed
		rn.Error = err.Error()
		rn.WakeAt = nil
		rn.ClaimedBy = id.Nil
		rn.CompletedAt = &now
		if updateErr := r.runs.UpdateRun(ctx, rn); updateErr != nil {
			r.logger.Error("failed to update run as failed",
				slog.String("run_id", rn.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
		r.emitter.EmitRunFailed(ctx, rn, err)
	}
}

// MigrateRun moves a sleeping run to a different registered version of
// its handler. The run replays on the new version at its next wake, so
// the new version's step sequence must be prefix-compatible with the
// ledger the old version wrote.
func (r *Runner) MigrateRun(ctx context.Context, runID id.RunID, toVersion int) error {
	rn, err := r.runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if rn.State != run.StateSleeping {
		return fmt.Errorf("run %s is in state %q, not sleeping: %w", runID, rn.State, ratchet.ErrNotSuspended)
	}

	if _, ok := r.registry.GetVersion(rn.Handler, toVersion); !ok {
		return fmt.Errorf("handler %q version %d: %w", rn.Handler, toVersion, ratchet.ErrHandlerNotFound)
	}

	rn.Version = toVersion
	if err := r.runs.UpdateRun(ctx, rn); err != nil {
		return fmt.Errorf("update run %s version to %d: %w", runID, toVersion, err)
	}

	r.logger.Info("run migrated",
		slog.String("run_id", runID.String()),
		slog.String("handler", rn.Handler),
		slog.Int("version", toVersion),
	)
	return nil
}
