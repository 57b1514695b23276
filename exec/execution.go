package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/middleware"
	"github.com/ratchetlabs/ratchet/run"
)

// StepEmitter is called by the Execution to emit step lifecycle events.
// ext.Registry satisfies it directly; the interface lives here so exec
// stays decoupled from the extension system.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, r *run.Run, index int, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, r *run.Run, index int, stepName string, err error)
	EmitStepReplayed(ctx context.Context, r *run.Run, index int, stepName string)
	EmitProgressReported(ctx context.Context, r *run.Run, fraction float64, detail string)
}

// StepError is a step failure reconstructed from the ledger during
// catch-up. The original error value does not survive serialization;
// only its message does. Error returns that message verbatim so a
// replayed failure reads identically to the live one.
type StepError struct {
	Name    string
	Index   int
	Message string
}

func (e *StepError) Error() string { return e.Message }

// DeterminismError reports a replay that diverged from the ledger: the
// handler's calls this attempt no longer line up with the records a
// previous attempt wrote. Index is the step at which the divergence was
// detected. It unwraps to ratchet.ErrDeterminism.
type DeterminismError struct {
	RunID  id.RunID
	Index  int
	Detail string
}

func (e *DeterminismError) Error() string {
	return fmt.Sprintf("run %s step %d: %s", e.RunID, e.Index, e.Detail)
}

func (e *DeterminismError) Unwrap() error { return ratchet.ErrDeterminism }

var (
	_ error = (*StepError)(nil)
	_ error = (*DeterminismError)(nil)
)

// Execution is the per-attempt context passed to handler functions.
// It provides durable step execution, durable timers, and progress
// reporting. Step indices are assigned in call order; handlers must be
// deterministic so replay assigns the same index to the same call.
//
// Step closures must not call Execution methods themselves: each
// primitive owns exactly one ledger index, and nesting breaks the
// index ordering replay depends on.
type Execution struct {
	ctx     context.Context
	run     *run.Run
	runs    run.Store
	ledger  ledger.Store
	emitter StepEmitter
	logger  *slog.Logger

	mw          middleware.Middleware
	sink        Sink
	stepTimeout time.Duration

	cur cursor
}

// NewExecution creates an execution context for one attempt of a run.
// This is called by the Runner, not by users.
func NewExecution(
	ctx context.Context,
	rn *run.Run,
	runs run.Store,
	ledgerStore ledger.Store,
	emitter StepEmitter,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		ctx:     ctx,
		run:     rn,
		runs:    runs,
		ledger:  ledgerStore,
		emitter: emitter,
		logger:  logger,
	}
}

// SetMiddleware installs the middleware chain wrapped around live step
// closures. Replayed steps bypass it.
func (e *Execution) SetMiddleware(mw middleware.Middleware) { e.mw = mw }

// SetProgressSink installs a sink for ReportProgress updates.
func (e *Execution) SetProgressSink(s Sink) { e.sink = s }

// SetStepTimeout sets the per-step execution cap. Zero means no cap.
func (e *Execution) SetStepTimeout(d time.Duration) { e.stepTimeout = d }

// Context returns the underlying context.Context.
func (e *Execution) Context() context.Context { return e.ctx }

// RunID returns the run ID.
func (e *Execution) RunID() id.RunID { return e.run.ID }

// Run returns the run being executed.
func (e *Execution) Run() *run.Run { return e.run }

// Attempt returns the attempt number of this execution.
func (e *Execution) Attempt() int { return e.run.Attempt }

// checkCancelled re-reads the run and surfaces a pending cancellation.
// Called at the top of every step primitive so a cancel takes effect at
// the handler's next Do, Step, or Sleep.
func (e *Execution) checkCancelled() error {
	fresh, err := e.runs.GetRun(e.ctx, e.run.ID)
	if err != nil {
		return fmt.Errorf("check cancellation for run %s: %w", e.run.ID, err)
	}
	if fresh.State == run.StateCancelled {
		return fmt.Errorf("run %s: %w", e.run.ID, ratchet.ErrRunCancelled)
	}
	return nil
}

// resolveBoundary fetches the run's ledger record count exactly once per
// attempt. Indices below the boundary replay from the ledger; indices at
// or above it execute live. A run has at most one live attempt, so the
// count cannot move underneath a running handler.
func (e *Execution) resolveBoundary() error {
	if e.cur.resolved {
		return nil
	}
	n, err := e.ledger.CountSteps(e.ctx, e.run.ID)
	if err != nil {
		return fmt.Errorf("count ledger records for run %s: %w", e.run.ID, err)
	}
	e.cur.boundary = n
	e.cur.resolved = true
	return nil
}

// advance assigns the next step index and reports whether it falls in
// the catch-up region.
func (e *Execution) advance() (index int, catchUp bool, err error) {
	if err := e.resolveBoundary(); err != nil {
		return 0, false, err
	}
	index = e.cur.next
	e.cur.next++
	return index, index < e.cur.boundary, nil
}

// unvisited reports how many ledger records the handler left unconsumed,
// resolving the boundary if the handler never called a primitive.
func (e *Execution) unvisited() (int, error) {
	if err := e.resolveBoundary(); err != nil {
		return 0, err
	}
	return e.cur.remaining(), nil
}

// fetchRecord loads the ledger record for a catch-up index and checks it
// against the call the handler is making now. A missing record or a kind
// mismatch is a determinism fault; a name mismatch only warns.
func (e *Execution) fetchRecord(index int, kind ledger.Kind, name string) (*ledger.StepRecord, error) {
	rec, err := e.ledger.GetStep(e.ctx, e.run.ID, index)
	if err != nil {
		return nil, fmt.Errorf("read ledger record %d for run %s: %w", index, e.run.ID, err)
	}
	if rec == nil {
		return nil, &DeterminismError{RunID: e.run.ID, Index: index,
			Detail: fmt.Sprintf("no ledger record below replay boundary %d", e.cur.boundary)}
	}
	if rec.Kind != kind {
		return nil, &DeterminismError{RunID: e.run.ID, Index: index,
			Detail: fmt.Sprintf("handler called a %s, ledger recorded a %s (%q)", kind, rec.Kind, rec.Name)}
	}
	if rec.Name != name {
		e.logger.Warn("step name changed between attempts",
			slog.String("run_id", e.run.ID.String()),
			slog.Int("step_index", index),
			slog.String("recorded", rec.Name),
			slog.String("called", name),
		)
	}
	return rec, nil
}

// step runs one ledger-backed step: catch-up from the record when the
// index is below the replay boundary, live execution through the
// middleware chain otherwise. At most one ledger write ever happens per
// index; a duplicate append means another attempt owns the run and is
// fatal to this one.
func (e *Execution) step(name string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if err := e.checkCancelled(); err != nil {
		return nil, err
	}

	index, catchUp, err := e.advance()
	if err != nil {
		return nil, err
	}

	if catchUp {
		rec, recErr := e.fetchRecord(index, ledger.KindStep, name)
		if recErr != nil {
			return nil, recErr
		}
		e.emitter.EmitStepReplayed(e.ctx, e.run, index, name)
		if rec.Outcome == ledger.OutcomeFailure {
			return nil, fmt.Errorf("step %d (%s): %w", index, name,
				&StepError{Name: rec.Name, Index: index, Message: rec.Error})
		}
		e.logger.Debug("step satisfied from ledger",
			slog.String("run_id", e.run.ID.String()),
			slog.Int("step_index", index),
			slog.String("step_name", name),
		)
		return rec.Payload, nil
	}

	// Live execution.
	var payload []byte
	invoke := func(ctx context.Context) error {
		var fnErr error
		payload, fnErr = fn(ctx)
		return fnErr
	}

	start := time.Now()
	var stepErr error
	if e.mw != nil {
		stepErr = e.mw(e.ctx, &middleware.Step{
			RunID:   e.run.ID,
			Handler: e.run.Handler,
			Index:   index,
			Name:    name,
			Attempt: e.run.Attempt,
			Timeout: e.stepTimeout,
		}, invoke)
	} else {
		stepErr = invoke(e.ctx)
	}
	elapsed := time.Since(start)

	if stepErr != nil {
		// Control signals are not outcomes and are never recorded.
		if IsSuspension(stepErr) || errors.Is(stepErr, ratchet.ErrRunCancelled) || errors.Is(stepErr, ratchet.ErrDeterminism) {
			return nil, stepErr
		}
		// An error observed after the attempt's own context ended is not
		// the step's outcome: the external call was torn down by shutdown
		// or claim loss. Leave the index unrecorded so the next attempt
		// re-executes it.
		if e.ctx.Err() != nil {
			return nil, fmt.Errorf("run %s step %d (%s): attempt ended mid-step: %w",
				e.run.ID, index, name, stepErr)
		}
		failure := ledger.NewStepFailure(e.run.ID, index, name, stepErr)
		if appendErr := e.ledger.AppendStep(e.ctx, failure); appendErr != nil {
			return nil, e.appendFailed(index, name, appendErr)
		}
		e.emitter.EmitStepFailed(e.ctx, e.run, index, name, stepErr)
		return nil, fmt.Errorf("step %d (%s): %w", index, name, stepErr)
	}

	success := ledger.NewStepSuccess(e.run.ID, index, name, payload)
	if appendErr := e.ledger.AppendStep(e.ctx, success); appendErr != nil {
		return nil, e.appendFailed(index, name, appendErr)
	}
	e.emitter.EmitStepCompleted(e.ctx, e.run, index, name, elapsed)
	return payload, nil
}

// appendFailed wraps a ledger append error. A duplicate means a second
// attempt raced this one on the same index; the Runner abandons the
// attempt without touching run state, since the other attempt owns it.
func (e *Execution) appendFailed(index int, name string, err error) error {
	if errors.Is(err, ratchet.ErrDuplicateStep) {
		return fmt.Errorf("run %s step %d (%s): concurrent attempt detected: %w", e.run.ID, index, name, err)
	}
	return fmt.Errorf("run %s step %d (%s): record outcome: %w", e.run.ID, index, name, err)
}

// Do durably executes a named step closure with no result payload. On
// catch-up the recorded outcome is returned without invoking fn; a
// recorded failure is re-raised with its original message.
func (e *Execution) Do(name string, fn func(ctx context.Context) error) error {
	_, err := e.step(name, func(ctx context.Context) ([]byte, error) {
		return nil, fn(ctx)
	})
	return err
}

// Step durably executes a named step closure that returns a typed value.
// The result is JSON-serialized into the ledger record; on catch-up the
// recorded result is decoded and returned without re-executing fn.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Step[T any](e *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	payload, err := e.step(name, func(ctx context.Context) ([]byte, error) {
		result, fnErr := fn(ctx)
		if fnErr != nil {
			return nil, fnErr
		}
		data, encErr := json.Marshal(result)
		if encErr != nil {
			return nil, fmt.Errorf("encode result: %w", encErr)
		}
		return data, nil
	})
	if err != nil {
		return zero, err
	}
	if len(payload) == 0 {
		return zero, nil
	}
	var result T
	if decErr := json.Unmarshal(payload, &result); decErr != nil {
		return zero, fmt.Errorf("step %q: decode recorded result: %w", name, decErr)
	}
	return result, nil
}

// Sleep parks the run on a durable timer without holding a worker. The
// wake time is computed once, on first execution, and recorded in the
// ledger; replays reuse the recorded time and never recompute it. If
// the timer has not elapsed, Sleep returns a *Suspension through the
// error path — propagate it like any other error. Once the wake time
// has passed, Sleep returns nil and the handler continues.
//
// A non-positive duration records the step and continues immediately
// without suspending.
func (e *Execution) Sleep(name string, d time.Duration) error {
	if err := e.checkCancelled(); err != nil {
		return err
	}

	index, catchUp, err := e.advance()
	if err != nil {
		return err
	}

	if catchUp {
		rec, recErr := e.fetchRecord(index, ledger.KindSleep, name)
		if recErr != nil {
			return recErr
		}
		e.emitter.EmitStepReplayed(e.ctx, e.run, index, name)
		if rec.Resumed {
			return nil
		}
		if rec.WakeAt == nil {
			return fmt.Errorf("run %s sleep %d (%s): record missing wake time", e.run.ID, index, name)
		}
		wakeAt := *rec.WakeAt
		if time.Now().UTC().Before(wakeAt) {
			// Timer still pending — park again.
			return &Suspension{RunID: e.run.ID, Index: index, WakeAt: wakeAt}
		}
		// Timer elapsed. Mark it consumed so later replays skip the
		// wake check entirely.
		if markErr := e.ledger.MarkResumed(e.ctx, e.run.ID, index); markErr != nil {
			return fmt.Errorf("run %s sleep %d (%s): mark resumed: %w", e.run.ID, index, name, markErr)
		}
		return nil
	}

	// Live: compute the wake time exactly once and record it before
	// suspending.
	wakeAt := time.Now().UTC().Add(d)
	rec := ledger.NewSleep(e.run.ID, index, name, wakeAt)
	if d <= 0 {
		// Nothing to wait for; the timer is born elapsed.
		rec.Resumed = true
	}
	if appendErr := e.ledger.AppendStep(e.ctx, rec); appendErr != nil {
		return e.appendFailed(index, name, appendErr)
	}
	if d <= 0 {
		return nil
	}
	return &Suspension{RunID: e.run.ID, Index: index, WakeAt: wakeAt}
}

// ReportProgress publishes an advisory progress update for the run.
// Progress is not a step: it takes no ledger index, never blocks, and
// may be re-delivered when a run replays. Fraction is clamped to [0, 1].
func (e *Execution) ReportProgress(fraction float64, detail string) {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	e.logger.Debug("progress reported",
		slog.String("run_id", e.run.ID.String()),
		slog.Float64("fraction", fraction),
		slog.String("detail", detail),
	)
	e.emitter.EmitProgressReported(e.ctx, e.run, fraction, detail)
	if e.sink != nil {
		e.sink.Report(Update{
			RunID:    e.run.ID,
			Handler:  e.run.Handler,
			Fraction: fraction,
			Detail:   detail,
			At:       time.Now().UTC(),
		})
	}
}
