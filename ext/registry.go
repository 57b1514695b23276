package ext

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runCancelledEntry struct {
	name string
	hook RunCancelled
}

type runSuspendedEntry struct {
	name string
	hook RunSuspended
}

type runResumedEntry struct {
	name string
	hook RunResumed
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepReplayedEntry struct {
	name string
	hook StepReplayed
}

type progressReportedEntry struct {
	name string
	hook ProgressReported
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	runStarted       []runStartedEntry
	runCompleted     []runCompletedEntry
	runFailed        []runFailedEntry
	runCancelled     []runCancelledEntry
	runSuspended     []runSuspendedEntry
	runResumed       []runResumedEntry
	stepCompleted    []stepCompletedEntry
	stepFailed       []stepFailedEntry
	stepReplayed     []stepReplayedEntry
	progressReported []progressReportedEntry
	cronFired        []cronFiredEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(RunCancelled); ok {
		r.runCancelled = append(r.runCancelled, runCancelledEntry{name, h})
	}
	if h, ok := e.(RunSuspended); ok {
		r.runSuspended = append(r.runSuspended, runSuspendedEntry{name, h})
	}
	if h, ok := e.(RunResumed); ok {
		r.runResumed = append(r.runResumed, runResumedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(StepReplayed); ok {
		r.stepReplayed = append(r.stepReplayed, stepReplayedEntry{name, h})
	}
	if h, ok := e.(ProgressReported); ok {
		r.progressReported = append(r.progressReported, progressReportedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runStarted {
		r.guard("OnRunStarted", e.name, func() error {
			return e.hook.OnRunStarted(ctx, rn)
		})
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		r.guard("OnRunCompleted", e.name, func() error {
			return e.hook.OnRunCompleted(ctx, rn, elapsed)
		})
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run, runErr error) {
	for _, e := range r.runFailed {
		r.guard("OnRunFailed", e.name, func() error {
			return e.hook.OnRunFailed(ctx, rn, runErr)
		})
	}
}

// EmitRunCancelled notifies all extensions that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, rn *run.Run) {
	for _, e := range r.runCancelled {
		r.guard("OnRunCancelled", e.name, func() error {
			return e.hook.OnRunCancelled(ctx, rn)
		})
	}
}

// EmitRunSuspended notifies all extensions that implement RunSuspended.
func (r *Registry) EmitRunSuspended(ctx context.Context, rn *run.Run, wakeAt time.Time) {
	for _, e := range r.runSuspended {
		r.guard("OnRunSuspended", e.name, func() error {
			return e.hook.OnRunSuspended(ctx, rn, wakeAt)
		})
	}
}

// EmitRunResumed notifies all extensions that implement RunResumed.
func (r *Registry) EmitRunResumed(ctx context.Context, rn *run.Run) {
	for _, e := range r.runResumed {
		r.guard("OnRunResumed", e.name, func() error {
			return e.hook.OnRunResumed(ctx, rn)
		})
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, rn *run.Run, index int, stepName string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		r.guard("OnStepCompleted", e.name, func() error {
			return e.hook.OnStepCompleted(ctx, rn, index, stepName, elapsed)
		})
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, rn *run.Run, index int, stepName string, stepErr error) {
	for _, e := range r.stepFailed {
		r.guard("OnStepFailed", e.name, func() error {
			return e.hook.OnStepFailed(ctx, rn, index, stepName, stepErr)
		})
	}
}

// EmitStepReplayed notifies all extensions that implement StepReplayed.
func (r *Registry) EmitStepReplayed(ctx context.Context, rn *run.Run, index int, stepName string) {
	for _, e := range r.stepReplayed {
		r.guard("OnStepReplayed", e.name, func() error {
			return e.hook.OnStepReplayed(ctx, rn, index, stepName)
		})
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitProgressReported notifies all extensions that implement ProgressReported.
func (r *Registry) EmitProgressReported(ctx context.Context, rn *run.Run, fraction float64, detail string) {
	for _, e := range r.progressReported {
		r.guard("OnProgressReported", e.name, func() error {
			return e.hook.OnProgressReported(ctx, rn, fraction, detail)
		})
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, runID id.RunID) {
	for _, e := range r.cronFired {
		r.guard("OnCronFired", e.name, func() error {
			return e.hook.OnCronFired(ctx, entryName, runID)
		})
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.guard("OnShutdown", e.name, func() error {
			return e.hook.OnShutdown(ctx)
		})
	}
}

// guard invokes a single hook. Errors from hooks are logged and never
// propagated — they must not block the pipeline. A panicking hook is
// recovered and logged the same way.
func (r *Registry) guard(hook, extName string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("extension hook panicked",
				slog.String("hook", hook),
				slog.String("extension", extName),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logger.Warn("extension hook error",
			slog.String("hook", hook),
			slog.String("extension", extName),
			slog.String("error", err.Error()),
		)
	}
}
