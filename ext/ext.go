package ext

import (
	"context"
	"time"

	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a run begins executing its first attempt.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run, err error) error
}

// RunCancelled is called when a cancellation request takes effect and
// the run reaches the cancelled state.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *run.Run) error
}

// RunSuspended is called when a run parks on a durable timer and
// releases its worker.
type RunSuspended interface {
	OnRunSuspended(ctx context.Context, r *run.Run, wakeAt time.Time) error
}

// RunResumed is called when a suspended run is picked up again and its
// handler starts replaying.
type RunResumed interface {
	OnRunResumed(ctx context.Context, r *run.Run) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a live step closure succeeds and its
// outcome is recorded.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *run.Run, index int, stepName string, elapsed time.Duration) error
}

// StepFailed is called after a live step closure fails and the failure
// is recorded.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *run.Run, index int, stepName string, err error) error
}

// StepReplayed is called when a step is satisfied from the ledger
// during catch-up instead of executing its closure.
type StepReplayed interface {
	OnStepReplayed(ctx context.Context, r *run.Run, index int, stepName string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ProgressReported is called when a handler reports progress. Delivery
// is advisory; the same fraction may be reported more than once when a
// run replays.
type ProgressReported interface {
	OnProgressReported(ctx context.Context, r *run.Run, fraction float64, detail string) error
}

// CronFired is called when a cron entry fires and starts a run.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, runID id.RunID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
