package run

import (
	"context"
	"time"

	"github.com/ratchetlabs/ratchet/id"
)

// ListOpts controls pagination and filtering for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// Handler filters by handler name. Empty means all handlers.
	Handler string
	// State filters by run state. Empty means all states.
	State State
	// CompletedBefore restricts results to runs that reached a terminal
	// state before the given time. Zero means no restriction.
	CompletedBefore time.Time
}

// Store defines the persistence contract for runs.
//
// Claim and cancel operations are compare-and-swap on the run's state so
// that multiple hosts sharing one store never produce two live attempts
// for the same run. The step ledger's append conflict remains the
// authoritative backstop (see ledger.Store).
type Store interface {
	// CreateRun persists a new run. Fails with ErrRunAlreadyExists if a
	// run with the same ID exists.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by ID. Fails with ErrRunNotFound.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run and touches its
	// UpdatedAt timestamp.
	UpdateRun(ctx context.Context, r *Run) error

	// DeleteRun removes a run by ID. The caller is responsible for
	// purging the run's ledger first.
	DeleteRun(ctx context.Context, runID id.RunID) error

	// ListRuns returns runs matching the given options, ordered by ID
	// (TypeIDs are K-sortable, so this is creation order).
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// ClaimDueRuns atomically claims up to limit sleeping runs whose
	// wake time is at or before now: each claimed run moves to the
	// running state with attempt incremented and ClaimedBy stamped.
	// Runs are ordered by wake time (ascending).
	ClaimDueRuns(ctx context.Context, now time.Time, limit int, workerID id.WorkerID) ([]*Run, error)

	// TouchRun bumps the run's UpdatedAt so an executing attempt is not
	// mistaken for stale. The touch applies only while workerID still
	// holds the claim; a heartbeat from a superseded attempt is ignored
	// without error so it cannot keep a reclaimed run looking fresh.
	TouchRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error

	// RequeueStaleRuns moves running runs whose last update is older
	// than olderThan back to sleeping with an immediate wake time, so a
	// crashed attempt is replayed. Returns the number requeued.
	RequeueStaleRuns(ctx context.Context, olderThan time.Time) (int, error)

	// CancelRun moves a non-terminal run to the cancelled state and
	// returns the updated run. Cancelling an already-cancelled run is a
	// no-op; cancelling a completed or failed run fails with
	// ErrInvalidState.
	CancelRun(ctx context.Context, runID id.RunID) (*Run, error)
}
