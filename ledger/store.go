package ledger

import (
	"context"

	"github.com/ratchetlabs/ratchet/id"
)

// Store defines the persistence contract for the step ledger.
//
// Append must enforce the append-once invariant atomically in the
// backend (reserved map key, INSERT conflict, HSETNX, unique index):
// two attempts racing on the same (runID, index) must see exactly one
// winner. No record is overwritten or deleted while its run is active;
// PurgeRun is for terminal runs only.
type Store interface {
	// AppendStep durably writes a record. Fails with ErrDuplicateStep
	// if a record already exists for (RunID, Index).
	AppendStep(ctx context.Context, rec *StepRecord) error

	// GetStep retrieves the record at (runID, index), or nil if none
	// exists. Absence is not an error.
	GetStep(ctx context.Context, runID id.RunID, index int) (*StepRecord, error)

	// CountSteps returns the number of records for the run — the replay
	// boundary a new attempt's cursor starts from.
	CountSteps(ctx context.Context, runID id.RunID) (int, error)

	// ListSteps returns all records for the run ordered by index.
	ListSteps(ctx context.Context, runID id.RunID) ([]*StepRecord, error)

	// MarkResumed flips the Resumed flag on the sleep record at
	// (runID, index). Fails with ErrStepNotFound if no record exists.
	// The recorded outcome and wake time are never modified.
	MarkResumed(ctx context.Context, runID id.RunID, index int) error

	// PurgeRun removes every record for the run. Called by the sweeper
	// after the run is terminal and past retention.
	PurgeRun(ctx context.Context, runID id.RunID) error
}
