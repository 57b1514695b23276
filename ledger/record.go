// Package ledger defines the durable, append-only step ledger: the
// externalized state that makes a run safe to replay after suspension,
// crash, or migration to another host.
//
// Records are keyed by (run ID, step index). At most one record ever
// exists per key and it is immutable once written — that append-once
// guarantee is what makes a step's side effect at-most-once from the
// ledger's point of view, and what lets concurrent attempts for one run
// be detected and aborted instead of merged.
package ledger

import (
	"time"

	"github.com/ratchetlabs/ratchet/id"
)

// Kind discriminates the two step primitives.
type Kind string

const (
	// KindStep is a checkpointed closure execution.
	KindStep Kind = "step"
	// KindSleep is a suspension point with a persisted wake time.
	KindSleep Kind = "sleep"
)

// Outcome classifies how a recorded step finished.
type Outcome string

const (
	// OutcomeSuccess means the step completed; Payload holds its result.
	// Sleep records always carry OutcomeSuccess.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the step's closure returned an error; Error
	// holds its message. Failures are memoized: a replay re-raises the
	// recorded failure rather than re-executing the closure.
	OutcomeFailure Outcome = "failure"
)

// StepRecord is one entry in the step ledger.
//
// Index is assigned in call order (0, 1, 2, …) within the run. Name is
// diagnostic only and never used for identity; replays match records by
// index and kind.
type StepRecord struct {
	RunID   id.RunID `json:"run_id"`
	Index   int      `json:"index"`
	Kind    Kind     `json:"kind"`
	Name    string   `json:"name,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Payload []byte   `json:"payload,omitempty"`
	Error   string   `json:"error,omitempty"`

	// WakeAt is set on sleep records: the absolute wake time, computed
	// once at first encounter of the index and never recomputed, so
	// repeated suspensions cannot drift the wake time forward.
	WakeAt *time.Time `json:"wake_at,omitempty"`

	// Resumed tracks whether a satisfied sleep has been observed by a
	// later attempt. Bookkeeping only — it is flipped through
	// Store.MarkResumed and is not part of the immutable outcome.
	Resumed bool `json:"resumed,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// NewStepSuccess builds a success record for a closure step.
func NewStepSuccess(runID id.RunID, index int, name string, payload []byte) *StepRecord {
	return &StepRecord{
		RunID:      runID,
		Index:      index,
		Kind:       KindStep,
		Name:       name,
		Outcome:    OutcomeSuccess,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}
}

// NewStepFailure builds a failure record for a closure step.
func NewStepFailure(runID id.RunID, index int, name string, stepErr error) *StepRecord {
	return &StepRecord{
		RunID:      runID,
		Index:      index,
		Kind:       KindStep,
		Name:       name,
		Outcome:    OutcomeFailure,
		Error:      stepErr.Error(),
		RecordedAt: time.Now().UTC(),
	}
}

// NewSleep builds a sleep record with the given absolute wake time.
func NewSleep(runID id.RunID, index int, name string, wakeAt time.Time) *StepRecord {
	wake := wakeAt.UTC()
	return &StepRecord{
		RunID:      runID,
		Index:      index,
		Kind:       KindSleep,
		Name:       name,
		Outcome:    OutcomeSuccess,
		WakeAt:     &wake,
		RecordedAt: time.Now().UTC(),
	}
}
