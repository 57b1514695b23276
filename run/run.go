package run

import (
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
)

// State represents the lifecycle state of a run.
type State string

const (
	// StateRunning means an execution attempt is live for the run.
	StateRunning State = "running"
	// StateSleeping means the run is parked between attempts with a
	// persisted wake time. No attempt holds resources for it.
	StateSleeping State = "sleeping"
	// StateCompleted means the run finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the run failed terminally.
	StateFailed State = "failed"
	// StateCancelled means the run was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Run represents one durable execution of a registered handler. Its ID is
// stable for the run's full lifetime, across every suspension, resumption,
// and host migration. All cross-attempt state lives in the step ledger;
// the Run row carries lifecycle state and scheduling metadata only.
type Run struct {
	ratchet.Entity

	ID      id.RunID `json:"id"`
	Handler string   `json:"handler"`
	Version int      `json:"version"`
	State   State    `json:"state"`
	Input   []byte   `json:"input,omitempty"`
	Output  []byte   `json:"output,omitempty"`
	Error   string   `json:"error,omitempty"`

	// Attempt counts execution attempts, including the first.
	Attempt int `json:"attempt"`

	// ClaimedBy is the worker holding the live attempt, if any.
	ClaimedBy id.WorkerID `json:"claimed_by,omitempty"`

	// WakeAt is set while the run is sleeping: the earliest time the
	// host may start the next attempt.
	WakeAt *time.Time `json:"wake_at,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
