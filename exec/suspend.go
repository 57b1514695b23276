package exec

import (
	"errors"
	"fmt"
	"time"

	"github.com/ratchetlabs/ratchet/id"
)

// Suspension is the control signal returned through the error path when
// a durable timer has not yet elapsed. It is not a failure: the Runner
// intercepts it, parks the run in the sleeping state, and releases the
// worker. Handlers must propagate it unchanged.
type Suspension struct {
	// RunID is the run being suspended.
	RunID id.RunID
	// Index is the ledger index of the sleep step that caused the
	// suspension.
	Index int
	// WakeAt is when the run becomes due again. It is the persisted
	// wake time from the ledger record, never a recomputed value.
	WakeAt time.Time
}

// Error implements the error interface so a Suspension can travel the
// ordinary error return path out of a handler.
func (s *Suspension) Error() string {
	return fmt.Sprintf("ratchet: run %s suspended until %s", s.RunID, s.WakeAt.Format(time.RFC3339))
}

// IsSuspension reports whether err is or wraps a Suspension.
func IsSuspension(err error) bool {
	var s *Suspension
	return errors.As(err, &s)
}

// AsSuspension extracts the Suspension from err, if present.
func AsSuspension(err error) (*Suspension, bool) {
	var s *Suspension
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
