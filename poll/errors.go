package poll

import (
	"fmt"
	"time"

	"github.com/ratchetlabs/ratchet"
)

// RemoteError reports a remote job that finished in Failed or
// Cancelled. It unwraps to ratchet.ErrRemoteJobFailed or
// ratchet.ErrRemoteJobCancelled so callers can branch with errors.Is
// without inspecting the struct.
type RemoteError struct {
	JobID  string
	Status Status
	Detail string
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote job %s %s", e.JobID, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	if e.Status == StatusCancelled {
		return ratchet.ErrRemoteJobCancelled
	}
	return ratchet.ErrRemoteJobFailed
}

// TimeoutError reports a poll loop that ran out of attempts or
// accumulated delay before the remote job reached a terminal state.
// Waited is logical time: the sum of the delays the loop requested.
// It unwraps to ratchet.ErrPollTimeout.
type TimeoutError struct {
	JobID    string
	Attempts int
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote job %s not terminal after %d polls (%s waited)",
		e.JobID, e.Attempts, e.Waited)
}

func (e *TimeoutError) Unwrap() error { return ratchet.ErrPollTimeout }

var (
	_ error = (*RemoteError)(nil)
	_ error = (*TimeoutError)(nil)
)
