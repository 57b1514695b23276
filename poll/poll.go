package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/ratchetlabs/ratchet/backoff"
	"github.com/ratchetlabs/ratchet/exec"
)

// Status is the observed state of a remote job.
type Status string

const (
	// StatusStarting means the job is accepted but not yet running.
	StatusStarting Status = "starting"
	// StatusProcessing means the job is running.
	StatusProcessing Status = "processing"
	// StatusSucceeded means the job finished and its result is available.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job finished unsuccessfully.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled remotely.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further remote progress can occur. Any
// status the remote reports outside the known set is treated as
// non-terminal and polled again until a bound trips.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Snapshot is one observation of a remote job. Snapshots are recorded
// on the ledger as step results, so replayed attempts see the same
// observations without calling the remote again.
type Snapshot[T any] struct {
	// JobID identifies the job at the remote; set by the create step
	// and passed to every poll.
	JobID string `json:"job_id"`

	// Status is the observed state.
	Status Status `json:"status"`

	// Detail carries the remote's failure description, if any.
	Detail string `json:"detail,omitempty"`

	// Result is the job's output, meaningful once Status is Succeeded.
	Result T `json:"result"`
}

// Config bounds the poll loop. The zero value polls every 5 seconds
// for up to 120 attempts or 15 minutes of accumulated delay.
type Config struct {
	// Interval is the fixed delay between polls. Ignored when Backoff
	// is set.
	Interval time.Duration

	// MaxAttempts caps the number of polls after the create step.
	MaxAttempts int

	// MaxWait caps the accumulated delay before polling stops.
	MaxWait time.Duration

	// Backoff, when set, spaces polls instead of Interval. It must be
	// deterministic: the delay sequence is replayed on resume.
	Backoff backoff.Strategy
}

// DefaultConfig returns the default poll bounds.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		MaxAttempts: 120,
		MaxWait:     15 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MaxWait <= 0 {
		c.MaxWait = def.MaxWait
	}
	return c
}

// delay returns the wait before poll attempt n (1-indexed).
func (c Config) delay(attempt int) time.Duration {
	if c.Backoff != nil {
		return c.Backoff.Delay(attempt)
	}
	return c.Interval
}

// Until creates a remote job and polls it to a terminal state, all as
// durable steps on ex. create runs as the step "create job"; each poll
// runs as "poll N" after a durable sleep "poll wait N". If the create
// snapshot is already terminal the loop never runs: zero sleeps, zero
// polls.
//
// A Succeeded snapshot returns its Result. Failed and Cancelled return
// a *RemoteError carrying the remote detail. If MaxAttempts or MaxWait
// is exhausted first, Until returns a *TimeoutError. Errors from the
// closures themselves (including recorded step failures on replay)
// propagate unchanged, as do suspension and cancellation signals from
// the underlying primitives.
func Until[T any](
	ex *exec.Execution,
	cfg Config,
	create func(ctx context.Context) (Snapshot[T], error),
	pollFn func(ctx context.Context, jobID string) (Snapshot[T], error),
) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	snap, err := exec.Step(ex, "create job", create)
	if err != nil {
		return zero, err
	}

	attempts := 0
	var elapsed time.Duration
	for !snap.Status.Terminal() && attempts < cfg.MaxAttempts && elapsed < cfg.MaxWait {
		n := attempts + 1
		delay := cfg.delay(n)

		if err := ex.Sleep(fmt.Sprintf("poll wait %d", n), delay); err != nil {
			return zero, err
		}
		// Logical time: the sum of requested delays. Wall clock would
		// come out different on a resumed attempt and change how many
		// iterations fit inside MaxWait.
		elapsed += delay

		jobID := snap.JobID
		snap, err = exec.Step(ex, fmt.Sprintf("poll %d", n),
			func(ctx context.Context) (Snapshot[T], error) {
				return pollFn(ctx, jobID)
			})
		if err != nil {
			return zero, err
		}
		attempts++

		ex.ReportProgress(float64(elapsed)/float64(cfg.MaxWait),
			fmt.Sprintf("poll %d/%d", attempts, cfg.MaxAttempts))
	}

	switch snap.Status {
	case StatusSucceeded:
		return snap.Result, nil
	case StatusFailed, StatusCancelled:
		return zero, &RemoteError{JobID: snap.JobID, Status: snap.Status, Detail: snap.Detail}
	default:
		return zero, &TimeoutError{JobID: snap.JobID, Attempts: attempts, Waited: elapsed}
	}
}
