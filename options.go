package ratchet

import (
	"log/slog"
	"time"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// WithConcurrency sets the maximum number of concurrent run attempts.
func WithConcurrency(n int) Option {
	return func(rt *Runtime) error {
		rt.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the host claims due runs.
func WithPollInterval(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.PollInterval = d
		return nil
	}
}

// WithClaimBatch sets the maximum number of due runs claimed per poll.
func WithClaimBatch(n int) Option {
	return func(rt *Runtime) error {
		rt.config.ClaimBatch = n
		return nil
	}
}

// WithStaleAfter sets how long a running attempt may go without a store
// update before the reaper requeues the run for replay.
func WithStaleAfter(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.StaleAfter = d
		return nil
	}
}

// WithHeartbeatInterval sets how often executing attempts refresh their
// claim. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.HeartbeatInterval = d
		return nil
	}
}

// WithSweepInterval sets how often the sweeper looks for purgable runs.
func WithSweepInterval(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.SweepInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for graceful
// shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.ShutdownTimeout = d
		return nil
	}
}

// WithRetention sets how long terminal runs and their ledgers are kept
// before the sweeper purges them. Zero disables sweeping.
func WithRetention(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.Retention = d
		return nil
	}
}

// WithStepTimeout caps the execution of a single step closure.
func WithStepTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.StepTimeout = d
		return nil
	}
}

// WithProgressBuffer sets the capacity of the bounded progress channel.
func WithProgressBuffer(n int) Option {
	return func(rt *Runtime) error {
		rt.config.ProgressBuffer = n
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) error {
		rt.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the runtime.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(rt *Runtime) error {
		rt.store = s
		return nil
	}
}
