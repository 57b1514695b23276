package ratchet

import "time"

// Config holds configuration for the Runtime and its host loops.
type Config struct {
	// Concurrency is the maximum number of run attempts executed
	// concurrently by the host.
	Concurrency int

	// PollInterval is how often the host claims due runs.
	PollInterval time.Duration

	// ClaimBatch is the maximum number of due runs claimed per poll.
	ClaimBatch int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// StaleAfter is how long a run may sit in the running state without
	// a store update before the reaper requeues it for replay.
	StaleAfter time.Duration

	// HeartbeatInterval is how often executing attempts refresh their
	// claim so the reaper leaves them alone. Must be comfortably below
	// StaleAfter. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// Retention is how long terminal runs and their ledgers are kept
	// before the sweeper purges them. Zero disables sweeping.
	Retention time.Duration

	// SweepInterval is how often the sweeper looks for purgable runs.
	SweepInterval time.Duration

	// StepTimeout caps the execution of a single step closure.
	// Zero means no per-step timeout.
	StepTimeout time.Duration

	// ProgressBuffer is the capacity of the bounded progress channel.
	// Updates are dropped, never blocked on, when it is full.
	ProgressBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		ClaimBatch:        32,
		ShutdownTimeout:   30 * time.Second,
		StaleAfter:        5 * time.Minute,
		HeartbeatInterval: 1 * time.Minute,
		Retention:         24 * time.Hour,
		SweepInterval:     1 * time.Minute,
		StepTimeout:       0,
		ProgressBuffer:    256,
	}
}
