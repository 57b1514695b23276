package ratchet

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("ratchet: no store configured")
	ErrStoreClosed     = errors.New("ratchet: store closed")
	ErrMigrationFailed = errors.New("ratchet: migration failed")

	// Not found errors.
	ErrRunNotFound     = errors.New("ratchet: run not found")
	ErrStepNotFound    = errors.New("ratchet: step record not found")
	ErrCronNotFound    = errors.New("ratchet: cron entry not found")
	ErrHandlerNotFound = errors.New("ratchet: handler not registered")

	// Conflict errors. ErrDuplicateStep is the ledger's append-once
	// guarantee surfacing: a record already exists for (runID, index).
	// A live attempt that hits it must abort, never reconcile.
	ErrRunAlreadyExists = errors.New("ratchet: run already exists")
	ErrDuplicateStep    = errors.New("ratchet: step already recorded")
	ErrDuplicateCron    = errors.New("ratchet: duplicate cron entry")

	// State errors.
	ErrInvalidState = errors.New("ratchet: invalid state transition")
	ErrRunCancelled = errors.New("ratchet: run cancelled")
	ErrNotSuspended = errors.New("ratchet: run is not suspended")

	// Replay errors. ErrDeterminism means an attempt's step sequence
	// diverged from the recorded one — a handler programming error,
	// fatal for the run.
	ErrDeterminism = errors.New("ratchet: replay diverged from recorded steps")

	// Poll protocol errors.
	ErrRemoteJobFailed    = errors.New("ratchet: remote job failed")
	ErrRemoteJobCancelled = errors.New("ratchet: remote job cancelled")
	ErrPollTimeout        = errors.New("ratchet: poll bounds exhausted")
)
