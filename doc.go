// Package ratchet provides a durable multi-step execution engine for Go.
// Handlers drive long-running external jobs as a sequence of checkpointed
// steps that survive suspension, process restarts, and host migration.
//
// Ratchet is designed as a library, not a service. Import it, configure a
// store, register handlers as ordinary Go functions, and every step they
// record is replayed — not re-executed — when a run resumes.
//
// # Quick Start
//
//	rt, err := ratchet.New(
//	    ratchet.WithStore(memory.New()),
//	    ratchet.WithConcurrency(20),
//	)
//
// Handlers use two primitives: a checkpointed step call and a
// suspension-capable sleep. A step's side effect executes at most once
// per run; a sleep parks the run with a persisted wake time and releases
// every resource of the attempt until the host reschedules it.
//
// # Architecture
//
// Ratchet follows a composable store pattern where each subsystem (run,
// ledger, cron) defines its own store interface. A single backend
// implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package ratchet
