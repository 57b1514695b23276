// Package store defines the aggregate persistence interface. Each subsystem
// (run, ledger, cron) defines its own store interface. The composite Store
// composes them all. Backends: Postgres, SQLite, Redis, Mongo, and Memory.
package store

import (
	"context"

	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, sqlite, redis, mongo, memory) implements all of them.
type Store interface {
	run.Store
	ledger.Store
	cron.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
