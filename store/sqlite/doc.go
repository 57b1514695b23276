// Package sqlite implements the store using database/sql with the pure-Go
// modernc.org/sqlite driver. Suitable for embedded/edge deployments, CLI
// tools, and standalone applications; no server process is required.
//
// Open a store from a file path (created on first use):
//
//	st, err := sqlite.New("/var/lib/app/ratchet.db")
//	if err != nil { ... }
//	defer st.Close()
//	if err := st.Migrate(ctx); err != nil { ... }
//
// Times are stored as integer Unix nanoseconds, so round-trips preserve
// full precision. Run claims execute inside a write transaction; the
// ledger's append-once guarantee rides on the table's composite primary
// key.
package sqlite
