// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED run claims, append-once ledger writes via the
// table's composite primary key, embedded SQL migrations.
package postgres
