package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
// Primary keys on TEXT columns are backed by unique indexes, so this covers
// both primary-key and UNIQUE conflicts.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nilIfEmpty converts an empty string to nil so the column stores NULL.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nsOf converts a time to the integer nanosecond form it is stored in.
func nsOf(t time.Time) int64 {
	return t.UnixNano()
}

// timeOf converts stored nanoseconds back to a UTC time.
func timeOf(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// nullableNS converts an optional time to its nullable column value.
func nullableNS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// timePtrOf converts a nullable column value back to an optional time.
func timePtrOf(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(0, ns.Int64).UTC()
	return &t
}
