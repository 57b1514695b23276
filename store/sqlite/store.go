package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver

	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
)

//go:embed schema.sql
var schemaSQL string

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ run.Store    = (*Store)(nil)
	_ ledger.Store = (*Store)(nil)
	_ cron.Store   = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store using database/sql with
// the pure-Go modernc driver. Suitable for embedded deployments, CLI
// tools, and single-host installs; the run claim happens inside a write
// transaction, so one database never produces two live attempts.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	ownsDB  bool
	busyMS  int
	walMode bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBusyTimeout sets the sqlite busy_timeout pragma. Zero disables it.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.busyMS = int(d / time.Millisecond)
	}
}

// WithWAL toggles write-ahead logging. Enabled by default.
func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.walMode = enabled
	}
}

// New opens (creating if needed) the database file at path. The Store owns
// the handle and closes it on Close. Use ":memory:" for an ephemeral
// database.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: open %s: %w", path, err)
	}

	// SQLite allows one writer at a time; funneling all access through a
	// single connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:      db,
		logger:  slog.Default(),
		ownsDB:  true,
		busyMS:  5000,
		walMode: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.applyPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// NewFromDB creates a Store over an existing handle. The caller owns the
// db lifecycle; Close is a no-op.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) applyPragmas(ctx context.Context) error {
	if s.busyMS > 0 {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", s.busyMS)); err != nil {
			return fmt.Errorf("ratchet/sqlite: set busy_timeout: %w", err)
		}
	}
	if s.walMode {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("ratchet/sqlite: enable wal: %w", err)
		}
	}
	return nil
}

// Migrate creates the schema. Safe to call repeatedly; every statement is
// IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ratchet/sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database if the Store opened it. For NewFromDB stores
// the caller owns the handle and Close is a no-op.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}
