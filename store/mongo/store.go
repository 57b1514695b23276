package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
)

// Collection name constants.
const (
	colRuns        = "ratchet_runs"
	colLedger      = "ratchet_ledger"
	colCronEntries = "ratchet_cron_entries"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ run.Store    = (*Store)(nil)
	_ ledger.Store = (*Store)(nil)
	_ cron.Store   = (*Store)(nil)
)

// Store implements the run, ledger, and cron stores on MongoDB.
// The caller owns the client lifecycle; Store never closes it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on the given database handle. The
// caller owns the client lifecycle -- the Store will not close it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all ratchet collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}

		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("ratchet/mongo: migrate %s indexes: %w", col, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// migrationIndexes returns the index definitions for all ratchet collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colRuns: {
			// Due index for claiming sleeping runs.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "wake_at", Value: 1},
			}},
			// Handler index.
			{Keys: bson.D{{Key: "handler", Value: 1}}},
			// Heartbeat index for requeueing stale runs.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
			// Retention sweep index.
			{Keys: bson.D{{Key: "completed_at", Value: 1}}},
		},
		colLedger: {
			// Unique compound index on (run_id, index): the append-once
			// guarantee. A second write for the same key is a duplicate
			// key violation.
			{
				Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "index", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colCronEntries: {
			// Unique name index.
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			// Next fire index for enabled entries.
			{Keys: bson.D{
				{Key: "enabled", Value: 1},
				{Key: "next_fire_at", Value: 1},
			}},
		},
	}
}
