package cron

import (
	"context"
	"time"

	"github.com/ratchetlabs/ratchet/id"
)

// Store defines the persistence contract for cron entries.
type Store interface {
	// RegisterCron persists a new cron entry. Returns an error if the name
	// already exists.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron retrieves a cron entry by ID.
	GetCron(ctx context.Context, entryID id.CronID) (*Entry, error)

	// ListCrons returns all cron entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// UpdateCronEntry updates a cron entry (Enabled, Input, etc.).
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes a cron entry by ID.
	DeleteCron(ctx context.Context, entryID id.CronID) error

	// ClaimCronFire atomically advances the entry's NextFireAt from
	// scheduled to next and stamps LastFiredAt = scheduled. Returns false
	// when another host already advanced the entry past scheduled. The
	// compare-and-swap doubles as the distributed lock: at most one host
	// wins each scheduled fire.
	ClaimCronFire(ctx context.Context, entryID id.CronID, scheduled, next time.Time) (bool, error)
}
