package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
)

// RegisterCron persists a new cron entry. Returns an error if the name
// already exists.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ratchet_cron_entries (
			id, name, schedule, handler, input,
			last_fired_at, next_fire_at, enabled,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.Handler, entry.Input,
		entry.LastFiredAt, entry.NextFireAt, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrDuplicateCron
		}
		return fmt.Errorf("ratchet/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, schedule, handler, input,
			last_fired_at, next_fire_at, enabled,
			created_at, updated_at
		FROM ratchet_cron_entries
		WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ratchet.ErrCronNotFound
		}
		return nil, fmt.Errorf("ratchet/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, name, schedule, handler, input,
			last_fired_at, next_fire_at, enabled,
			created_at, updated_at
		FROM ratchet_cron_entries
		ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ratchet/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ratchet/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ratchet/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextFireAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ratchet_cron_entries SET
			name = $2, schedule = $3, handler = $4, input = $5,
			last_fired_at = $6, next_fire_at = $7, enabled = $8,
			updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.Handler, entry.Input,
		entry.LastFiredAt, entry.NextFireAt, entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("ratchet/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ratchet.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ratchet_cron_entries WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("ratchet/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ratchet.ErrCronNotFound
	}
	return nil
}

// ClaimCronFire atomically advances the entry's next fire time from
// scheduled to next. The row predicate on next_fire_at is the
// compare-and-swap: at most one host wins each scheduled fire.
func (s *Store) ClaimCronFire(ctx context.Context, entryID id.CronID, scheduled, next time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ratchet_cron_entries
		SET last_fired_at = $2, next_fire_at = $3, updated_at = NOW()
		WHERE id = $1 AND next_fire_at = $2`,
		entryID.String(), scheduled, next,
	)
	if err != nil {
		return false, fmt.Errorf("ratchet/postgres: claim cron fire: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Check if the entry exists at all.
		var exists bool
		existErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM ratchet_cron_entries WHERE id = $1)`,
			entryID.String(),
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("ratchet/postgres: check cron exists: %w", existErr)
		}
		if !exists {
			return false, ratchet.ErrCronNotFound
		}
		// Another host already advanced the entry past scheduled.
		return false, nil
	}

	return true, nil
}

// scanCron scans a single cron entry row.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e     cron.Entry
		idStr string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.Handler, &e.Input,
		&e.LastFiredAt, &e.NextFireAt, &e.Enabled,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("ratchet/postgres: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}
