package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
)

// RegisterCron persists a new cron entry. Returns an error if the name
// already exists.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ratchet_cron_entries (
			id, name, schedule, handler, input,
			last_fired_at, next_fire_at, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.Handler, entry.Input,
		nullableNS(entry.LastFiredAt), nullableNS(entry.NextFireAt), entry.Enabled,
		nsOf(entry.CreatedAt), nsOf(entry.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrDuplicateCron
		}
		return fmt.Errorf("ratchet/sqlite: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, name, schedule, handler, input,
			last_fired_at, next_fire_at, enabled,
			created_at, updated_at
		FROM ratchet_cron_entries
		WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ratchet.ErrCronNotFound
		}
		return nil, fmt.Errorf("ratchet/sqlite: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, name, schedule, handler, input,
			last_fired_at, next_fire_at, enabled,
			created_at, updated_at
		FROM ratchet_cron_entries
		ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: list crons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ratchet/sqlite: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: iterate cron rows: %w", err)
	}
	return entries, nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextFireAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ratchet_cron_entries SET
			name = ?, schedule = ?, handler = ?, input = ?,
			last_fired_at = ?, next_fire_at = ?, enabled = ?,
			updated_at = ?
		WHERE id = ?`,
		entry.Name, entry.Schedule, entry.Handler, entry.Input,
		nullableNS(entry.LastFiredAt), nullableNS(entry.NextFireAt), entry.Enabled,
		nsOf(time.Now().UTC()),
		entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("ratchet/sqlite: update cron entry: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
		return ratchet.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ratchet_cron_entries WHERE id = ?`, entryID.String())
	if err != nil {
		return fmt.Errorf("ratchet/sqlite: delete cron: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
		return ratchet.ErrCronNotFound
	}
	return nil
}

// ClaimCronFire atomically advances the entry's next fire time from
// scheduled to next. The row predicate on next_fire_at is the
// compare-and-swap: at most one host wins each scheduled fire.
func (s *Store) ClaimCronFire(ctx context.Context, entryID id.CronID, scheduled, next time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ratchet_cron_entries
		SET last_fired_at = ?, next_fire_at = ?, updated_at = ?
		WHERE id = ? AND next_fire_at = ?`,
		scheduled.UnixNano(), next.UnixNano(), nsOf(time.Now().UTC()),
		entryID.String(), scheduled.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("ratchet/sqlite: claim cron fire: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
		// Check if the entry exists at all.
		var exists bool
		existErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM ratchet_cron_entries WHERE id = ?)`,
			entryID.String(),
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("ratchet/sqlite: check cron exists: %w", existErr)
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
func scanCron(row rowScanner) (*cron.Entry, error) {
	var (
		e         cron.Entry
		idStr     string
		lastNS    sql.NullInt64
		nextNS    sql.NullInt64
		createdNS int64
		updatedNS int64
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.Handler, &e.Input,
		&lastNS, &nextNS, &e.Enabled,
		&createdNS, &updatedNS,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("ratchet/sqlite: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID
	e.LastFiredAt = timePtrOf(lastNS)
	e.NextFireAt = timePtrOf(nextNS)
	e.CreatedAt = timeOf(createdNS)
	e.UpdatedAt = timeOf(updatedNS)

	return &e, nil
}
