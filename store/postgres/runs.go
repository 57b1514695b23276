package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ratchet_runs (
			id, handler, version, state, input, output, error,
			attempt, claimed_by, wake_at, started_at, completed_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID.String(), r.Handler, r.Version, string(r.State), r.Input, r.Output, r.Error,
		r.Attempt, nilIfEmpty(r.ClaimedBy.String()), r.WakeAt, r.StartedAt, r.CompletedAt,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrRunAlreadyExists
		}
		return fmt.Errorf("ratchet/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, handler, version, state, input, output, error,
			attempt, claimed_by, wake_at, started_at, completed_at,
			created_at, updated_at
		FROM ratchet_runs
		WHERE id = $1`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ratchet.ErrRunNotFound
		}
		return nil, fmt.Errorf("ratchet/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run and touches updated_at.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ratchet_runs SET
			handler = $2, version = $3, state = $4, input = $5, output = $6,
			error = $7, attempt = $8, claimed_by = $9, wake_at = $10,
			started_at = $11, completed_at = $12, updated_at = NOW()
		WHERE id = $1`,
		r.ID.String(), r.Handler, r.Version, string(r.State), r.Input, r.Output,
		r.Error, r.Attempt, nilIfEmpty(r.ClaimedBy.String()), r.WakeAt,
		r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ratchet/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ratchet.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run by ID.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ratchet_runs WHERE id = $1`, runID.String())
	if err != nil {
		return fmt.Errorf("ratchet/postgres: delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ratchet.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the given options, ordered by ID
// (TypeIDs are K-sortable, so this is creation order).
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	query := `
		SELECT
			id, handler, version, state, input, output, error,
			attempt, claimed_by, wake_at, started_at, completed_at,
			created_at, updated_at
		FROM ratchet_runs`
	var (
		conds  []string
		args   []interface{}
		argIdx = 1
	)

	if opts.Handler != "" {
		conds = append(conds, fmt.Sprintf("handler = $%d", argIdx))
		args = append(args, opts.Handler)
		argIdx++
	}
	if opts.State != "" {
		conds = append(conds, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, string(opts.State))
		argIdx++
	}
	if !opts.CompletedBefore.IsZero() {
		conds = append(conds, fmt.Sprintf("completed_at IS NOT NULL AND completed_at < $%d", argIdx))
		args = append(args, opts.CompletedBefore)
		argIdx++
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ratchet/postgres: list runs: %w", err)
	}

	return collectRuns(rows)
}

// ClaimDueRuns atomically claims up to limit sleeping runs whose wake time
// is at or before now. Uses SELECT FOR UPDATE SKIP LOCKED so hosts sharing
// the store never claim the same run twice.
func (s *Store) ClaimDueRuns(ctx context.Context, now time.Time, limit int, workerID id.WorkerID) ([]*run.Run, error) {
	// The outer query joins back to the table to order by wake_at, which
	// it reads from the statement's snapshot, taken before the update
	// cleared it. Claimed runs come back longest-overdue first.
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE ratchet_runs
			SET state = 'running', attempt = attempt + 1, claimed_by = $1,
				wake_at = NULL, updated_at = NOW()
			WHERE id IN (
				SELECT id FROM ratchet_runs
				WHERE state = 'sleeping'
				  AND wake_at <= $2
				ORDER BY wake_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT NULLIF($3, 0)
			)
			RETURNING
				id, handler, version, state, input, output, error,
				attempt, claimed_by, wake_at, started_at, completed_at,
				created_at, updated_at
		)
		SELECT
			c.id, c.handler, c.version, c.state, c.input, c.output, c.error,
			c.attempt, c.claimed_by, c.wake_at, c.started_at, c.completed_at,
			c.created_at, c.updated_at
		FROM claimed c
		JOIN ratchet_runs r ON r.id = c.id
		ORDER BY r.wake_at ASC, r.id ASC`,
		workerID.String(), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ratchet/postgres: claim due runs: %w", err)
	}

	return collectRuns(rows)
}

// TouchRun bumps updated_at while workerID still holds the claim.
func (s *Store) TouchRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ratchet_runs
		SET updated_at = NOW()
		WHERE id = $1 AND state = 'running' AND claimed_by = $2`,
		runID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("ratchet/postgres: touch run: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Check if the run exists at all.
		var exists bool
		existErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM ratchet_runs WHERE id = $1)`,
			runID.String(),
		).Scan(&exists)
		if existErr != nil {
			return fmt.Errorf("ratchet/postgres: check run exists: %w", existErr)
		}
		if !exists {
			return ratchet.ErrRunNotFound
		}
		// The claim moved on; a stale heartbeat must not refresh it.
		return nil
	}

	return nil
}

// RequeueStaleRuns moves running runs not updated since olderThan back to
// sleeping with an immediate wake time.
func (s *Store) RequeueStaleRuns(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ratchet_runs
		SET state = 'sleeping', wake_at = NOW(), claimed_by = NULL, updated_at = NOW()
		WHERE state = 'running' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("ratchet/postgres: requeue stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CancelRun moves a non-terminal run to the cancelled state.
func (s *Store) CancelRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE ratchet_runs
		SET state = 'cancelled', wake_at = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state IN ('running', 'sleeping')
		RETURNING
			id, handler, version, state, input, output, error,
			attempt, claimed_by, wake_at, started_at, completed_at,
			created_at, updated_at`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err == nil {
		return r, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("ratchet/postgres: cancel run: %w", err)
	}

	// No live row matched: the run is missing or already terminal.
	cur, getErr := s.GetRun(ctx, runID)
	if getErr != nil {
		return nil, getErr
	}
	if cur.State == run.StateCancelled {
		// Idempotent: cancelling twice is not an error.
		return cur, nil
	}
	return nil, ratchet.ErrInvalidState
}

// scanRun scans a single run row.
func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		r         run.Run
		idStr     string
		stateStr  string
		claimedBy *string
	)
	err := row.Scan(
		&idStr, &r.Handler, &r.Version, &stateStr,
		&r.Input, &r.Output, &r.Error, &r.Attempt,
		&claimedBy, &r.WakeAt, &r.StartedAt, &r.CompletedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("ratchet/postgres: parse run id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID
	r.State = run.State(stateStr)

	if claimedBy != nil && *claimedBy != "" {
		worker, wErr := id.ParseWorkerID(*claimedBy)
		if wErr == nil {
			r.ClaimedBy = worker
		}
	}

	return &r, nil
}

// collectRuns drains rows into runs, closing them when done.
func collectRuns(rows pgx.Rows) ([]*run.Run, error) {
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ratchet/postgres: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ratchet/postgres: iterate run rows: %w", err)
	}
	return runs, nil
}
