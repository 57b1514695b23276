package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ratchet_runs (
			id, handler, version, state, input, output, error,
			attempt, claimed_by, wake_at, started_at, completed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Handler, r.Version, string(r.State), r.Input, r.Output, r.Error,
		r.Attempt, nilIfEmpty(r.ClaimedBy.String()), nullableNS(r.WakeAt), nsOf(r.StartedAt),
		nullableNS(r.CompletedAt), nsOf(r.CreatedAt), nsOf(r.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrRunAlreadyExists
		}
		return fmt.Errorf("ratchet/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			id, handler, version, state, input, output, error,
			attempt, claimed_by, wake_at, started_at, completed_at,
			created_at, updated_at
		FROM ratchet_runs
		WHERE id = ?`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ratchet.ErrRunNotFound
		}
		return nil, fmt.Errorf("ratchet/sqlite: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run and touches updated_at.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ratchet_runs SET
			handler = ?, version = ?, state = ?, input = ?, output = ?,
			error = ?, attempt = ?, claimed_by = ?, wake_at = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		r.Handler, r.Version, string(r.State), r.Input, r.Output,
		r.Error, r.Attempt, nilIfEmpty(r.ClaimedBy.String()), nullableNS(r.WakeAt),
		nsOf(r.StartedAt), nullableNS(r.CompletedAt), nsOf(time.Now().UTC()),
		r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("ratchet/sqlite: update run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
		return ratchet.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run by ID.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ratchet_runs WHERE id = ?`, runID.String())
	if err != nil {
		return fmt.Errorf("ratchet/sqlite: delete run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
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
		conds []string
		args  []interface{}
	)

	if opts.Handler != "" {
		conds = append(conds, "handler = ?")
		args = append(args, opts.Handler)
	}
	if opts.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(opts.State))
	}
	if !opts.CompletedBefore.IsZero() {
		conds = append(conds, "completed_at IS NOT NULL AND completed_at < ?")
		args = append(args, opts.CompletedBefore.UnixNano())
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY id ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		// SQLite requires a LIMIT before OFFSET; -1 means unlimited.
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: list runs: %w", err)
	}

	return collectRuns(rows)
}

// ClaimDueRuns atomically claims up to limit sleeping runs whose wake time
// is at or before now. The select and update share one write transaction,
// so concurrent claimants never take the same run.
func (s *Store) ClaimDueRuns(ctx context.Context, now time.Time, limit int, workerID id.WorkerID) ([]*run.Run, error) {
	lim := limit
	if lim <= 0 {
		lim = -1 // sqlite treats a negative LIMIT as no limit
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT
			id, handler, version, state, input, output, error,
			attempt, claimed_by, wake_at, started_at, completed_at,
			created_at, updated_at
		FROM ratchet_runs
		WHERE state = 'sleeping' AND wake_at IS NOT NULL AND wake_at <= ?
		ORDER BY wake_at ASC, id ASC
		LIMIT ?`,
		now.UnixNano(), lim,
	)
	if err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: select due runs: %w", err)
	}
	due, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("ratchet/sqlite: commit claim: %w", err)
		}
		return nil, nil
	}

	stamp := time.Now().UTC()
	placeholders := make([]string, len(due))
	args := make([]interface{}, 0, len(due)+2)
	args = append(args, workerID.String(), nsOf(stamp))
	for i, r := range due {
		placeholders[i] = "?"
		args = append(args, r.ID.String())
	}

	query := fmt.Sprintf(`
		UPDATE ratchet_runs
		SET state = 'running', attempt = attempt + 1, claimed_by = ?,
			wake_at = NULL, updated_at = ?
		WHERE id IN (%s)`,
		strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: claim due runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: commit claim: %w", err)
	}

	// Reflect the claim in the returned copies.
	for _, r := range due {
		r.State = run.StateRunning
		r.Attempt++
		r.ClaimedBy = workerID
		r.WakeAt = nil
		r.UpdatedAt = stamp
	}
	return due, nil
}

// TouchRun bumps updated_at while workerID still holds the claim.
func (s *Store) TouchRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ratchet_runs
		SET updated_at = ?
		WHERE id = ? AND state = 'running' AND claimed_by = ?`,
		nsOf(time.Now().UTC()), runID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("ratchet/sqlite: touch run: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
		// Check if the run exists at all.
		var exists bool
		existErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM ratchet_runs WHERE id = ?)`,
			runID.String(),
		).Scan(&exists)
		if existErr != nil {
			return fmt.Errorf("ratchet/sqlite: check run exists: %w", existErr)
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
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE ratchet_runs
		SET state = 'sleeping', wake_at = ?, claimed_by = NULL, updated_at = ?
		WHERE state = 'running' AND updated_at < ?`,
		nsOf(now), nsOf(now), olderThan.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("ratchet/sqlite: requeue stale runs: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	return int(rows), nil
}

// CancelRun moves a non-terminal run to the cancelled state.
func (s *Store) CancelRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE ratchet_runs
		SET state = 'cancelled', wake_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND state IN ('running', 'sleeping')`,
		nsOf(now), nsOf(now), runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: cancel run: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
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

	return s.GetRun(ctx, runID)
}

// scanRun scans a single run row.
func scanRun(row rowScanner) (*run.Run, error) {
	var (
		r           run.Run
		idStr       string
		stateStr    string
		claimedBy   sql.NullString
		wakeNS      sql.NullInt64
		startedNS   int64
		completedNS sql.NullInt64
		createdNS   int64
		updatedNS   int64
	)
	err := row.Scan(
		&idStr, &r.Handler, &r.Version, &stateStr,
		&r.Input, &r.Output, &r.Error, &r.Attempt,
		&claimedBy, &wakeNS, &startedNS, &completedNS,
		&createdNS, &updatedNS,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("ratchet/sqlite: parse run id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID
	r.State = run.State(stateStr)
	r.WakeAt = timePtrOf(wakeNS)
	r.StartedAt = timeOf(startedNS)
	r.CompletedAt = timePtrOf(completedNS)
	r.CreatedAt = timeOf(createdNS)
	r.UpdatedAt = timeOf(updatedNS)

	if claimedBy.Valid && claimedBy.String != "" {
		worker, wErr := id.ParseWorkerID(claimedBy.String)
		if wErr == nil {
			r.ClaimedBy = worker
		}
	}

	return &r, nil
}

// collectRuns drains rows into runs, closing them when done.
func collectRuns(rows *sql.Rows) ([]*run.Run, error) {
	defer func() { _ = rows.Close() }()

	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ratchet/sqlite: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: iterate run rows: %w", err)
	}
	return runs, nil
}
