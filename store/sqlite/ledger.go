package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
)

// AppendStep durably writes a ledger record. The table's composite primary
// key (run_id, step_index) enforces append-once: the losing writer of a
// race gets ErrDuplicateStep.
func (s *Store) AppendStep(ctx context.Context, rec *ledger.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ratchet_ledger (
			run_id, step_index, kind, name, outcome, payload, error,
			wake_at, resumed, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID.String(), rec.Index, string(rec.Kind), rec.Name, string(rec.Outcome),
		rec.Payload, rec.Error, nullableNS(rec.WakeAt), rec.Resumed, nsOf(rec.RecordedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrDuplicateStep
		}
		return fmt.Errorf("ratchet/sqlite: append step: %w", err)
	}
	return nil
}

// GetStep retrieves the record at (runID, index). Absence is not an error.
func (s *Store) GetStep(ctx context.Context, runID id.RunID, index int) (*ledger.StepRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			run_id, step_index, kind, name, outcome, payload, error,
			wake_at, resumed, recorded_at
		FROM ratchet_ledger
		WHERE run_id = ? AND step_index = ?`,
		runID.String(), index,
	)

	rec, err := scanStep(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ratchet/sqlite: get step: %w", err)
	}
	return rec, nil
}

// CountSteps returns the number of ledger records for the run.
func (s *Store) CountSteps(ctx context.Context, runID id.RunID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ratchet_ledger WHERE run_id = ?`,
		runID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ratchet/sqlite: count steps: %w", err)
	}
	return count, nil
}

// ListSteps returns all records for the run ordered by index.
func (s *Store) ListSteps(ctx context.Context, runID id.RunID) ([]*ledger.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			run_id, step_index, kind, name, outcome, payload, error,
			wake_at, resumed, recorded_at
		FROM ratchet_ledger
		WHERE run_id = ?
		ORDER BY step_index ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*ledger.StepRecord
	for rows.Next() {
		rec, scanErr := scanStep(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ratchet/sqlite: scan step row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ratchet/sqlite: iterate step rows: %w", err)
	}
	return records, nil
}

// MarkResumed flips the Resumed flag on the record at (runID, index).
func (s *Store) MarkResumed(ctx context.Context, runID id.RunID, index int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ratchet_ledger
		SET resumed = 1
		WHERE run_id = ? AND step_index = ?`,
		runID.String(), index,
	)
	if err != nil {
		return fmt.Errorf("ratchet/sqlite: mark resumed: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite driver always returns nil
	if rows == 0 {
		return ratchet.ErrStepNotFound
	}
	return nil
}

// PurgeRun removes every ledger record for the run.
func (s *Store) PurgeRun(ctx context.Context, runID id.RunID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM ratchet_ledger WHERE run_id = ?`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("ratchet/sqlite: purge run: %w", err)
	}
	return nil
}

// scanStep scans a single ledger record row.
func scanStep(row rowScanner) (*ledger.StepRecord, error) {
	var (
		rec        ledger.StepRecord
		runIDStr   string
		kindStr    string
		outcomeStr string
		wakeNS     sql.NullInt64
		recordedNS int64
	)
	err := row.Scan(
		&runIDStr, &rec.Index, &kindStr, &rec.Name, &outcomeStr,
		&rec.Payload, &rec.Error, &wakeNS, &rec.Resumed, &recordedNS,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRunID(runIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("ratchet/sqlite: parse run id %q: %w", runIDStr, parseErr)
	}
	rec.RunID = parsedID
	rec.Kind = ledger.Kind(kindStr)
	rec.Outcome = ledger.Outcome(outcomeStr)
	rec.WakeAt = timePtrOf(wakeNS)
	rec.RecordedAt = timeOf(recordedNS)

	return &rec, nil
}
