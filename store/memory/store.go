// Package memory provides an in-memory store for development and testing.
// All data is lost when the process exits.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
	"github.com/ratchetlabs/ratchet/store"
)

// Compile-time check that Store satisfies the aggregate interface.
var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of every subsystem store.
// Safe for concurrent use. Values are copied on write and on read, so
// callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	// runs are keyed by RunID.String().
	runs map[string]*run.Run

	// steps are keyed by stepKey (runID:index).
	steps map[string]*ledger.StepRecord

	// crons are keyed by CronID.String().
	crons map[string]*cron.Entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		runs:  make(map[string]*run.Run),
		steps: make(map[string]*ledger.StepRecord),
		crons: make(map[string]*cron.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Run store
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return ratchet.ErrRunAlreadyExists
	}
	cp := *r
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, ratchet.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.runs[key]; !ok {
		return ratchet.ErrRunNotFound
	}
	cp := *r
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = &cp
	return nil
}

// DeleteRun removes a run by ID.
func (m *Store) DeleteRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	if _, ok := m.runs[key]; !ok {
		return ratchet.ErrRunNotFound
	}
	delete(m.runs, key)
	return nil
}

// ListRuns returns runs matching the given options.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*run.Run
	for _, r := range m.runs {
		if opts.Handler != "" && r.Handler != opts.Handler {
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if !opts.CompletedBefore.IsZero() {
			if r.CompletedAt == nil || !r.CompletedAt.Before(opts.CompletedBefore) {
				continue
			}
		}
		cp := *r
		result = append(result, &cp)
	}

	// TypeIDs are K-sortable, so ID order is creation order.
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ClaimDueRuns claims up to limit sleeping runs whose wake time has passed.
func (m *Store) ClaimDueRuns(_ context.Context, now time.Time, limit int, workerID id.WorkerID) ([]*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*run.Run
	for _, r := range m.runs {
		if r.State != run.StateSleeping {
			continue
		}
		if r.WakeAt == nil || r.WakeAt.After(now) {
			continue
		}
		due = append(due, r)
	}

	// Longest-overdue first; ID breaks ties deterministically.
	sort.Slice(due, func(i, j int) bool {
		if due[i].WakeAt.Equal(*due[j].WakeAt) {
			return due[i].ID.String() < due[j].ID.String()
		}
		return due[i].WakeAt.Before(*due[j].WakeAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*run.Run, 0, len(due))
	for _, r := range due {
		r.State = run.StateRunning
		r.Attempt++
		r.ClaimedBy = workerID
		r.WakeAt = nil
		r.UpdatedAt = time.Now().UTC()
		cp := *r
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// TouchRun bumps UpdatedAt while workerID still holds the claim.
func (m *Store) TouchRun(_ context.Context, runID id.RunID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return ratchet.ErrRunNotFound
	}
	if r.State != run.StateRunning || r.ClaimedBy.String() != workerID.String() {
		// The claim moved on; a stale heartbeat must not refresh it.
		return nil
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// RequeueStaleRuns moves running runs not updated since olderThan back to
// sleeping with an immediate wake time.
func (m *Store) RequeueStaleRuns(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	requeued := 0
	for _, r := range m.runs {
		if r.State != run.StateRunning {
			continue
		}
		if !r.UpdatedAt.Before(olderThan) {
			continue
		}
		wake := now
		r.State = run.StateSleeping
		r.WakeAt = &wake
		r.ClaimedBy = id.Nil
		r.UpdatedAt = now
		requeued++
	}
	return requeued, nil
}

// CancelRun moves a non-terminal run to the cancelled state.
func (m *Store) CancelRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, ratchet.ErrRunNotFound
	}
	switch r.State {
	case run.StateCancelled:
		// Idempotent: cancelling twice is not an error.
		cp := *r
		return &cp, nil
	case run.StateCompleted, run.StateFailed:
		return nil, ratchet.ErrInvalidState
	}

	now := time.Now().UTC()
	r.State = run.StateCancelled
	r.WakeAt = nil
	r.CompletedAt = &now
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Step ledger
// ──────────────────────────────────────────────────

// stepKey builds the composite map key for a ledger record.
func stepKey(runID id.RunID, index int) string {
	return runID.String() + ":" + strconv.Itoa(index)
}

// AppendStep writes a record, enforcing append-once on (RunID, Index).
func (m *Store) AppendStep(_ context.Context, rec *ledger.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stepKey(rec.RunID, rec.Index)
	if _, exists := m.steps[key]; exists {
		return ratchet.ErrDuplicateStep
	}
	cp := *rec
	m.steps[key] = &cp
	return nil
}

// GetStep retrieves the record at (runID, index). Absence is not an error.
func (m *Store) GetStep(_ context.Context, runID id.RunID, index int) (*ledger.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.steps[stepKey(runID, index)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// CountSteps returns the number of records for the run.
func (m *Store) CountSteps(_ context.Context, runID id.RunID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runID.String() + ":"
	count := 0
	for key := range m.steps {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count, nil
}

// ListSteps returns all records for the run ordered by index.
func (m *Store) ListSteps(_ context.Context, runID id.RunID) ([]*ledger.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runID.String() + ":"
	var result []*ledger.StepRecord
	for key, rec := range m.steps {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}

// MarkResumed flips the Resumed flag on the record at (runID, index).
func (m *Store) MarkResumed(_ context.Context, runID id.RunID, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.steps[stepKey(runID, index)]
	if !ok {
		return ratchet.ErrStepNotFound
	}
	rec.Resumed = true
	return nil
}

// PurgeRun removes every ledger record for the run.
func (m *Store) PurgeRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := runID.String() + ":"
	for key := range m.steps {
		if strings.HasPrefix(key, prefix) {
			delete(m.steps, key)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Cron store
// ──────────────────────────────────────────────────

// RegisterCron persists a new cron entry.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return ratchet.ErrDuplicateCron
		}
	}
	cp := *entry
	m.crons[entry.ID.String()] = &cp
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, ratchet.ErrCronNotFound
	}
	cp := *e
	return &cp, nil
}

// ListCrons returns all cron entries ordered by name.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// UpdateCronEntry updates a cron entry.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return ratchet.ErrCronNotFound
	}
	cp := *entry
	cp.UpdatedAt = time.Now().UTC()
	m.crons[key] = &cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return ratchet.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}

// ClaimCronFire advances NextFireAt from scheduled to next if no other
// host has done so yet.
func (m *Store) ClaimCronFire(_ context.Context, entryID id.CronID, scheduled, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, ratchet.ErrCronNotFound
	}
	if e.NextFireAt == nil || !e.NextFireAt.Equal(scheduled) {
		return false, nil
	}
	fired := scheduled
	nextFire := next
	e.LastFiredAt = &fired
	e.NextFireAt = &nextFire
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}
