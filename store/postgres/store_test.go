package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
)

// newTestStore connects to the database named by RATCHET_POSTGRES_URL and
// runs migrations. Tests are skipped when the variable is unset. Fixtures
// use fresh TypeIDs throughout, so reusing one database across runs is fine.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("RATCHET_POSTGRES_URL")
	if url == "" {
		t.Skip("RATCHET_POSTGRES_URL not set; skipping postgres store tests")
	}

	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

// newRun builds a run fixture. Times are truncated to microseconds, the
// finest granularity timestamptz round-trips.
func newRun(handler string, state run.State) *run.Run {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &run.Run{
		Entity:    ratchet.Entity{CreatedAt: now, UpdatedAt: now},
		ID:        id.NewRunID(),
		Handler:   handler,
		Version:   1,
		State:     state,
		Input:     []byte(`{"input":true}`),
		Attempt:   1,
		StartedAt: now,
	}
}

// uniqueHandler returns a handler name no other test run shares, so list
// and claim assertions are not confused by leftover rows.
func uniqueHandler(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, id.NewRunID().String()[4:12])
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)

	// newTestStore already migrated once; a second pass must be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	wake := now.Add(time.Minute)
	done := now.Add(2 * time.Minute)
	worker := id.NewWorkerID()

	r := newRun(uniqueHandler("round-trip"), run.StateSleeping)
	r.Output = []byte(`{"ok":1}`)
	r.Error = "transient glitch"
	r.Attempt = 3
	r.ClaimedBy = worker
	r.WakeAt = &wake
	r.CompletedAt = &done

	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, r); !errors.Is(err, ratchet.ErrRunAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrRunAlreadyExists", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID.String() != r.ID.String() {
		t.Errorf("ID: got %s, want %s", got.ID, r.ID)
	}
	if got.Handler != r.Handler || got.Version != r.Version || got.State != r.State {
		t.Errorf("got %q/%d/%s, want %q/%d/%s",
			got.Handler, got.Version, got.State, r.Handler, r.Version, r.State)
	}
	if string(got.Input) != string(r.Input) || string(got.Output) != string(r.Output) {
		t.Errorf("payload mismatch: input %q output %q", got.Input, got.Output)
	}
	if got.Error != r.Error || got.Attempt != r.Attempt {
		t.Errorf("got error %q attempt %d, want %q %d", got.Error, got.Attempt, r.Error, r.Attempt)
	}
	if got.ClaimedBy.String() != worker.String() {
		t.Errorf("ClaimedBy: got %s, want %s", got.ClaimedBy, worker)
	}
	if got.WakeAt == nil || !got.WakeAt.Equal(wake) {
		t.Errorf("WakeAt: got %v, want %v", got.WakeAt, wake)
	}
	if !got.StartedAt.Equal(r.StartedAt) {
		t.Errorf("StartedAt: got %v, want %v", got.StartedAt, r.StartedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt: got %v, want %v", got.CompletedAt, done)
	}

	_, err = s.GetRun(ctx, id.NewRunID())
	if !errors.Is(err, ratchet.ErrRunNotFound) {
		t.Fatalf("missing run: got %v, want ErrRunNotFound", err)
	}
}

func TestRunUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newRun(uniqueHandler("update"), run.StateRunning)
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	r.State = run.StateCompleted
	r.Output = []byte(`"done"`)
	r.CompletedAt = &now
	r.ClaimedBy = id.Nil
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != run.StateCompleted || string(got.Output) != `"done"` {
		t.Fatalf("got state %s output %q after update", got.State, got.Output)
	}
	if !got.ClaimedBy.IsNil() {
		t.Fatalf("ClaimedBy not cleared: %s", got.ClaimedBy)
	}
	// The store stamps updated_at server-side, so compare against the
	// created value rather than the local clock.
	if got.UpdatedAt.Equal(r.UpdatedAt) {
		t.Fatalf("UpdatedAt not touched: %v", got.UpdatedAt)
	}

	if err := s.DeleteRun(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if err := s.DeleteRun(ctx, r.ID); !errors.Is(err, ratchet.ErrRunNotFound) {
		t.Fatalf("second delete: got %v, want ErrRunNotFound", err)
	}
	if err := s.UpdateRun(ctx, r); !errors.Is(err, ratchet.ErrRunNotFound) {
		t.Fatalf("update deleted: got %v, want ErrRunNotFound", err)
	}
}

func TestListRunsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	handler := uniqueHandler("list")

	var created []*run.Run
	for i := 0; i < 3; i++ {
		r := newRun(handler, run.StateSleeping)
		if i == 2 {
			r.State = run.StateCompleted
			done := time.Now().UTC().Truncate(time.Microsecond)
			r.CompletedAt = &done
		}
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun %d: %v", i, err)
		}
		created = append(created, r)
	}

	all, err := s.ListRuns(ctx, run.ListOpts{Handler: handler})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d runs, want 3", len(all))
	}
	// TypeIDs are K-sortable, so list order is creation order.
	for i, r := range all {
		if r.ID.String() != created[i].ID.String() {
			t.Fatalf("position %d: got %s, want %s", i, r.ID, created[i].ID)
		}
	}

	sleeping, err := s.ListRuns(ctx, run.ListOpts{Handler: handler, State: run.StateSleeping})
	if err != nil {
		t.Fatalf("ListRuns by state: %v", err)
	}
	if len(sleeping) != 2 {
		t.Fatalf("got %d sleeping runs, want 2", len(sleeping))
	}

	swept, err := s.ListRuns(ctx, run.ListOpts{
		Handler:         handler,
		CompletedBefore: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ListRuns completed-before: %v", err)
	}
	if len(swept) != 1 || swept[0].ID.String() != created[2].ID.String() {
		t.Fatalf("completed-before filter returned %d runs", len(swept))
	}

	limited, err := s.ListRuns(ctx, run.ListOpts{Handler: handler, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns limit/offset: %v", err)
	}
	if len(limited) != 1 || limited[0].ID.String() != created[1].ID.String() {
		t.Fatalf("limit/offset returned wrong page")
	}
}

// mine filters claimed down to the given IDs, preserving order. Claim
// sweeps the whole table, so a shared database may return other rows too.
func mine(claimed []*run.Run, ids map[string]bool) []*run.Run {
	var out []*run.Run
	for _, r := range claimed {
		if ids[r.ID.String()] {
			out = append(out, r)
		}
	}
	return out
}

func TestClaimDueRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	handler := uniqueHandler("claim")

	older := newRun(handler, run.StateSleeping)
	olderWake := now.Add(-2 * time.Minute)
	older.WakeAt = &olderWake

	newer := newRun(handler, run.StateSleeping)
	newerWake := now.Add(-time.Minute)
	newer.WakeAt = &newerWake

	future := newRun(handler, run.StateSleeping)
	futureWake := now.Add(time.Hour)
	future.WakeAt = &futureWake

	ids := map[string]bool{}
	for _, r := range []*run.Run{older, newer, future} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		ids[r.ID.String()] = true
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimDueRuns(ctx, now, 0, worker)
	if err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}

	got := mine(claimed, ids)
	if len(got) != 2 {
		t.Fatalf("claimed %d of mine, want 2", len(got))
	}
	// Longest-overdue first.
	if got[0].ID.String() != older.ID.String() || got[1].ID.String() != newer.ID.String() {
		t.Fatalf("claim order: got %s, %s", got[0].ID, got[1].ID)
	}
	for _, r := range got {
		if r.State != run.StateRunning {
			t.Errorf("run %s: state %s, want running", r.ID, r.State)
		}
		if r.Attempt != 2 {
			t.Errorf("run %s: attempt %d, want 2", r.ID, r.Attempt)
		}
		if r.ClaimedBy.String() != worker.String() {
			t.Errorf("run %s: claimed by %s, want %s", r.ID, r.ClaimedBy, worker)
		}
		if r.WakeAt != nil {
			t.Errorf("run %s: WakeAt not cleared", r.ID)
		}
	}

	// The future run must be untouched, and a second claim finds nothing.
	left, err := s.GetRun(ctx, future.ID)
	if err != nil {
		t.Fatalf("GetRun future: %v", err)
	}
	if left.State != run.StateSleeping || left.Attempt != 1 {
		t.Fatalf("future run touched: state %s attempt %d", left.State, left.Attempt)
	}

	again, err := s.ClaimDueRuns(ctx, now, 0, worker)
	if err != nil {
		t.Fatalf("second ClaimDueRuns: %v", err)
	}
	if n := len(mine(again, ids)); n != 0 {
		t.Fatalf("second claim returned %d of mine, want 0", n)
	}
}

func TestTouchAndRequeueStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	handler := uniqueHandler("stale")

	r := newRun(handler, run.StateSleeping)
	due := now.Add(-time.Minute)
	r.WakeAt = &due
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	ids := map[string]bool{r.ID.String(): true}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimDueRuns(ctx, now, 0, worker)
	if err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}
	if len(mine(claimed, ids)) != 1 {
		t.Fatalf("claim missed the run")
	}

	if err := s.TouchRun(ctx, r.ID, worker); err != nil {
		t.Fatalf("TouchRun: %v", err)
	}
	// A superseded worker's heartbeat is dropped without error.
	if err := s.TouchRun(ctx, r.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("stale TouchRun: %v", err)
	}
	if err := s.TouchRun(ctx, id.NewRunID(), worker); !errors.Is(err, ratchet.ErrRunNotFound) {
		t.Fatalf("touch missing run: got %v, want ErrRunNotFound", err)
	}

	// With a cutoff in the future every running run is stale, ours included.
	n, err := s.RequeueStaleRuns(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleRuns: %v", err)
	}
	if n < 1 {
		t.Fatalf("requeued %d runs, want at least 1", n)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != run.StateSleeping {
		t.Fatalf("state %s after requeue, want sleeping", got.State)
	}
	if got.WakeAt == nil {
		t.Fatalf("WakeAt not set after requeue")
	}
	if !got.ClaimedBy.IsNil() {
		t.Fatalf("ClaimedBy not cleared after requeue: %s", got.ClaimedBy)
	}
	if got.Attempt != 2 {
		t.Fatalf("requeue changed attempt: %d", got.Attempt)
	}
}

func TestCancelRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parked := newRun(uniqueHandler("cancel"), run.StateSleeping)
	wake := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	parked.WakeAt = &wake
	if err := s.CreateRun(ctx, parked); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	cancelled, err := s.CancelRun(ctx, parked.ID)
	if err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if cancelled.State != run.StateCancelled {
		t.Fatalf("state %s, want cancelled", cancelled.State)
	}
	if cancelled.WakeAt != nil {
		t.Fatalf("WakeAt survived cancel")
	}
	if cancelled.CompletedAt == nil {
		t.Fatalf("CompletedAt not stamped")
	}

	// Idempotent second cancel.
	again, err := s.CancelRun(ctx, parked.ID)
	if err != nil {
		t.Fatalf("second CancelRun: %v", err)
	}
	if again.State != run.StateCancelled {
		t.Fatalf("second cancel state %s", again.State)
	}

	done := newRun(uniqueHandler("cancel-done"), run.StateCompleted)
	doneAt := time.Now().UTC().Truncate(time.Microsecond)
	done.CompletedAt = &doneAt
	if err := s.CreateRun(ctx, done); err != nil {
		t.Fatalf("CreateRun completed: %v", err)
	}
	if _, err := s.CancelRun(ctx, done.ID); !errors.Is(err, ratchet.ErrInvalidState) {
		t.Fatalf("cancel completed: got %v, want ErrInvalidState", err)
	}

	if _, err := s.CancelRun(ctx, id.NewRunID()); !errors.Is(err, ratchet.ErrRunNotFound) {
		t.Fatalf("cancel missing: got %v, want ErrRunNotFound", err)
	}
}

func TestLedgerAppendOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := id.NewRunID()

	rec := ledger.NewStepSuccess(runID, 0, "reserve-stock", []byte(`{"sku":"x1"}`))
	rec.RecordedAt = rec.RecordedAt.Truncate(time.Microsecond)
	if err := s.AppendStep(ctx, rec); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}

	dup := ledger.NewStepFailure(runID, 0, "reserve-stock", errors.New("should not land"))
	if err := s.AppendStep(ctx, dup); !errors.Is(err, ratchet.ErrDuplicateStep) {
		t.Fatalf("duplicate append: got %v, want ErrDuplicateStep", err)
	}

	// The first write won; the record is unchanged.
	got, err := s.GetStep(ctx, runID, 0)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if got == nil {
		t.Fatalf("GetStep returned nil for existing record")
	}
	if got.Outcome != ledger.OutcomeSuccess || string(got.Payload) != `{"sku":"x1"}` {
		t.Fatalf("record altered: outcome %s payload %q", got.Outcome, got.Payload)
	}
	if got.Kind != ledger.KindStep || got.Name != "reserve-stock" {
		t.Fatalf("got kind %s name %q", got.Kind, got.Name)
	}
	if !got.RecordedAt.Equal(rec.RecordedAt) {
		t.Fatalf("RecordedAt: got %v, want %v", got.RecordedAt, rec.RecordedAt)
	}

	// Absence is not an error.
	missing, err := s.GetStep(ctx, runID, 7)
	if err != nil || missing != nil {
		t.Fatalf("missing step: got %v, %v", missing, err)
	}
}

func TestLedgerListCountPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := id.NewRunID()
	wake := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)

	records := []*ledger.StepRecord{
		ledger.NewStepSuccess(runID, 0, "reserve", []byte(`1`)),
		ledger.NewSleep(runID, 1, "settle", wake),
		ledger.NewStepFailure(runID, 2, "charge", errors.New("card declined")),
	}
	for _, rec := range records {
		if err := s.AppendStep(ctx, rec); err != nil {
			t.Fatalf("AppendStep %d: %v", rec.Index, err)
		}
	}

	n, err := s.CountSteps(ctx, runID)
	if err != nil {
		t.Fatalf("CountSteps: %v", err)
	}
	if n != 3 {
		t.Fatalf("count %d, want 3", n)
	}

	listed, err := s.ListSteps(ctx, runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("listed %d, want 3", len(listed))
	}
	for i, rec := range listed {
		if rec.Index != i {
			t.Fatalf("position %d holds index %d", i, rec.Index)
		}
	}
	if listed[1].Kind != ledger.KindSleep || listed[1].WakeAt == nil || !listed[1].WakeAt.Equal(wake) {
		t.Fatalf("sleep record mangled: %+v", listed[1])
	}
	if listed[2].Outcome != ledger.OutcomeFailure || listed[2].Error != "card declined" {
		t.Fatalf("failure record mangled: %+v", listed[2])
	}

	if err := s.MarkResumed(ctx, runID, 1); err != nil {
		t.Fatalf("MarkResumed: %v", err)
	}
	if err := s.MarkResumed(ctx, runID, 9); !errors.Is(err, ratchet.ErrStepNotFound) {
		t.Fatalf("mark missing: got %v, want ErrStepNotFound", err)
	}
	after, err := s.GetStep(ctx, runID, 1)
	if err != nil {
		t.Fatalf("GetStep after mark: %v", err)
	}
	if !after.Resumed {
		t.Fatalf("Resumed flag not set")
	}

	if err := s.PurgeRun(ctx, runID); err != nil {
		t.Fatalf("PurgeRun: %v", err)
	}
	n, err = s.CountSteps(ctx, runID)
	if err != nil {
		t.Fatalf("CountSteps after purge: %v", err)
	}
	if n != 0 {
		t.Fatalf("count %d after purge, want 0", n)
	}
	// Purging an already-empty run is a no-op.
	if err := s.PurgeRun(ctx, runID); err != nil {
		t.Fatalf("second PurgeRun: %v", err)
	}
}

func TestCronRegisterAndClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scheduled := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	entry := &cron.Entry{
		Entity:     ratchet.NewEntity(),
		ID:         id.NewCronID(),
		Name:       uniqueHandler("nightly-report"),
		Schedule:   "0 3 * * *",
		Handler:    "build-report",
		Input:      []byte(`{"region":"eu"}`),
		NextFireAt: &scheduled,
		Enabled:    true,
	}
	entry.CreatedAt = entry.CreatedAt.Truncate(time.Microsecond)
	entry.UpdatedAt = entry.UpdatedAt.Truncate(time.Microsecond)

	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	sameName := &cron.Entry{
		Entity:   ratchet.NewEntity(),
		ID:       id.NewCronID(),
		Name:     entry.Name,
		Schedule: "0 4 * * *",
		Handler:  "build-report",
		Enabled:  true,
	}
	if err := s.RegisterCron(ctx, sameName); !errors.Is(err, ratchet.ErrDuplicateCron) {
		t.Fatalf("duplicate name: got %v, want ErrDuplicateCron", err)
	}

	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.Schedule != entry.Schedule || got.Handler != entry.Handler {
		t.Fatalf("got %q/%q", got.Schedule, got.Handler)
	}
	if string(got.Input) != `{"region":"eu"}` {
		t.Fatalf("input mangled: %q", got.Input)
	}
	if got.NextFireAt == nil || !got.NextFireAt.Equal(scheduled) {
		t.Fatalf("NextFireAt: got %v, want %v", got.NextFireAt, scheduled)
	}

	// First claim wins, second loses the compare-and-swap.
	next := scheduled.Add(24 * time.Hour)
	won, err := s.ClaimCronFire(ctx, entry.ID, scheduled, next)
	if err != nil {
		t.Fatalf("ClaimCronFire: %v", err)
	}
	if !won {
		t.Fatalf("first claim lost")
	}
	won, err = s.ClaimCronFire(ctx, entry.ID, scheduled, next)
	if err != nil {
		t.Fatalf("second ClaimCronFire: %v", err)
	}
	if won {
		t.Fatalf("second claim won; the swap did not advance")
	}
	if _, err := s.ClaimCronFire(ctx, id.NewCronID(), scheduled, next); !errors.Is(err, ratchet.ErrCronNotFound) {
		t.Fatalf("claim missing entry: got %v, want ErrCronNotFound", err)
	}

	after, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron after claim: %v", err)
	}
	if after.LastFiredAt == nil || !after.LastFiredAt.Equal(scheduled) {
		t.Fatalf("LastFiredAt: got %v, want %v", after.LastFiredAt, scheduled)
	}
	if after.NextFireAt == nil || !after.NextFireAt.Equal(next) {
		t.Fatalf("NextFireAt: got %v, want %v", after.NextFireAt, next)
	}
}

func TestCronUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &cron.Entry{
		Entity:   ratchet.NewEntity(),
		ID:       id.NewCronID(),
		Name:     uniqueHandler("hourly-sync"),
		Schedule: "@hourly",
		Handler:  "sync-inventory",
		Enabled:  true,
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	entry.Enabled = false
	entry.Schedule = "@daily"
	if err := s.UpdateCronEntry(ctx, entry); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.Enabled || got.Schedule != "@daily" {
		t.Fatalf("update not applied: enabled=%v schedule=%q", got.Enabled, got.Schedule)
	}

	if err := s.DeleteCron(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if err := s.DeleteCron(ctx, entry.ID); !errors.Is(err, ratchet.ErrCronNotFound) {
		t.Fatalf("second delete: got %v, want ErrCronNotFound", err)
	}
	if _, err := s.GetCron(ctx, entry.ID); !errors.Is(err, ratchet.ErrCronNotFound) {
		t.Fatalf("get deleted: got %v, want ErrCronNotFound", err)
	}

	missing := &cron.Entry{Entity: ratchet.NewEntity(), ID: id.NewCronID(), Name: uniqueHandler("ghost")}
	if err := s.UpdateCronEntry(ctx, missing); !errors.Is(err, ratchet.ErrCronNotFound) {
		t.Fatalf("update missing: got %v, want ErrCronNotFound", err)
	}
}
