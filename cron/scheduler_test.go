package cron_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/store/memory"
)

// stubEmitter records EmitCronFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	calls []cronFiredCall
}

type cronFiredCall struct {
	EntryName string
	RunID     id.RunID
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, runID id.RunID) {
	e.mu.Lock()
	e.calls = append(e.calls, cronFiredCall{EntryName: entryName, RunID: runID})
	e.mu.Unlock()
}

func (e *stubEmitter) getCalls() []cronFiredCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cronFiredCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// startSpy tracks start calls with thread safety.
type startSpy struct {
	mu    sync.Mutex
	calls []startCall
}

type startCall struct {
	Handler string
	Input   []byte
}

func (s *startSpy) Fn() cron.StartFunc {
	return func(_ context.Context, handler string, input []byte) (id.RunID, error) {
		s.mu.Lock()
		s.calls = append(s.calls, startCall{Handler: handler, Input: input})
		s.mu.Unlock()
		return id.NewRunID(), nil
	}
}

func (s *startSpy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *startSpy) Handlers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Handler
	}
	return out
}

func registerDueEntry(t *testing.T, s *memory.Store, name, handler, schedule string) *cron.Entry {
	t.Helper()

	past := time.Now().UTC().Add(-1 * time.Second)
	entry := &cron.Entry{
		Entity:     ratchet.NewEntity(),
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   schedule,
		Handler:    handler,
		Input:      []byte(`{}`),
		NextFireAt: &past,
		Enabled:    true,
	}

	if err := s.RegisterCron(context.Background(), entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	return entry
}

func newTestScheduler(t *testing.T) (*cron.Scheduler, *memory.Store, *stubEmitter, *startSpy) {
	t.Helper()

	s := memory.New()
	emitter := &stubEmitter{}
	spy := &startSpy{}

	sched := cron.NewScheduler(
		s, spy.Fn(), emitter, nil,
		cron.WithTickInterval(50*time.Millisecond),
	)

	return sched, s, emitter, spy
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestScheduler_FiresOnSchedule(t *testing.T) {
	sched, s, emitter, spy := newTestScheduler(t)

	registerDueEntry(t, s, "every-second", "send-invoice", "@every 1s")

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for at least one fire.
	deadline := time.After(3 * time.Second)
	for spy.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for cron to fire")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	handlers := spy.Handlers()
	if len(handlers) == 0 {
		t.Fatal("expected at least one start call")
	}
	if handlers[0] != "send-invoice" {
		t.Errorf("started handler = %q, want %q", handlers[0], "send-invoice")
	}

	// Verify emitter was called.
	calls := emitter.getCalls()
	if len(calls) == 0 {
		t.Error("expected at least one EmitCronFired call")
	}
	if len(calls) > 0 && calls[0].EntryName != "every-second" {
		t.Errorf("emitter entry name = %q, want %q", calls[0].EntryName, "every-second")
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	sched, s, _, spy := newTestScheduler(t)

	entry := registerDueEntry(t, s, "disabled-cron", "noop-handler", "@every 1s")

	// Disable the entry.
	entry.Enabled = false
	if err := s.UpdateCronEntry(context.Background(), entry); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait a bit — should NOT fire.
	time.Sleep(300 * time.Millisecond)

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if spy.Count() != 0 {
		t.Errorf("expected 0 start calls for disabled entry, got %d", spy.Count())
	}
}

func TestScheduler_AdvancesNextFireAt(t *testing.T) {
	sched, s, _, spy := newTestScheduler(t)

	entry := registerDueEntry(t, s, "advance-next", "compute-handler", "@every 1h")
	entryID := entry.ID

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the fire.
	deadline := time.After(3 * time.Second)
	for spy.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for cron to fire")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	updated, err := s.GetCron(context.Background(), entryID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if updated.NextFireAt == nil {
		t.Fatal("expected NextFireAt to be set")
	}
	if !updated.NextFireAt.After(time.Now().UTC().Add(30 * time.Minute)) {
		t.Errorf("NextFireAt = %v, expected roughly an hour out", updated.NextFireAt)
	}
	if updated.LastFiredAt == nil {
		t.Error("expected LastFiredAt to be set after firing")
	}
}

func TestScheduler_ClaimPreventsDoubleFire(t *testing.T) {
	s := memory.New()

	// Two schedulers share one store, simulating two hosts.
	spyA := &startSpy{}
	spyB := &startSpy{}
	schedA := cron.NewScheduler(s, spyA.Fn(), &stubEmitter{}, nil,
		cron.WithTickInterval(50*time.Millisecond))
	schedB := cron.NewScheduler(s, spyB.Fn(), &stubEmitter{}, nil,
		cron.WithTickInterval(50*time.Millisecond))

	// Due once; the next fire is an hour out, so exactly one host may win.
	registerDueEntry(t, s, "exactly-once", "reconcile", "@every 1h")

	ctx := context.Background()
	if err := schedA.Start(ctx); err != nil {
		t.Fatalf("Start A: %v", err)
	}
	if err := schedB.Start(ctx); err != nil {
		t.Fatalf("Start B: %v", err)
	}

	time.Sleep(400 * time.Millisecond)

	if err := schedA.Stop(ctx); err != nil {
		t.Fatalf("Stop A: %v", err)
	}
	if err := schedB.Stop(ctx); err != nil {
		t.Fatalf("Stop B: %v", err)
	}

	total := spyA.Count() + spyB.Count()
	if total != 1 {
		t.Errorf("total fires across hosts = %d, want exactly 1", total)
	}
}

func TestParseSchedule(t *testing.T) {
	// Descriptor format.
	sched, err := cron.ParseSchedule("@every 30s")
	if err != nil {
		t.Fatalf("ParseSchedule(@every 30s): %v", err)
	}
	now := time.Now().UTC()
	next := sched.Next(now)
	if !next.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next)
	}

	// Standard 5-field expression.
	sched2, err := cron.ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule(*/5 * * * *): %v", err)
	}
	next2 := sched2.Next(now)
	if !next2.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next2)
	}

	// Invalid expression.
	_, err = cron.ParseSchedule("not-a-cron")
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
