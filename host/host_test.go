package host_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/exec"
	"github.com/ratchetlabs/ratchet/host"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
	"github.com/ratchetlabs/ratchet/store/memory"
)

type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(_ context.Context, _ *run.Run, _ int, _ string, _ time.Duration) {
}
func (noopEmitter) EmitStepFailed(_ context.Context, _ *run.Run, _ int, _ string, _ error)  {}
func (noopEmitter) EmitStepReplayed(_ context.Context, _ *run.Run, _ int, _ string)         {}
func (noopEmitter) EmitProgressReported(_ context.Context, _ *run.Run, _ float64, _ string) {}
func (noopEmitter) EmitRunStarted(_ context.Context, _ *run.Run)                            {}
func (noopEmitter) EmitRunCompleted(_ context.Context, _ *run.Run, _ time.Duration)         {}
func (noopEmitter) EmitRunFailed(_ context.Context, _ *run.Run, _ error)                    {}
func (noopEmitter) EmitRunCancelled(_ context.Context, _ *run.Run)                          {}
func (noopEmitter) EmitRunSuspended(_ context.Context, _ *run.Run, _ time.Time)             {}
func (noopEmitter) EmitRunResumed(_ context.Context, _ *run.Run)                            {}

func setupHost(t *testing.T, opts ...host.Option) (*host.Host, *memory.Store, *exec.Registry) {
	t.Helper()

	s := memory.New()
	reg := exec.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := exec.NewRunner(reg, s, s, noopEmitter{}, logger)

	opts = append([]host.Option{host.WithPollInterval(10 * time.Millisecond)}, opts...)
	return host.NewHost(s, s, runner, logger, opts...), s, reg
}

// newSleepingRun returns a run that is due for claiming immediately.
func newSleepingRun(handler string) *run.Run {
	now := time.Now().UTC()
	wake := now.Add(-time.Millisecond)
	r := &run.Run{
		ID:        id.NewRunID(),
		Handler:   handler,
		Version:   1,
		State:     run.StateSleeping,
		Attempt:   1,
		WakeAt:    &wake,
		StartedAt: now,
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return r
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func stopHost(t *testing.T, h *host.Host) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestHost_StartStop(t *testing.T) {
	h, _, _ := setupHost(t)

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be a no-op.
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopHost(t, h)

	// Double stop should be a no-op.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestHost_ExecutesDueRun(t *testing.T) {
	h, s, reg := setupHost(t)

	var calls atomic.Int32
	exec.RegisterDefinition(reg, exec.NewHandler("send-welcome",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			err := ex.Do("send", func(_ context.Context) error {
				calls.Add(1)
				return nil
			})
			return struct{}{}, err
		}))

	rn := newSleepingRun("send-welcome")
	if err := s.CreateRun(context.Background(), rn); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		got, err := s.GetRun(context.Background(), rn.ID)
		return err == nil && got.State == run.StateCompleted
	}, "timed out waiting for the due run to complete")
	stopHost(t, h)

	if calls.Load() != 1 {
		t.Errorf("handler step ran %d times, want 1", calls.Load())
	}
	got, err := s.GetRun(context.Background(), rn.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestHost_BoundedConcurrency(t *testing.T) {
	h, s, reg := setupHost(t, host.WithConcurrency(2))

	var mu sync.Mutex
	var current, peak, total int
	exec.RegisterDefinition(reg, exec.NewHandler("fanout",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			err := ex.Do("work", func(_ context.Context) error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				current--
				total++
				mu.Unlock()
				return nil
			})
			return struct{}{}, err
		}))

	for i := 0; i < 6; i++ {
		if err := s.CreateRun(context.Background(), newSleepingRun("fanout")); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 6
	}, "timed out waiting for all runs to execute")
	stopHost(t, h)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}

func TestHost_HandlerLimitCapsConcurrency(t *testing.T) {
	limits := host.NewLimits(host.HandlerLimit{Handler: "limited", MaxConcurrent: 1})
	h, s, reg := setupHost(t, host.WithConcurrency(4), host.WithLimits(limits))

	var mu sync.Mutex
	var current, peak, total int
	exec.RegisterDefinition(reg, exec.NewHandler("limited",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			err := ex.Do("work", func(_ context.Context) error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				time.Sleep(15 * time.Millisecond)

				mu.Lock()
				current--
				total++
				mu.Unlock()
				return nil
			})
			return struct{}{}, err
		}))

	for i := 0; i < 3; i++ {
		if err := s.CreateRun(context.Background(), newSleepingRun("limited")); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	// Rate-limited claims go back to sleep and are retried on a later
	// poll, so all three still finish.
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 3
	}, "timed out waiting for limited runs to execute")
	stopHost(t, h)

	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
}

func TestHost_HeartbeatKeepsLongAttemptAlive(t *testing.T) {
	h, s, reg := setupHost(t,
		host.WithStaleAfter(60*time.Millisecond),
		host.WithHeartbeatInterval(10*time.Millisecond),
	)

	var calls atomic.Int32
	exec.RegisterDefinition(reg, exec.NewHandler("slow-import",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			err := ex.Do("import", func(_ context.Context) error {
				calls.Add(1)
				// Longer than StaleAfter: only the heartbeat keeps the
				// reaper from handing this run to a second attempt.
				time.Sleep(150 * time.Millisecond)
				return nil
			})
			return struct{}{}, err
		}))

	rn := newSleepingRun("slow-import")
	if err := s.CreateRun(context.Background(), rn); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		got, err := s.GetRun(context.Background(), rn.ID)
		return err == nil && got.State == run.StateCompleted
	}, "timed out waiting for the slow run to complete")
	stopHost(t, h)

	if calls.Load() != 1 {
		t.Errorf("step executed %d times, want exactly 1", calls.Load())
	}
	got, err := s.GetRun(context.Background(), rn.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Attempt != 2 {
		t.Errorf("attempt = %d, want 2 (no reclaim during execution)", got.Attempt)
	}
}

func TestHost_ReapsStaleRuns(t *testing.T) {
	h, s, reg := setupHost(t, host.WithStaleAfter(30*time.Millisecond))

	var calls atomic.Int32
	exec.RegisterDefinition(reg, exec.NewHandler("orphaned",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			err := ex.Do("work", func(_ context.Context) error {
				calls.Add(1)
				return nil
			})
			return struct{}{}, err
		}))

	// A run left in the running state by a host that died: its claim
	// is a minute old and nothing heartbeats it.
	rn := newSleepingRun("orphaned")
	rn.State = run.StateRunning
	rn.WakeAt = nil
	rn.ClaimedBy = id.NewWorkerID()
	rn.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	if err := s.CreateRun(context.Background(), rn); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		got, err := s.GetRun(context.Background(), rn.ID)
		return err == nil && got.State == run.StateCompleted
	}, "timed out waiting for the stale run to be reaped and replayed")
	stopHost(t, h)

	if calls.Load() != 1 {
		t.Errorf("step executed %d times, want 1", calls.Load())
	}
}

func TestHost_SweepsExpiredRuns(t *testing.T) {
	h, s, _ := setupHost(t,
		host.WithRetention(500*time.Millisecond),
		host.WithSweepInterval(10*time.Millisecond),
	)

	now := time.Now().UTC()

	old := newSleepingRun("done")
	old.State = run.StateCompleted
	old.WakeAt = nil
	oldDone := now.Add(-time.Minute)
	old.CompletedAt = &oldDone
	if err := s.CreateRun(context.Background(), old); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.AppendStep(context.Background(), ledger.NewStepSuccess(old.ID, 0, "work", nil)); err != nil {
		t.Fatalf("append step: %v", err)
	}

	fresh := newSleepingRun("done")
	fresh.State = run.StateCompleted
	fresh.WakeAt = nil
	fresh.CompletedAt = &now
	if err := s.CreateRun(context.Background(), fresh); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		_, err := s.GetRun(context.Background(), old.ID)
		return errors.Is(err, ratchet.ErrRunNotFound)
	}, "timed out waiting for the expired run to be swept")
	stopHost(t, h)

	// The expired run's ledger went with it.
	n, err := s.CountSteps(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("count steps: %v", err)
	}
	if n != 0 {
		t.Errorf("expired run still has %d ledger records, want 0", n)
	}
	// The run inside the retention window survived.
	if _, err := s.GetRun(context.Background(), fresh.ID); err != nil {
		t.Errorf("recently completed run was swept: %v", err)
	}
}

func TestHost_StopAbandonsStuckAttempt(t *testing.T) {
	h, s, reg := setupHost(t)

	var calls atomic.Int32
	exec.RegisterDefinition(reg, exec.NewHandler("stuck",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			err := ex.Do("block", func(ctx context.Context) error {
				calls.Add(1)
				<-ctx.Done()
				return ctx.Err()
			})
			return struct{}{}, err
		}))

	rn := newSleepingRun("stuck")
	if err := s.CreateRun(context.Background(), rn); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool { return h.Active() == 1 }, "timed out waiting for the attempt to start")

	// The drain deadline expires while the attempt is blocked, so the
	// host cancels it. The interrupted step must not be memoized as a
	// failure: the run stays running and is replayed after StaleAfter.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := s.GetRun(context.Background(), rn.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.State != run.StateRunning {
		t.Errorf("state after forced stop = %q, want %q", got.State, run.StateRunning)
	}
	if got.Error != "" {
		t.Errorf("run error = %q, want empty (no outcome recorded)", got.Error)
	}
	n, err := s.CountSteps(context.Background(), rn.ID)
	if err != nil {
		t.Fatalf("count steps: %v", err)
	}
	if n != 0 {
		t.Errorf("ledger has %d records, want 0 (interrupted step not recorded)", n)
	}
	if calls.Load() != 1 {
		t.Errorf("step started %d times, want 1", calls.Load())
	}
}
