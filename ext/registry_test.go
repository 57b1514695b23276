package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ratchetlabs/ratchet/ext"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnRunStarted(_ context.Context, _ *run.Run) error {
	e.calls = append(e.calls, "OnRunStarted")
	return nil
}

func (e *allHooksExt) OnRunCompleted(_ context.Context, _ *run.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunCompleted")
	return nil
}

func (e *allHooksExt) OnRunFailed(_ context.Context, _ *run.Run, _ error) error {
	e.calls = append(e.calls, "OnRunFailed")
	return nil
}

func (e *allHooksExt) OnRunCancelled(_ context.Context, _ *run.Run) error {
	e.calls = append(e.calls, "OnRunCancelled")
	return nil
}

func (e *allHooksExt) OnRunSuspended(_ context.Context, _ *run.Run, _ time.Time) error {
	e.calls = append(e.calls, "OnRunSuspended")
	return nil
}

func (e *allHooksExt) OnRunResumed(_ context.Context, _ *run.Run) error {
	e.calls = append(e.calls, "OnRunResumed")
	return nil
}

func (e *allHooksExt) OnStepCompleted(_ context.Context, _ *run.Run, _ int, _ string, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepCompleted")
	return nil
}

func (e *allHooksExt) OnStepFailed(_ context.Context, _ *run.Run, _ int, _ string, _ error) error {
	e.calls = append(e.calls, "OnStepFailed")
	return nil
}

func (e *allHooksExt) OnStepReplayed(_ context.Context, _ *run.Run, _ int, _ string) error {
	e.calls = append(e.calls, "OnStepReplayed")
	return nil
}

func (e *allHooksExt) OnProgressReported(_ context.Context, _ *run.Run, _ float64, _ string) error {
	e.calls = append(e.calls, "OnProgressReported")
	return nil
}

func (e *allHooksExt) OnCronFired(_ context.Context, _ string, _ id.RunID) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// runOnlyExt only implements run-level hooks.
type runOnlyExt struct {
	calls []string
}

func (e *runOnlyExt) Name() string { return "run-only" }

func (e *runOnlyExt) OnRunStarted(_ context.Context, _ *run.Run) error {
	e.calls = append(e.calls, "OnRunStarted")
	return nil
}

func (e *runOnlyExt) OnRunCompleted(_ context.Context, _ *run.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnRunCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnRunStarted(_ context.Context, _ *run.Run) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// panickyExt panics from its hook.
type panickyExt struct{}

func (e *panickyExt) Name() string { return "panicky" }

func (e *panickyExt) OnRunStarted(_ context.Context, _ *run.Run) error {
	panic("hook exploded")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	ro := &runOnlyExt{}
	r.Register(all)
	r.Register(ro)

	ctx := context.Background()
	rn := &run.Run{Handler: "order-fulfillment"}

	// Both implement OnRunStarted → both called.
	r.EmitRunStarted(ctx, rn)
	if len(all.calls) != 1 || all.calls[0] != "OnRunStarted" {
		t.Fatalf("all: expected [OnRunStarted], got %v", all.calls)
	}
	if len(ro.calls) != 1 || ro.calls[0] != "OnRunStarted" {
		t.Fatalf("ro: expected [OnRunStarted], got %v", ro.calls)
	}

	// Only all implements OnRunSuspended → ro not called.
	r.EmitRunSuspended(ctx, rn, time.Now())
	if len(all.calls) != 2 || all.calls[1] != "OnRunSuspended" {
		t.Fatalf("all: expected OnRunSuspended as 2nd, got %v", all.calls)
	}
	if len(ro.calls) != 1 {
		t.Fatalf("ro: should still have 1 call, got %v", ro.calls)
	}
}

func TestRegistry_AllRunHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	rn := &run.Run{Handler: "order-fulfillment"}

	r.EmitRunStarted(ctx, rn)
	r.EmitRunSuspended(ctx, rn, time.Now().Add(time.Minute))
	r.EmitRunResumed(ctx, rn)
	r.EmitRunCompleted(ctx, rn, time.Second)
	r.EmitRunFailed(ctx, rn, errors.New("fail"))
	r.EmitRunCancelled(ctx, rn)

	expected := []string{
		"OnRunStarted", "OnRunSuspended", "OnRunResumed",
		"OnRunCompleted", "OnRunFailed", "OnRunCancelled",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_AllStepHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	rn := &run.Run{Handler: "order-fulfillment"}

	r.EmitStepCompleted(ctx, rn, 0, "reserve", time.Second)
	r.EmitStepFailed(ctx, rn, 1, "charge", errors.New("step fail"))
	r.EmitStepReplayed(ctx, rn, 0, "reserve")

	expected := []string{"OnStepCompleted", "OnStepFailed", "OnStepReplayed"}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_OtherHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitProgressReported(ctx, &run.Run{}, 0.5, "halfway")
	r.EmitCronFired(ctx, "nightly-reconcile", id.NewRunID())
	r.EmitShutdown(ctx)

	expected := []string{"OnProgressReported", "OnCronFired", "OnShutdown"}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	rn := &run.Run{Handler: "order-fulfillment"}

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitRunStarted(ctx, rn)

	if len(all.calls) != 1 || all.calls[0] != "OnRunStarted" {
		t.Fatalf("all: expected [OnRunStarted] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_HookPanicRecovered(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	// Register the panicking extension first; the panic must not reach
	// the emitter's caller or starve later extensions.
	r.Register(&panickyExt{})
	r.Register(all)

	r.EmitRunStarted(context.Background(), &run.Run{Handler: "order-fulfillment"})

	if len(all.calls) != 1 || all.calls[0] != "OnRunStarted" {
		t.Fatalf("all: expected [OnRunStarted] despite panicking ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitRunStarted(ctx, &run.Run{})
	r.EmitRunCompleted(ctx, &run.Run{}, time.Second)
	r.EmitRunFailed(ctx, &run.Run{}, errors.New("x"))
	r.EmitRunCancelled(ctx, &run.Run{})
	r.EmitRunSuspended(ctx, &run.Run{}, time.Now())
	r.EmitRunResumed(ctx, &run.Run{})
	r.EmitStepCompleted(ctx, &run.Run{}, 0, "s", time.Second)
	r.EmitStepFailed(ctx, &run.Run{}, 0, "s", errors.New("x"))
	r.EmitStepReplayed(ctx, &run.Run{}, 0, "s")
	r.EmitProgressReported(ctx, &run.Run{}, 1, "done")
	r.EmitCronFired(ctx, "test", id.NewRunID())
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	ctx := context.Background()
	r.EmitRunStarted(ctx, &run.Run{})

	// Both should be called.
	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
