package exec_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ratchetlabs/ratchet/exec"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/store/memory"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRunnerWithStore creates a runner using an explicit store.
func newTestRunnerWithStore(s *memory.Store) (*exec.Runner, *exec.Registry) {
	reg := exec.NewRegistry()
	runner := exec.NewRunner(reg, s, s, noopEmitter{}, testLogger())
	return runner, reg
}

// wakeRun claims a sleeping run as due and resumes it, the way the
// host's claim loop would. The claim uses the run's own wake time as
// "now", so tests can wake timers that have not elapsed in wall-clock
// time and exercise the re-suspension path.
func wakeRun(t *testing.T, runner *exec.Runner, s *memory.Store, runID id.RunID) {
	t.Helper()

	rn, err := s.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rn.WakeAt == nil {
		t.Fatalf("run %s has no wake time", runID)
	}
	claimed, err := s.ClaimDueRuns(context.Background(), *rn.WakeAt, 1, id.NewWorkerID())
	if err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d runs, want 1", len(claimed))
	}
	if err := runner.Resume(context.Background(), runID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
}
