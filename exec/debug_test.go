package exec_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/exec"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
)

func TestTimeline(t *testing.T) {
	runner, reg, _ := newTestRunner()

	exec.RegisterDefinition(reg, exec.NewHandler("audited",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			if err := ex.Do("reserve", func(_ context.Context) error { return nil }); err != nil {
				return struct{}{}, err
			}
			if err := ex.Sleep("grace-period", 0); err != nil {
				return struct{}{}, err
			}
			err := ex.Do("charge", func(_ context.Context) error {
				return errors.New("card declined")
			})
			return struct{}{}, err
		}))

	rn, err := exec.Start(context.Background(), runner, "audited", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	tl, err := runner.Timeline(context.Background(), rn.ID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(tl) != 3 {
		t.Fatalf("timeline length = %d, want 3", len(tl))
	}

	if tl[0].Index != 0 || tl[0].Kind != ledger.KindStep || tl[0].Name != "reserve" {
		t.Errorf("entry 0 = %+v, want the reserve step", tl[0])
	}
	if tl[0].Outcome != ledger.OutcomeSuccess {
		t.Errorf("entry 0 outcome = %q, want %q", tl[0].Outcome, ledger.OutcomeSuccess)
	}
	if tl[1].Kind != ledger.KindSleep || !tl[1].Resumed {
		t.Errorf("entry 1 = %+v, want a consumed sleep", tl[1])
	}
	if tl[2].Outcome != ledger.OutcomeFailure || tl[2].Error != "card declined" {
		t.Errorf("entry 2 = %+v, want the recorded failure", tl[2])
	}
}

func TestTimeline_EmptyRun(t *testing.T) {
	runner, _, _ := newTestRunner()

	tl, err := runner.Timeline(context.Background(), id.NewRunID())
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(tl) != 0 {
		t.Errorf("timeline length = %d, want 0", len(tl))
	}
}

func TestInspectStep(t *testing.T) {
	runner, reg, _ := newTestRunner()

	type tally struct {
		N int `json:"n"`
	}

	exec.RegisterDefinition(reg, exec.NewHandler("tallied",
		func(ex *exec.Execution, _ struct{}) (struct{}, error) {
			_, err := exec.Step(ex, "count", func(_ context.Context) (tally, error) {
				return tally{N: 7}, nil
			})
			return struct{}{}, err
		}))

	rn, err := exec.Start(context.Background(), runner, "tallied", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	payload, err := runner.InspectStep(context.Background(), rn.ID, 0)
	if err != nil {
		t.Fatalf("InspectStep: %v", err)
	}
	if string(payload) != `{"n":7}` {
		t.Errorf("payload = %s, want %s", payload, `{"n":7}`)
	}

	// Missing index.
	_, err = runner.InspectStep(context.Background(), rn.ID, 5)
	if !errors.Is(err, ratchet.ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
}
