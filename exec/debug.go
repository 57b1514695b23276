package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
)

// TimelineEntry is one recorded step in a run's execution history.
type TimelineEntry struct {
	Index      int            `json:"index"`
	Kind       ledger.Kind    `json:"kind"`
	Name       string         `json:"name"`
	Outcome    ledger.Outcome `json:"outcome,omitempty"`
	Error      string         `json:"error,omitempty"`
	WakeAt     *time.Time     `json:"wake_at,omitempty"`
	Resumed    bool           `json:"resumed,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Timeline returns the ordered step history of a run, one entry per
// ledger record. This enables point-in-time inspection of how far a
// run has progressed and what each step produced.
func (r *Runner) Timeline(ctx context.Context, runID id.RunID) ([]TimelineEntry, error) {
	records, err := r.ledger.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list ledger records for run %s: %w", runID, err)
	}

	entries := make([]TimelineEntry, len(records))
	for i, rec := range records {
		entries[i] = TimelineEntry{
			Index:      rec.Index,
			Kind:       rec.Kind,
			Name:       rec.Name,
			Outcome:    rec.Outcome,
			Error:      rec.Error,
			WakeAt:     rec.WakeAt,
			Resumed:    rec.Resumed,
			RecordedAt: rec.RecordedAt,
		}
	}

	return entries, nil
}

// InspectStep returns the recorded payload for a specific step index of
// a run, allowing the saved result to be decoded and examined.
func (r *Runner) InspectStep(ctx context.Context, runID id.RunID, index int) ([]byte, error) {
	rec, err := r.ledger.GetStep(ctx, runID, index)
	if err != nil {
		return nil, fmt.Errorf("get ledger record %d for run %s: %w", index, runID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("run %s index %d: %w", runID, index, ratchet.ErrStepNotFound)
	}
	return rec.Payload, nil
}
