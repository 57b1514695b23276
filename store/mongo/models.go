package mongo

import (
	"fmt"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
	"github.com/ratchetlabs/ratchet/run"
)

// ── Run model ─────────────────────────────────────────────────────

type runModel struct {
	ID          string     `bson:"_id"`
	Handler     string     `bson:"handler"`
	Version     int        `bson:"version"`
	State       string     `bson:"state"`
	Input       []byte     `bson:"input,omitempty"`
	Output      []byte     `bson:"output,omitempty"`
	Error       string     `bson:"error"`
	Attempt     int        `bson:"attempt"`
	ClaimedBy   string     `bson:"claimed_by,omitempty"`
	WakeAt      *time.Time `bson:"wake_at,omitempty"`
	StartedAt   time.Time  `bson:"started_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toRunModel(r *run.Run) *runModel {
	return &runModel{
		ID:          r.ID.String(),
		Handler:     r.Handler,
		Version:     r.Version,
		State:       string(r.State),
		Input:       r.Input,
		Output:      r.Output,
		Error:       r.Error,
		Attempt:     r.Attempt,
		ClaimedBy:   r.ClaimedBy.String(),
		WakeAt:      r.WakeAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromRunModel(m *runModel) (*run.Run, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ratchet/mongo: parse run id %q: %w", m.ID, err)
	}

	r := &run.Run{
		Entity: ratchet.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Handler:     m.Handler,
		Version:     m.Version,
		State:       run.State(m.State),
		Input:       m.Input,
		Output:      m.Output,
		Error:       m.Error,
		Attempt:     m.Attempt,
		WakeAt:      m.WakeAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}

	if m.ClaimedBy != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.ClaimedBy)
		if wErr == nil {
			r.ClaimedBy = parsedWorker
		}
	}

	return r, nil
}

// ── Step record model ─────────────────────────────────────────────

type stepModel struct {
	RunID      string     `bson:"run_id"`
	Index      int        `bson:"index"`
	Kind       string     `bson:"kind"`
	Name       string     `bson:"name,omitempty"`
	Outcome    string     `bson:"outcome"`
	Payload    []byte     `bson:"payload,omitempty"`
	Error      string     `bson:"error,omitempty"`
	WakeAt     *time.Time `bson:"wake_at,omitempty"`
	Resumed    bool       `bson:"resumed"`
	RecordedAt time.Time  `bson:"recorded_at"`
}

func toStepModel(rec *ledger.StepRecord) *stepModel {
	return &stepModel{
		RunID:      rec.RunID.String(),
		Index:      rec.Index,
		Kind:       string(rec.Kind),
		Name:       rec.Name,
		Outcome:    string(rec.Outcome),
		Payload:    rec.Payload,
		Error:      rec.Error,
		WakeAt:     rec.WakeAt,
		Resumed:    rec.Resumed,
		RecordedAt: rec.RecordedAt,
	}
}

func fromStepModel(m *stepModel) (*ledger.StepRecord, error) {
	parsedID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("ratchet/mongo: parse run id %q: %w", m.RunID, err)
	}

	return &ledger.StepRecord{
		RunID:      parsedID,
		Index:      m.Index,
		Kind:       ledger.Kind(m.Kind),
		Name:       m.Name,
		Outcome:    ledger.Outcome(m.Outcome),
		Payload:    m.Payload,
		Error:      m.Error,
		WakeAt:     m.WakeAt,
		Resumed:    m.Resumed,
		RecordedAt: m.RecordedAt,
	}, nil
}

// ── Cron entry model ──────────────────────────────────────────────

type cronEntryModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Schedule    string     `bson:"schedule"`
	Handler     string     `bson:"handler"`
	Input       []byte     `bson:"input,omitempty"`
	LastFiredAt *time.Time `bson:"last_fired_at,omitempty"`
	NextFireAt  *time.Time `bson:"next_fire_at,omitempty"`
	Enabled     bool       `bson:"enabled"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toCronModel(e *cron.Entry) *cronEntryModel {
	return &cronEntryModel{
		ID:          e.ID.String(),
		Name:        e.Name,
		Schedule:    e.Schedule,
		Handler:     e.Handler,
		Input:       e.Input,
		LastFiredAt: e.LastFiredAt,
		NextFireAt:  e.NextFireAt,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCronModel(m *cronEntryModel) (*cron.Entry, error) {
	parsedID, err := id.ParseCronID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ratchet/mongo: parse cron id %q: %w", m.ID, err)
	}

	return &cron.Entry{
		Entity: ratchet.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Name:        m.Name,
		Schedule:    m.Schedule,
		Handler:     m.Handler,
		Input:       m.Input,
		LastFiredAt: m.LastFiredAt,
		NextFireAt:  m.NextFireAt,
		Enabled:     m.Enabled,
	}, nil
}
