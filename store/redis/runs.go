package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// CreateRun stores the run as a Hash and indexes it for claiming.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	rID := r.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ratchet/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return ratchet.ErrRunAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, runToMap(r))
	pipe.SAdd(ctx, runIDsKey, rID)
	s.syncIndexes(ctx, pipe, r)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratchet/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	vals, err := s.client.HGetAll(ctx, runKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("ratchet/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, ratchet.ErrRunNotFound
	}
	return mapToRun(vals)
}

// UpdateRun persists changes to an existing run and touches updated_at.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	rID := r.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ratchet/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return ratchet.ErrRunNotFound
	}

	stamp := time.Now().UTC()
	fields := runToMap(r)
	fields["updated_at"] = stamp.Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	// Hash fields outlive the struct fields that produced them, so cleared
	// optionals must be deleted explicitly.
	if r.WakeAt == nil {
		pipe.HDel(ctx, key, "wake_at")
	}
	if r.CompletedAt == nil {
		pipe.HDel(ctx, key, "completed_at")
	}
	if r.ClaimedBy.IsNil() {
		pipe.HDel(ctx, key, "claimed_by")
	}
	indexed := *r
	indexed.UpdatedAt = stamp
	s.syncIndexes(ctx, pipe, &indexed)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratchet/redis: update run: %w", err)
	}
	return nil
}

// DeleteRun removes a run and its index entries.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	rID := runID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ratchet/redis: delete run exists: %w", err)
	}
	if exists == 0 {
		return ratchet.ErrRunNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, runIDsKey, rID)
	pipe.ZRem(ctx, dueKey, rID)
	pipe.ZRem(ctx, runningKey, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratchet/redis: delete run: %w", err)
	}
	return nil
}

// ListRuns returns runs matching the given options, ordered by ID
// (TypeIDs are K-sortable, so this is creation order).
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ratchet/redis: list runs smembers: %w", err)
	}
	sort.Strings(ids)

	var runs []*run.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			continue
		}
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
		runs = append(runs, r)
	}

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(runs) {
		runs = runs[opts.Offset:]
	} else if opts.Offset >= len(runs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// ClaimDueRuns claims up to limit sleeping runs whose wake time is at or
// before now. Candidates come from the due Sorted Set in wake order;
// removing a member is the claim token, so of two racing claimants only
// the one whose ZRem returns 1 takes the run.
func (s *Store) ClaimDueRuns(ctx context.Context, now time.Time, limit int, workerID id.WorkerID) ([]*run.Run, error) {
	rangeBy := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	candidates, err := s.client.ZRangeByScore(ctx, dueKey, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("ratchet/redis: claim range due: %w", err)
	}

	var claimed []*run.Run
	for _, rID := range candidates {
		removed, remErr := s.client.ZRem(ctx, dueKey, rID).Result()
		if remErr != nil {
			return claimed, fmt.Errorf("ratchet/redis: claim zrem: %w", remErr)
		}
		if removed == 0 {
			continue // another claimant won this run
		}

		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil {
			return claimed, fmt.Errorf("ratchet/redis: claim get run: %w", getErr)
		}
		if len(vals) == 0 {
			continue // run deleted; the index entry is gone now too
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			continue
		}
		if r.State != run.StateSleeping {
			// The index lagged the hash; removing the member healed it.
			continue
		}

		stamp := time.Now().UTC()
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, runKey(rID),
			"state", string(run.StateRunning),
			"attempt", strconv.Itoa(r.Attempt+1),
			"claimed_by", workerID.String(),
			"updated_at", stamp.Format(time.RFC3339Nano),
		)
		pipe.HDel(ctx, runKey(rID), "wake_at")
		pipe.ZAdd(ctx, runningKey, goredis.Z{Score: float64(stamp.UnixMilli()), Member: rID})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return claimed, fmt.Errorf("ratchet/redis: claim update: %w", pErr)
		}

		r.State = run.StateRunning
		r.Attempt++
		r.ClaimedBy = workerID
		r.WakeAt = nil
		r.UpdatedAt = stamp
		claimed = append(claimed, r)
	}
	return claimed, nil
}

// TouchRun bumps updated_at while workerID still holds the claim.
func (s *Store) TouchRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	rID := runID.String()
	key := runKey(rID)

	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ratchet/redis: touch run: %w", err)
	}
	if len(vals) == 0 {
		return ratchet.ErrRunNotFound
	}
	if vals["state"] != string(run.StateRunning) || vals["claimed_by"] != workerID.String() {
		// The claim moved on; a stale heartbeat must not refresh it.
		return nil
	}

	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "updated_at", now.Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, runningKey, goredis.Z{Score: float64(now.UnixMilli()), Member: rID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratchet/redis: touch run update: %w", err)
	}
	return nil
}

// RequeueStaleRuns moves running runs whose last heartbeat predates
// olderThan back to sleeping with an immediate wake time.
func (s *Store) RequeueStaleRuns(ctx context.Context, olderThan time.Time) (int, error) {
	stale, err := s.client.ZRangeByScore(ctx, runningKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("ratchet/redis: requeue range stale: %w", err)
	}

	count := 0
	for _, rID := range stale {
		removed, remErr := s.client.ZRem(ctx, runningKey, rID).Result()
		if remErr != nil {
			return count, fmt.Errorf("ratchet/redis: requeue zrem: %w", remErr)
		}
		if removed == 0 {
			continue // another reaper took it
		}

		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil {
			return count, fmt.Errorf("ratchet/redis: requeue get run: %w", getErr)
		}
		if len(vals) == 0 || vals["state"] != string(run.StateRunning) {
			continue
		}

		now := time.Now().UTC()
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, runKey(rID),
			"state", string(run.StateSleeping),
			"wake_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.HDel(ctx, runKey(rID), "claimed_by")
		pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(now.UnixMilli()), Member: rID})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return count, fmt.Errorf("ratchet/redis: requeue update: %w", pErr)
		}
		count++
	}
	return count, nil
}

// CancelRun moves a non-terminal run to the cancelled state.
func (s *Store) CancelRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	rID := runID.String()
	key := runKey(rID)

	cur, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch cur.State {
	case run.StateCancelled:
		// Idempotent: cancelling twice is not an error.
		return cur, nil
	case run.StateCompleted, run.StateFailed:
		return nil, ratchet.ErrInvalidState
	}

	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(run.StateCancelled),
		"completed_at", now.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	pipe.HDel(ctx, key, "wake_at", "claimed_by")
	pipe.ZRem(ctx, dueKey, rID)
	pipe.ZRem(ctx, runningKey, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ratchet/redis: cancel run: %w", err)
	}

	return s.GetRun(ctx, runID)
}

// ── helpers ──

// syncIndexes queues the due/running index updates matching the run's
// state onto the pipeline. Every writer goes through this so the Sorted
// Sets track the hashes.
func (s *Store) syncIndexes(ctx context.Context, pipe goredis.Pipeliner, r *run.Run) {
	rID := r.ID.String()
	switch {
	case r.State == run.StateSleeping && r.WakeAt != nil:
		pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(r.WakeAt.UnixMilli()), Member: rID})
		pipe.ZRem(ctx, runningKey, rID)
	case r.State == run.StateRunning:
		pipe.ZAdd(ctx, runningKey, goredis.Z{Score: float64(r.UpdatedAt.UnixMilli()), Member: rID})
		pipe.ZRem(ctx, dueKey, rID)
	default:
		pipe.ZRem(ctx, dueKey, rID)
		pipe.ZRem(ctx, runningKey, rID)
	}
}

func runToMap(r *run.Run) map[string]interface{} {
	m := map[string]interface{}{
		"id":         r.ID.String(),
		"handler":    r.Handler,
		"version":    strconv.Itoa(r.Version),
		"state":      string(r.State),
		"input":      string(r.Input),
		"output":     string(r.Output),
		"error":      r.Error,
		"attempt":    strconv.Itoa(r.Attempt),
		"started_at": r.StartedAt.Format(time.RFC3339Nano),
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": r.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !r.ClaimedBy.IsNil() {
		m["claimed_by"] = r.ClaimedBy.String()
	}
	if r.WakeAt != nil {
		m["wake_at"] = r.WakeAt.Format(time.RFC3339Nano)
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToRun(m map[string]string) (*run.Run, error) {
	rID, err := id.ParseRunID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("ratchet/redis: parse run id: %w", err)
	}

	version, _ := strconv.Atoi(m["version"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	r := &run.Run{
		Entity: ratchet.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        rID,
		Handler:   m["handler"],
		Version:   version,
		State:     run.State(m["state"]),
		Input:     []byte(m["input"]),
		Output:    []byte(m["output"]),
		Error:     m["error"],
		Attempt:   attempt,
		StartedAt: startedAt,
	}

	if wid := m["claimed_by"]; wid != "" {
		r.ClaimedBy, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["wake_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		r.WakeAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		r.CompletedAt = &t
	}

	return r, nil
}
