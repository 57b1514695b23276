package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.db.Collection(colRuns).InsertOne(ctx, toRunModel(r))
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrRunAlreadyExists
		}
		return fmt.Errorf("ratchet/mongo: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	var m runModel
	err := s.db.Collection(colRuns).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ratchet.ErrRunNotFound
		}
		return nil, fmt.Errorf("ratchet/mongo: get run: %w", err)
	}
	return fromRunModel(&m)
}

// UpdateRun persists changes to an existing run and touches updated_at.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	m := toRunModel(r)
	m.UpdatedAt = now()
	res, err := s.db.Collection(colRuns).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("ratchet/mongo: update run: %w", err)
	}
	if res.MatchedCount == 0 {
		return ratchet.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run by ID.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	res, err := s.db.Collection(colRuns).DeleteOne(ctx, bson.M{"_id": runID.String()})
	if err != nil {
		return fmt.Errorf("ratchet/mongo: delete run: %w", err)
	}
	if res.DeletedCount == 0 {
		return ratchet.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the given options, ordered by ID
// (TypeIDs are K-sortable, so this is creation order).
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	filter := bson.M{}
	if opts.Handler != "" {
		filter["handler"] = opts.Handler
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	if !opts.CompletedBefore.IsZero() {
		filter["completed_at"] = bson.M{"$ne": nil, "$lt": opts.CompletedBefore}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colRuns).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ratchet/mongo: list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []runModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ratchet/mongo: list runs decode: %w", err)
	}

	runs := make([]*run.Run, 0, len(models))
	for i := range models {
		r, convErr := fromRunModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("ratchet/mongo: list runs convert: %w", convErr)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// ClaimDueRuns atomically claims up to limit sleeping runs whose wake
// time is at or before now. Each claim is a FindOneAndUpdate, so two
// claimants never take the same run; candidates come back longest-overdue
// first. A limit of zero claims every due run.
func (s *Store) ClaimDueRuns(ctx context.Context, now time.Time, limit int, workerID id.WorkerID) ([]*run.Run, error) {
	col := s.db.Collection(colRuns)
	var claimed []*run.Run

	for {
		if limit > 0 && len(claimed) >= limit {
			break
		}

		filter := bson.M{
			"state":   string(run.StateSleeping),
			"wake_at": bson.M{"$ne": nil, "$lte": now},
		}
		update := bson.M{
			"$set": bson.M{
				"state":      string(run.StateRunning),
				"claimed_by": workerID.String(),
				"updated_at": time.Now().UTC(),
			},
			"$unset": bson.M{"wake_at": ""},
			"$inc":   bson.M{"attempt": 1},
		}
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{
				{Key: "wake_at", Value: 1},
				{Key: "_id", Value: 1},
			})

		var m runModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("ratchet/mongo: claim due runs: %w", err)
		}

		r, convErr := fromRunModel(&m)
		if convErr != nil {
			return nil, fmt.Errorf("ratchet/mongo: claim convert: %w", convErr)
		}
		claimed = append(claimed, r)
	}

	return claimed, nil
}

// TouchRun bumps updated_at while workerID still holds the claim.
func (s *Store) TouchRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	col := s.db.Collection(colRuns)
	res, err := col.UpdateOne(ctx,
		bson.M{
			"_id":        runID.String(),
			"state":      string(run.StateRunning),
			"claimed_by": workerID.String(),
		},
		bson.M{"$set": bson.M{"updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("ratchet/mongo: touch run: %w", err)
	}
	if res.MatchedCount == 0 {
		// Check if the run exists at all.
		count, existErr := col.CountDocuments(ctx, bson.M{"_id": runID.String()})
		if existErr != nil {
			return fmt.Errorf("ratchet/mongo: check run exists: %w", existErr)
		}
		if count == 0 {
			return ratchet.ErrRunNotFound
		}
		// The claim moved on; a stale heartbeat must not refresh it.
		return nil
	}
	return nil
}

// RequeueStaleRuns moves running runs not updated since olderThan back
// to sleeping with an immediate wake time.
func (s *Store) RequeueStaleRuns(ctx context.Context, olderThan time.Time) (int, error) {
	t := now()
	res, err := s.db.Collection(colRuns).UpdateMany(ctx,
		bson.M{
			"state":      string(run.StateRunning),
			"updated_at": bson.M{"$lt": olderThan},
		},
		bson.M{
			"$set": bson.M{
				"state":      string(run.StateSleeping),
				"wake_at":    t,
				"updated_at": t,
			},
			"$unset": bson.M{"claimed_by": ""},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("ratchet/mongo: requeue stale runs: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// CancelRun moves a non-terminal run to the cancelled state.
func (s *Store) CancelRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	t := now()
	filter := bson.M{
		"_id": runID.String(),
		"state": bson.M{"$in": []string{
			string(run.StateRunning),
			string(run.StateSleeping),
		}},
	}
	update := bson.M{
		"$set": bson.M{
			"state":        string(run.StateCancelled),
			"completed_at": t,
			"updated_at":   t,
		},
		"$unset": bson.M{"wake_at": "", "claimed_by": ""},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m runModel
	err := s.db.Collection(colRuns).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			// No live run matched: the run is missing or already terminal.
			cur, getErr := s.GetRun(ctx, runID)
			if getErr != nil {
				return nil, getErr
			}
			if cur.State == run.StateCancelled {
				// Idempotent: cancelling twice is not an error.
				return cur, nil
			}
			return nil, ratchet.ErrInvalidState
		}
		return nil, fmt.Errorf("ratchet/mongo: cancel run: %w", err)
	}
	return fromRunModel(&m)
}
