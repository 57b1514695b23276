package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/ledger"
)

// AppendStep inserts a step record. The unique compound index on
// (run_id, index) enforces append-once: the losing writer of a race
// gets ErrDuplicateStep.
func (s *Store) AppendStep(ctx context.Context, rec *ledger.StepRecord) error {
	_, err := s.db.Collection(colLedger).InsertOne(ctx, toStepModel(rec))
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrDuplicateStep
		}
		return fmt.Errorf("ratchet/mongo: append step: %w", err)
	}
	return nil
}

// GetStep retrieves the record at the given index, or nil if no record
// exists there yet.
func (s *Store) GetStep(ctx context.Context, runID id.RunID, index int) (*ledger.StepRecord, error) {
	var m stepModel
	err := s.db.Collection(colLedger).FindOne(ctx, bson.M{
		"run_id": runID.String(),
		"index":  index,
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil // absence is not an error
		}
		return nil, fmt.Errorf("ratchet/mongo: get step: %w", err)
	}
	return fromStepModel(&m)
}

// CountSteps returns the number of recorded steps for a run.
func (s *Store) CountSteps(ctx context.Context, runID id.RunID) (int, error) {
	count, err := s.db.Collection(colLedger).CountDocuments(ctx, bson.M{"run_id": runID.String()})
	if err != nil {
		return 0, fmt.Errorf("ratchet/mongo: count steps: %w", err)
	}
	return int(count), nil
}

// ListSteps returns all records for a run ordered by step index.
func (s *Store) ListSteps(ctx context.Context, runID id.RunID) ([]*ledger.StepRecord, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "index", Value: 1}})
	cursor, err := s.db.Collection(colLedger).Find(ctx, bson.M{"run_id": runID.String()}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ratchet/mongo: list steps: %w", err)
	}
	defer cursor.Close(ctx)

	var models []stepModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ratchet/mongo: list steps decode: %w", err)
	}

	records := make([]*ledger.StepRecord, 0, len(models))
	for i := range models {
		rec, convErr := fromStepModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("ratchet/mongo: list steps convert: %w", convErr)
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkResumed flips the Resumed flag on a satisfied sleep record. The
// flag is bookkeeping outside the immutable outcome.
func (s *Store) MarkResumed(ctx context.Context, runID id.RunID, index int) error {
	res, err := s.db.Collection(colLedger).UpdateOne(ctx,
		bson.M{"run_id": runID.String(), "index": index},
		bson.M{"$set": bson.M{"resumed": true}},
	)
	if err != nil {
		return fmt.Errorf("ratchet/mongo: mark resumed: %w", err)
	}
	if res.MatchedCount == 0 {
		return ratchet.ErrStepNotFound
	}
	return nil
}

// PurgeRun deletes all ledger records for a run. Purging a run with no
// records is a no-op.
func (s *Store) PurgeRun(ctx context.Context, runID id.RunID) error {
	_, err := s.db.Collection(colLedger).DeleteMany(ctx, bson.M{"run_id": runID.String()})
	if err != nil {
		return fmt.Errorf("ratchet/mongo: purge run: %w", err)
	}
	return nil
}
