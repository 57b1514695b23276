package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
)

// RegisterCron persists a new cron entry. The unique name index rejects
// a second entry with the same name.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.db.Collection(colCronEntries).InsertOne(ctx, toCronModel(entry))
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrDuplicateCron
		}
		return fmt.Errorf("ratchet/mongo: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	var m cronEntryModel
	err := s.db.Collection(colCronEntries).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ratchet.ErrCronNotFound
		}
		return nil, fmt.Errorf("ratchet/mongo: get cron: %w", err)
	}
	return fromCronModel(&m)
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.db.Collection(colCronEntries).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ratchet/mongo: list crons: %w", err)
	}
	defer cursor.Close(ctx)

	var models []cronEntryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ratchet/mongo: list crons decode: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromCronModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("ratchet/mongo: list crons convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateCronEntry updates a cron entry (Enabled, Input, etc.). Renaming
// onto a taken name trips the unique index.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	m := toCronModel(entry)
	m.UpdatedAt = now()
	res, err := s.db.Collection(colCronEntries).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		if isDuplicateKey(err) {
			return ratchet.ErrDuplicateCron
		}
		return fmt.Errorf("ratchet/mongo: update cron entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return ratchet.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.Collection(colCronEntries).DeleteOne(ctx, bson.M{"_id": entryID.String()})
	if err != nil {
		return fmt.Errorf("ratchet/mongo: delete cron: %w", err)
	}
	if res.DeletedCount == 0 {
		return ratchet.ErrCronNotFound
	}
	return nil
}

// ClaimCronFire atomically advances the entry's NextFireAt from
// scheduled to next. The filter on the current next_fire_at is the
// compare-and-swap: at most one host matches per scheduled fire.
func (s *Store) ClaimCronFire(ctx context.Context, entryID id.CronID, scheduled, next time.Time) (bool, error) {
	col := s.db.Collection(colCronEntries)
	eID := entryID.String()

	filter := bson.M{
		"_id":          eID,
		"next_fire_at": scheduled,
	}
	update := bson.M{
		"$set": bson.M{
			"last_fired_at": scheduled,
			"next_fire_at":  next,
			"updated_at":    now(),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m cronEntryModel
	err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			// Check if the entry exists at all.
			count, existErr := col.CountDocuments(ctx, bson.M{"_id": eID})
			if existErr != nil {
				return false, fmt.Errorf("ratchet/mongo: check cron exists: %w", existErr)
			}
			if count == 0 {
				return false, ratchet.ErrCronNotFound
			}
			// Another host already advanced the entry past scheduled.
			return false, nil
		}
		return false, fmt.Errorf("ratchet/mongo: claim cron fire: %w", err)
	}
	return true, nil
}
