package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ratchetlabs/ratchet"
	"github.com/ratchetlabs/ratchet/cron"
	"github.com/ratchetlabs/ratchet/id"
)

// fireTokenTTL bounds how long a fire-claim token outlives its tick. It
// only has to cover the skew window between racing schedulers.
const fireTokenTTL = time.Hour

// ── JSON model for KV storage ──

type cronEntity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Handler     string     `json:"handler"`
	Input       []byte     `json:"input,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toCronEntity(e *cron.Entry) *cronEntity {
	return &cronEntity{
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

func fromCronEntity(e *cronEntity) (*cron.Entry, error) {
	eID, err := id.ParseCronID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("ratchet/redis: parse cron id: %w", err)
	}

	return &cron.Entry{
		Entity: ratchet.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:          eID,
		Name:        e.Name,
		Schedule:    e.Schedule,
		Handler:     e.Handler,
		Input:       e.Input,
		LastFiredAt: e.LastFiredAt,
		NextFireAt:  e.NextFireAt,
		Enabled:     e.Enabled,
	}, nil
}

// RegisterCron persists a new cron entry. HSETNX on the name index makes
// the name claim atomic: the second registration of a name loses.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	ok, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("ratchet/redis: register cron name: %w", err)
	}
	if !ok {
		return ratchet.ErrDuplicateCron
	}

	if err := s.setEntity(ctx, cronKey(eID), toCronEntity(entry)); err != nil {
		return fmt.Errorf("ratchet/redis: register cron set: %w", err)
	}
	if err := s.client.SAdd(ctx, cronIDsKey, eID).Err(); err != nil {
		return fmt.Errorf("ratchet/redis: register cron index: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	var e cronEntity
	if err := s.getEntity(ctx, cronKey(entryID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, ratchet.ErrCronNotFound
		}
		return nil, fmt.Errorf("ratchet/redis: get cron: %w", err)
	}
	return fromCronEntity(&e)
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ratchet/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		var e cronEntity
		if getErr := s.getEntity(ctx, cronKey(eID), &e); getErr != nil {
			continue
		}
		entry, convErr := fromCronEntity(&e)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// UpdateCronEntry updates a cron entry. Renames re-claim the new name
// before releasing the old one.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())

	var existing cronEntity
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return ratchet.ErrCronNotFound
		}
		return fmt.Errorf("ratchet/redis: update cron get: %w", err)
	}

	if existing.Name != entry.Name {
		ok, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, entry.ID.String()).Result()
		if err != nil {
			return fmt.Errorf("ratchet/redis: update cron name: %w", err)
		}
		if !ok {
			return ratchet.ErrDuplicateCron
		}
		if err := s.client.HDel(ctx, cronNamesKey, existing.Name).Err(); err != nil {
			s.logger.Warn("failed to release old cron name", "name", existing.Name, "error", err)
		}
	}

	e := toCronEntity(entry)
	e.UpdatedAt = time.Now().UTC()
	if err := s.setEntity(ctx, key, e); err != nil {
		return fmt.Errorf("ratchet/redis: update cron set: %w", err)
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	// Get name for name index cleanup.
	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return ratchet.ErrCronNotFound
		}
		return fmt.Errorf("ratchet/redis: delete cron get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, cronIDsKey, eID)
	if e.Name != "" {
		pipe.HDel(ctx, cronNamesKey, e.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratchet/redis: delete cron: %w", err)
	}
	return nil
}

// ClaimCronFire advances the entry from scheduled to next. A SETNX token
// keyed by (entry, scheduled tick) breaks ties between hosts whose reads
// both saw NextFireAt == scheduled, so at most one host wins each fire.
func (s *Store) ClaimCronFire(ctx context.Context, entryID id.CronID, scheduled, next time.Time) (bool, error) {
	key := cronKey(entryID.String())

	var e cronEntity
	if err := s.getEntity(ctx, key, &e); err != nil {
		if isNotFound(err) {
			return false, ratchet.ErrCronNotFound
		}
		return false, fmt.Errorf("ratchet/redis: claim cron get: %w", err)
	}
	if e.NextFireAt == nil || !e.NextFireAt.Equal(scheduled) {
		// Another host already advanced the entry past scheduled.
		return false, nil
	}

	won, err := s.client.SetNX(ctx, cronFireKey(entryID.String(), scheduled), "1", fireTokenTTL).Result()
	if err != nil {
		return false, fmt.Errorf("ratchet/redis: claim cron setnx: %w", err)
	}
	if !won {
		return false, nil
	}

	fired := scheduled.UTC()
	upcoming := next.UTC()
	e.LastFiredAt = &fired
	e.NextFireAt = &upcoming
	e.UpdatedAt = time.Now().UTC()
	if err := s.setEntity(ctx, key, &e); err != nil {
		return false, fmt.Errorf("ratchet/redis: claim cron set: %w", err)
	}
	return true, nil
}
