package redis

import (
	"context"
	"encoding/json"
	"errors"

	goredis "github.com/redis/go-redis/v9"
)

// errNotFound marks a missing entity key. Callers translate it to the
// entity's own sentinel.
var errNotFound = errors.New("ratchet/redis: entity not found")

func isNotFound(err error) bool { return errors.Is(err, errNotFound) }

// setEntity stores v as a JSON string at key.
func (s *Store) setEntity(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// getEntity loads the JSON string at key into v, returning errNotFound
// if the key does not exist.
func (s *Store) getEntity(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return errNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}
