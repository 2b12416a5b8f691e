package guard

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a StateStore backed by Redis, for deployments where several
// instances must share conversation state. Expiry is delegated to Redis TTLs,
// so there is no sweep to run.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client. All keys are namespaced under
// "guard:".
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "guard:"}
}

// redisKey builds the flat Redis key for (conversationID, key).
func (s *RedisStore) redisKey(conversationID, key string) string {
	return s.prefix + conversationID + ":" + key
}

// Get implements StateStore.
func (s *RedisStore) Get(ctx context.Context, conversationID, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.redisKey(conversationID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Put implements StateStore.
func (s *RedisStore) Put(ctx context.Context, conversationID, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.redisKey(conversationID, key), value, ttl).Err()
}

// Delete implements StateStore.
func (s *RedisStore) Delete(ctx context.Context, conversationID, key string) error {
	return s.client.Del(ctx, s.redisKey(conversationID, key)).Err()
}

// Clear implements StateStore. Keys are discovered with SCAN to avoid
// blocking Redis on large keyspaces.
func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	pattern := s.prefix + conversationID + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
