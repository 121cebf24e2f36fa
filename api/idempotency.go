package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix   = "create-dedupe"
	defaultDedupeTTL  = 24 * time.Hour
	idempotencyHeader = "Idempotency-Key"
)

// RedisDeduper records create idempotency keys in Redis so every gateway
// instance rejects a replayed create.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("api.NewRedisDeduper: redis client is nil")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(subject, key string) string {
	return subject + ":" + dedupeKeyPrefix + ":" + key
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, subject, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(subject, key), 1, r.ttl).Result()
}

// Remove forgets a key so the caller may retry a create that failed.
func (r *RedisDeduper) Remove(ctx context.Context, subject, key string) error {
	return r.client.Del(ctx, r.key(subject, key)).Err()
}
