package tokencache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists the token table in Redis, keyed by digest under
// a fixed prefix, for deployments that run the bot as a replicated
// set of processes sharing one cache.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

const redisKeyPrefix = "corvus:token:"

// NewRedisStore returns a RedisStore over an already-configured
// client. ttl of zero means tokens never expire on their own.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, identity, secret string) (string, bool, error) {
	token, err := s.client.Get(ctx, redisKeyPrefix+digest(identity, secret)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// Store implements Store.
func (s *RedisStore) Store(ctx context.Context, identity, secret, token string) error {
	return s.client.Set(ctx, redisKeyPrefix+digest(identity, secret), token, s.ttl).Err()
}
