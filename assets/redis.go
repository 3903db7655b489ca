package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisPrefix marks references stored in Redis, e.g. "redis:media:logo".
const RedisPrefix = "redis:"

// RedisResolver fetches asset bytes from Redis string values.
type RedisResolver struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisResolver connects to addr. keyPrefix is prepended to every lookup.
func NewRedisResolver(addr, password string, db int, keyPrefix string) *RedisResolver {
	return &RedisResolver{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		keyPrefix: keyPrefix,
	}
}

// RedisKey returns the Redis key a reference is stored under.
func (r *RedisResolver) RedisKey(ref string) string {
	return r.keyPrefix + strings.TrimPrefix(ref, RedisPrefix)
}

func (r *RedisResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	key := r.RedisKey(ref)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Ping checks connectivity.
func (r *RedisResolver) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisResolver) Close() error {
	return r.client.Close()
}
