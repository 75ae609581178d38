package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisStore is the optional external backend from spec.md §4.6,
// selected at construction time by CacheConfig.Backend. The sibling
// sample-repos/go-service repository declares go-redis/v8 in its
// go.mod without ever calling it; this wires the same client through
// its ordinary Get/Set/FlushDB surface.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing *redis.Client as a Store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *redisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisStore) DeleteAll(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}
