package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// fallbackStore wraps an external backend with the mandatory in-process
// one, per spec.md §4.6: "no method may fail due to cache unavailability."
// Every call tries primary first; any error routes to fallback instead
// of propagating.
type fallbackStore struct {
	primary  Store
	fallback Store
	logger   *zap.SugaredLogger
}

// NewFallbackStore builds a Store that prefers primary but transparently
// serves from fallback whenever primary errors.
func NewFallbackStore(primary, fallback Store, logger *zap.SugaredLogger) Store {
	return &fallbackStore{primary: primary, fallback: fallback, logger: logger}
}

func (f *fallbackStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := f.primary.Get(ctx, key)
	if err != nil {
		f.logger.Warnw("cache backend unreachable, reading from fallback", "error", err)
		return f.fallback.Get(ctx, key)
	}
	return data, ok, nil
}

func (f *fallbackStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := f.primary.Set(ctx, key, data, ttl); err != nil {
		f.logger.Warnw("cache backend unreachable, writing to fallback", "error", err)
		return f.fallback.Set(ctx, key, data, ttl)
	}
	return nil
}

func (f *fallbackStore) DeleteAll(ctx context.Context) error {
	if err := f.primary.DeleteAll(ctx); err != nil {
		f.logger.Warnw("cache backend unreachable, clearing fallback only", "error", err)
		return f.fallback.DeleteAll(ctx)
	}
	return f.fallback.DeleteAll(ctx)
}
