package cache

import (
	"context"
	"time"
)

// Store is the pluggable cache backend spec.md §4.6 calls for. Values
// are opaque already-encoded bytes; Cache owns serialization and
// compression, Store owns persistence only.
type Store interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteAll(ctx context.Context) error
}
