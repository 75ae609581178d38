// Package cache implements the content-addressed result cache from
// spec.md §4.6: SHA256 keying over (target, sorted port-set),
// TTL-by-classification, gzip compression above 4 KiB, and single-flight
// de-duplication of concurrent identical scans. The teacher has no
// cache of its own; the backend split (mandatory in-process map,
// optional external store) and the single-flight coordinator are new,
// grounded on golang.org/x/sync/singleflight, which the teacher already
// imports indirectly.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"github.com/reconscan/reconscan/internal/detector"
	"github.com/reconscan/reconscan/internal/portset"
	"github.com/reconscan/reconscan/internal/target"
)

var errEmptyEntry = errors.New("cache: empty entry")

// compressionThreshold is the serialized-size cutoff above which
// entries are gzip-compressed, per spec.md §4.6.
const compressionThreshold = 4 * 1024

// TTL policy by target classification, per spec.md §4.6.
const (
	ttlPrivate = 6 * time.Hour
	ttlPublic  = time.Hour
	ttlDefault = time.Hour
)

// Freshness values attached to a CacheEntry.
const (
	FreshnessFresh  = "fresh"
	FreshnessCached = "cached"
)

// Entry is CacheEntry from spec.md §3, immutable after Store.
type Entry struct {
	Key        string
	Results    []detector.PortResult
	StoredAt   time.Time
	TTL        time.Duration
	Compressed bool
	Freshness  string
}

// Stats is the Stats() contract from spec.md §4.6.
type Stats struct {
	Hits    int64
	Misses  int64
	Stores  int64
	HitRate float64
}

// Cache is the backend-agnostic policy layer: key derivation, TTL
// selection, compression, stats, and single-flight coordination all
// live here; Store implementations own persistence only.
type Cache struct {
	store Store
	group singleflight.Group

	mu     sync.Mutex
	hits   int64
	misses int64
	stores int64
}

// New wraps a Store (typically a fallbackStore over an external
// backend plus the in-process one) with the cache policy.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// DeriveKey computes the spec.md §4.6 cache key: hex SHA256 of
// "target|sorted_ports", prefixed "scan_cache:".
func DeriveKey(targetHost string, ports []int) string {
	h := sha256.Sum256([]byte(targetHost + "|" + portset.Format(ports)))
	return "scan_cache:" + hex.EncodeToString(h[:])
}

// TTLFor selects the TTL policy for a resolved target's classification.
func TTLFor(classification target.Classification) time.Duration {
	switch classification {
	case target.Loopback, target.Internal:
		return ttlPrivate
	case target.External:
		return ttlPublic
	default:
		return ttlDefault
	}
}

// Lookup implements Lookup(key) → CacheEntry? from spec.md §4.6.
func (c *Cache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		c.recordMiss()
		return Entry{}, false, nil
	}

	entry, err := decodeEntry(key, raw)
	if err != nil {
		c.recordMiss()
		return Entry{}, false, err
	}

	c.recordHit()
	entry.Freshness = FreshnessCached
	return entry, true, nil
}

// Store implements Store(key, results, ttl) from spec.md §4.6.
func (c *Cache) Store(ctx context.Context, key string, results []detector.PortResult, ttl time.Duration) (Entry, error) {
	entry := Entry{Key: key, Results: results, StoredAt: time.Now(), TTL: ttl, Freshness: FreshnessFresh}

	raw, compressed, err := encodeEntry(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.Compressed = compressed

	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		return Entry{}, err
	}

	c.recordStore()
	return entry, nil
}

// InvalidateAll implements InvalidateAll() from spec.md §4.6.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.store.DeleteAll(ctx)
}

// ScanFunc performs the underlying scan behind a cache miss.
type ScanFunc func(ctx context.Context) ([]detector.PortResult, error)

// GetOrScan implements the single-flight contract from spec.md §4.6:
// concurrent calls with the same key observe exactly one underlying
// scan, the rest await its completion and receive a copy of its
// result. The bool return reports whether the entry was already cached.
func (c *Cache) GetOrScan(ctx context.Context, key string, ttl time.Duration, scan ScanFunc) (Entry, bool, error) {
	if entry, ok, err := c.Lookup(ctx, key); ok || err != nil {
		return entry, ok, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if entry, ok, _ := c.Lookup(ctx, key); ok {
			return entry, nil
		}
		results, err := scan(ctx)
		if err != nil {
			return Entry{}, err
		}
		return c.Store(ctx, key, results, ttl)
	})
	if err != nil {
		return Entry{}, false, err
	}

	entry := v.(Entry)
	return entry, entry.Freshness == FreshnessCached, nil
}

// Stats returns current hit/miss/store counters and hit rate.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	return Stats{Hits: c.hits, Misses: c.misses, Stores: c.stores, HitRate: rate}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *Cache) recordStore() {
	c.mu.Lock()
	c.stores++
	c.mu.Unlock()
}

type entryPayload struct {
	Results    []detector.PortResult `json:"results"`
	StoredAt   time.Time             `json:"stored_at"`
	TTLSeconds float64               `json:"ttl_s"`
}

func encodeEntry(e Entry) (data []byte, compressed bool, err error) {
	payload, err := json.Marshal(entryPayload{
		Results:    e.Results,
		StoredAt:   e.StoredAt,
		TTLSeconds: e.TTL.Seconds(),
	})
	if err != nil {
		return nil, false, err
	}

	if len(payload) <= compressionThreshold {
		return append([]byte{0}, payload...), false, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, false, err
	}
	if err := gz.Close(); err != nil {
		return nil, false, err
	}

	return append([]byte{1}, buf.Bytes()...), true, nil
}

func decodeEntry(key string, raw []byte) (Entry, error) {
	if len(raw) == 0 {
		return Entry{}, errEmptyEntry
	}

	flag, body := raw[0], raw[1:]
	var payload []byte

	if flag == 1 {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return Entry{}, err
		}
		defer func() { _ = gz.Close() }()

		payload, err = io.ReadAll(gz)
		if err != nil {
			return Entry{}, err
		}
	} else {
		payload = body
	}

	var p entryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Entry{}, err
	}

	return Entry{
		Key:        key,
		Results:    p.Results,
		StoredAt:   p.StoredAt,
		TTL:        time.Duration(p.TTLSeconds * float64(time.Second)),
		Compressed: flag == 1,
	}, nil
}
