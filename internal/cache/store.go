// Package cache keeps provider responses in Redis.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
)

// DefaultTTL is used when no positive TTL is configured.
const DefaultTTL = 5 * time.Minute

// Store caches provider responses keyed by provider and request. Only
// non-empty series are stored, so an outage or a gap in a provider's data is
// never replayed. A nil client disables the store.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore returns a Store backed by rdb. If ttl is not positive it defaults
// to DefaultTTL.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get returns the cached series for provider and req. A corrupt entry is
// deleted and reported as a miss.
func (s *Store) Get(ctx context.Context, provider string, req fetcher.Request) ([]candle.Candle, bool) {
	if s.rdb == nil {
		return nil, false
	}

	key := fetcher.Key(provider, req)

	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}

	var out []candle.Candle
	if err := json.Unmarshal(b, &out); err == nil && len(out) > 0 {
		return out, true
	}

	slog.Warn("dropping corrupt cache entry", "key", key)
	_ = s.rdb.Del(ctx, key).Err()
	return nil, false
}

// Put stores candles for provider and req. Empty series are ignored and
// write errors are logged, never returned.
func (s *Store) Put(ctx context.Context, provider string, req fetcher.Request, candles []candle.Candle) {
	if s.rdb == nil || len(candles) == 0 {
		return
	}

	key := fetcher.Key(provider, req)

	b, err := json.Marshal(candles)
	if err != nil {
		slog.Debug("cache encode failed", "key", key, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		slog.Debug("cache write failed", "key", key, "error", err)
	}
}
