// Package redisstore implements cache.Storage on Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/storage"
	"github.com/redis/go-redis/v9"
)

const backend = "redis"

// DefaultPrefix namespaces cache keys inside a shared Redis database.
const DefaultPrefix = "httpcache:"

// scanBatch is the COUNT hint for SCAN while listing keys.
const scanBatch = 100

// Store handles cache entries in Redis. Entries are JSON documents stored
// under prefix+key, the ttl hint becomes the Redis expiry.
type Store struct {
	redis  *redis.Client
	prefix string
}

// New creates a Redis-backed store. An empty prefix means DefaultPrefix.
func New(redisClient *redis.Client, prefix string) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Get retrieves a cache entry by key.
// Returns cache.ErrCacheMiss if the key doesn't exist or has expired.
func (s *Store) Get(ctx context.Context, key string) (*cache.CacheEntry, error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			storage.Observe(backend, "get", true, nil)
			return nil, cache.ErrCacheMiss
		}
		storage.Observe(backend, "get", false, err)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry cache.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		storage.Observe(backend, "get", false, err)
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidEntry, err)
	}

	storage.Observe(backend, "get", false, nil)
	return &entry, nil
}

// Set stores a cache entry. A positive ttlHint becomes the Redis expiry,
// zero keeps the key until it is overwritten or evicted by Redis.
func (s *Store) Set(ctx context.Context, key string, entry *cache.CacheEntry, ttlHint time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		storage.Observe(backend, "set", false, err)
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, s.prefix+key, data, max(ttlHint, 0)).Err(); err != nil {
		storage.Observe(backend, "set", false, err)
		return fmt.Errorf("redis set: %w", err)
	}

	storage.Observe(backend, "set", false, nil)
	storage.WrittenBytes.WithLabelValues(backend).Add(float64(len(data)))
	return nil
}

// Keys lists all cache keys below the prefix using SCAN.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, escapePattern(s.prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		storage.Observe(backend, "keys", false, err)
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	storage.Observe(backend, "keys", false, nil)
	return keys, nil
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// escapePattern quotes the glob metacharacters of a SCAN MATCH pattern.
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
