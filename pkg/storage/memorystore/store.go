// Package memorystore implements cache.Storage as a bounded in-process
// W-TinyLFU cache backed by otter.
package memorystore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/storage"
	"github.com/maypok86/otter/v2"
)

const backend = "memory"

const (
	// DefaultMaxSize is the entry count bound used when Config.MaxSize is unset.
	DefaultMaxSize = 10_000

	// DefaultMaxTTL caps how long any entry is kept, hinted or not.
	DefaultMaxTTL = 7 * 24 * time.Hour
)

// Config holds the memory store configuration.
type Config struct {
	// MaxSize bounds the number of entries; otter evicts beyond it.
	MaxSize int

	// MaxTTL is the hard upper bound on an entry's lifetime.
	MaxTTL time.Duration

	// Now returns the current time (default time.Now)
	Now func() time.Time
}

// item wraps a stored entry with its expiration time.
type item struct {
	entry     *cache.CacheEntry
	expiresAt time.Time // zero: no hint
}

// Store is an in-memory cache.Storage.
type Store struct {
	cache *otter.Cache[string, item]
	now   func() time.Time
}

// New creates a memory store.
func New(cfg Config) (*Store, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c, err := otter.New[string, item](&otter.Options[string, item]{
		MaximumSize:      cfg.MaxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, item](cfg.MaxTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Store{cache: c, now: cfg.Now}, nil
}

// Get returns a copy of the entry stored under key if present and not expired.
func (s *Store) Get(_ context.Context, key string) (*cache.CacheEntry, error) {
	it, ok := s.cache.GetIfPresent(key)
	if ok && s.expired(it) {
		s.cache.Invalidate(key)
		ok = false
	}
	if !ok {
		storage.Observe(backend, "get", true, nil)
		return nil, cache.ErrCacheMiss
	}
	storage.Observe(backend, "get", false, nil)
	return it.entry.Clone(), nil
}

// Set stores a copy of entry. A positive ttlHint expires it early.
func (s *Store) Set(_ context.Context, key string, entry *cache.CacheEntry, ttlHint time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	it := item{entry: entry.Clone()}
	if ttlHint > 0 {
		it.expiresAt = s.now().Add(ttlHint)
	}
	s.cache.Set(key, it)

	storage.Observe(backend, "set", false, nil)
	storage.WrittenBytes.WithLabelValues(backend).Add(float64(len(entry.Body)))
	return nil
}

// Keys lists the live keys in sorted order.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	var keys []string
	for k, it := range s.cache.All() {
		if !s.expired(it) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	storage.Observe(backend, "keys", false, nil)
	return keys, nil
}

// Purge removes all entries.
func (s *Store) Purge(_ context.Context) {
	s.cache.InvalidateAll()
}

func (s *Store) expired(it item) bool {
	return !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt)
}
