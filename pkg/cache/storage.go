package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in storage
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrInvalidConfig is returned by New for unusable configurations
	ErrInvalidConfig = errors.New("invalid cache config")
)

// Storage is the key/value backend the cache reads from and writes to.
// Implementations must be safe for concurrent use. The cache performs
// read-then-overwrite without any transactional guarantee; concurrent
// writers to one key are last-write-wins.
type Storage interface {
	// Get returns the entry stored under key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Set stores entry under key, replacing any previous entry. ttlHint is
	// advisory: backends with physical expiry may drop the entry after it,
	// zero means no hint.
	Set(ctx context.Context, key string, entry *CacheEntry, ttlHint time.Duration) error

	// Keys lists the stored keys. Used for diagnostics and tests only.
	Keys(ctx context.Context) ([]string, error)
}
