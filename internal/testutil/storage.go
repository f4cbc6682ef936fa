package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
)

// MapStorage is an in-memory cache.Storage with failure injection.
// It never expires entries and records the ttl hints it was given.
type MapStorage struct {
	mu      sync.Mutex
	entries map[string]*cache.CacheEntry
	hints   map[string]time.Duration
	sets    int

	getErr error
	setErr error
}

// NewMapStorage creates an empty MapStorage.
func NewMapStorage() *MapStorage {
	return &MapStorage{
		entries: make(map[string]*cache.CacheEntry),
		hints:   make(map[string]time.Duration),
	}
}

// Get implements cache.Storage.
func (s *MapStorage) Get(_ context.Context, key string) (*cache.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return entry.Clone(), nil
}

// Set implements cache.Storage.
func (s *MapStorage) Set(_ context.Context, key string, entry *cache.CacheEntry, ttlHint time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[key] = entry.Clone()
	s.hints[key] = ttlHint
	s.sets++
	return nil
}

// Keys implements cache.Storage.
func (s *MapStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// FailGet makes every Get return err. A nil err restores normal behavior.
func (s *MapStorage) FailGet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// FailSet makes every Set return err. A nil err restores normal behavior.
func (s *MapStorage) FailSet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

// Entry returns the raw entry stored under key, or nil.
func (s *MapStorage) Entry(key string) *cache.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		return entry.Clone()
	}
	return nil
}

// TTLHint returns the hint passed with the last Set of key.
func (s *MapStorage) TTLHint(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hints[key]
}

// SetCount returns the number of successful Set calls.
func (s *MapStorage) SetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}
