package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/storage"
)

const backend = "sqlite"

// Get returns the entry stored under key. Rows past their expiry count as
// missing; PurgeExpired removes them.
func (s *Store) Get(ctx context.Context, key string) (*cache.CacheEntry, error) {
	var (
		data      []byte
		expiresAt sql.NullInt64
	)
	err := s.read.QueryRowContext(ctx,
		`SELECT entry, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		storage.Observe(backend, "get", true, nil)
		return nil, cache.ErrCacheMiss
	}
	if err != nil {
		storage.Observe(backend, "get", false, err)
		return nil, fmt.Errorf("select entry: %w", err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		storage.Observe(backend, "get", true, nil)
		return nil, cache.ErrCacheMiss
	}

	var entry cache.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		storage.Observe(backend, "get", false, err)
		return nil, fmt.Errorf("%w: %v", cache.ErrInvalidEntry, err)
	}
	storage.Observe(backend, "get", false, nil)
	return &entry, nil
}

// Set upserts entry under key. A positive ttlHint sets the row expiry.
func (s *Store) Set(ctx context.Context, key string, entry *cache.CacheEntry, ttlHint time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		storage.Observe(backend, "set", false, err)
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	var expiresAt sql.NullInt64
	if ttlHint > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttlHint).UnixMilli(), Valid: true}
	}

	_, err = s.write.ExecContext(ctx,
		`INSERT INTO cache_entries (key, entry, stored_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			entry = excluded.entry,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at`,
		key, data, entry.StoredAt.UTC().Format(time.RFC3339), expiresAt,
	)
	if err != nil {
		storage.Observe(backend, "set", false, err)
		return fmt.Errorf("upsert entry: %w", err)
	}

	storage.Observe(backend, "set", false, nil)
	storage.WrittenBytes.WithLabelValues(backend).Add(float64(len(data)))
	return nil
}

// Keys lists the keys of all unexpired rows in key order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT key FROM cache_entries
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY key`, s.now().UnixMilli(),
	)
	if err != nil {
		storage.Observe(backend, "keys", false, err)
		return nil, fmt.Errorf("select keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		storage.Observe(backend, "keys", false, err)
		return nil, err
	}
	storage.Observe(backend, "keys", false, nil)
	return keys, nil
}

// PurgeExpired deletes rows past their expiry and returns how many.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UnixMilli(),
	)
	if err != nil {
		storage.Observe(backend, "purge", false, err)
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	storage.Observe(backend, "purge", false, nil)
	return res.RowsAffected()
}
