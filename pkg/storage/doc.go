// Package storage holds what the cache.Storage backends share.
//
// Backends live in subpackages:
//
//   - memorystore: bounded in-process W-TinyLFU cache (otter)
//   - redisstore: JSON entries in Redis, shared between processes
//   - sqlitestore: entries in a local SQLite file that survives restarts
//
// All backends treat the ttl hint passed to Set as the physical expiry of
// an entry; a zero hint keeps the entry until it is overwritten or evicted.
package storage
