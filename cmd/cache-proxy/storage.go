package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/httpcache/internal/config"
	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/storage/memorystore"
	"github.com/Sternrassler/httpcache/pkg/storage/redisstore"
	"github.com/Sternrassler/httpcache/pkg/storage/sqlitestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// backend is an opened storage backend plus its lifecycle hooks.
type backend struct {
	store cache.Storage
	ready func(context.Context) error
	close func() error

	// purge removes physically expired entries; nil when the backend
	// expires entries itself.
	purge         func(context.Context) (int64, error)
	purgeInterval time.Duration
}

// openStorage opens the backend selected by cfg and checks it is reachable.
func openStorage(ctx context.Context, cfg config.StorageConfig) (*backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		store, err := memorystore.New(memorystore.Config{MaxSize: cfg.Memory.MaxSize})
		if err != nil {
			return nil, err
		}
		return &backend{
			store: store,
			ready: func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.New(rdb, cfg.Redis.Prefix)
		if err := store.Ping(ctx); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return &backend{store: store, ready: store.Ping, close: rdb.Close}, nil

	case config.BackendSQLite:
		store, err := sqlitestore.New(sqlitestore.Config{DSN: cfg.SQLite.DSN})
		if err != nil {
			return nil, err
		}
		return &backend{
			store:         store,
			ready:         store.Ping,
			close:         store.Close,
			purge:         store.PurgeExpired,
			purgeInterval: cfg.SQLite.PurgeInterval,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// runJanitor purges expired entries every interval until ctx is done.
func (b *backend) runJanitor(ctx context.Context, logger zerolog.Logger) error {
	if b.purge == nil || b.purgeInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(b.purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := b.purge(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Purging expired entries failed")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("purged", n).Msg("Purged expired entries")
			}
		}
	}
}
