package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/httpcache/internal/config"
	"github.com/Sternrassler/httpcache/internal/telemetry"
	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/client"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.Setup(logging.Config{Level: level, Pretty: cfg.Logging.Pretty})
	logger := logging.NewLogger(logging.ComponentProxy)

	logger.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr).
		Str("upstream", cfg.Upstream.BaseURL).
		Str("strategy", cfg.Cache.Strategy).
		Str("storage", cfg.Storage.Backend).
		Msg("Starting cache proxy")

	if t := cfg.Telemetry.Tracing; t.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, t.Endpoint, t.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn().Err(err).Msg("Flushing traces failed")
			}
		}()
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.close()

	httpCache, err := cache.New(cfg.CacheConfig(store.store))
	if err != nil {
		return err
	}

	clientCfg := client.DefaultConfig(cfg.Upstream.UserAgent)
	clientCfg.Timeout = cfg.Upstream.Timeout
	clientCfg.Cache = httpCache
	upstream, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	// Runs before store.close: waits for background revalidations that
	// still write to storage.
	defer upstream.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: newRouter(deps{
			Upstream:   upstream,
			BaseURL:    cfg.Upstream.BaseURL,
			Cache:      httpCache,
			ReadyCheck: store.ready,
			Logger:     logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("Cache proxy ready")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return store.runJanitor(gctx, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("Cache proxy stopped")
	return nil
}
