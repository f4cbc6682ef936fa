package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cachecontrol"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/Sternrassler/httpcache/pkg/pipeline"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultStaleRetention is how long past its lifetime an entry is kept
	// by backends with physical expiry.
	DefaultStaleRetention = 24 * time.Hour

	// DefaultRevalidateTimeout bounds one background revalidation.
	DefaultRevalidateTimeout = 30 * time.Second
)

const tracerName = "github.com/Sternrassler/httpcache/pkg/cache"

// Config holds the cache configuration.
type Config struct {
	// Storage is the backend entries are read from and written to (required)
	Storage Storage

	// Strategy selects the caching behaviour (required)
	Strategy Strategy

	// TTL is the fixed freshness lifetime used by cache-first (required there)
	TTL time.Duration

	// StaleRetention is added to the freshness lifetime when hinting the
	// storage expiry. Zero means DefaultStaleRetention, negative disables
	// the hint.
	StaleRetention time.Duration

	// RevalidateTimeout bounds background revalidations. Zero means
	// DefaultRevalidateTimeout, negative means no timeout.
	RevalidateTimeout time.Duration

	// DedupeRevalidation shares one origin call between concurrent
	// background revalidations of the same key.
	DedupeRevalidation bool

	// OnRevalidateError receives failures of background revalidations.
	// Those never reach the caller that triggered them.
	OnRevalidateError func(key string, err error)

	// Now returns the current time (default time.Now)
	Now func() time.Time

	// Logger overrides the component logger
	Logger *zerolog.Logger
}

// DefaultConfig returns an RFC-compliant configuration for storage.
func DefaultConfig(storage Storage) Config {
	return Config{
		Storage:           storage,
		Strategy:          StrategyRFCCompliant,
		StaleRetention:    DefaultStaleRetention,
		RevalidateTimeout: DefaultRevalidateTimeout,
	}
}

// Cache is an HTTP response cache that plugs into a pipeline as middleware.
// Several independently configured caches may coexist in one process.
type Cache struct {
	storage           Storage
	strategy          Strategy
	ttl               time.Duration
	staleRetention    time.Duration
	revalidateTimeout time.Duration
	onRevalidateError func(key string, err error)
	now               func() time.Time
	logger            zerolog.Logger
	tracer            trace.Tracer

	inflight *singleflight.Group
	wg       sync.WaitGroup
}

// New creates a cache from cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrInvalidConfig)
	}
	strategy, err := ParseStrategy(string(cfg.Strategy))
	if err != nil {
		return nil, err
	}
	if strategy == StrategyCacheFirst && cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: cache-first requires a positive ttl (got %s)", ErrInvalidConfig, cfg.TTL)
	}

	c := &Cache{
		storage:           cfg.Storage,
		strategy:          strategy,
		ttl:               cfg.TTL,
		staleRetention:    cfg.StaleRetention,
		revalidateTimeout: cfg.RevalidateTimeout,
		onRevalidateError: cfg.OnRevalidateError,
		now:               cfg.Now,
		tracer:            otel.Tracer(tracerName),
	}
	if c.staleRetention == 0 {
		c.staleRetention = DefaultStaleRetention
	}
	if c.revalidateTimeout == 0 {
		c.revalidateTimeout = DefaultRevalidateTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if cfg.Logger != nil {
		c.logger = *cfg.Logger
	} else {
		c.logger = logging.NewLogger(logging.ComponentCache)
	}
	if cfg.DedupeRevalidation {
		c.inflight = &singleflight.Group{}
	}
	return c, nil
}

// Strategy returns the configured strategy.
func (c *Cache) Strategy() Strategy {
	return c.strategy
}

// Middleware returns the cache as a pipeline link.
func (c *Cache) Middleware() pipeline.Middleware {
	return c.Handle
}

// Wait blocks until all running background revalidations have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Keys lists the keys held by the storage backend.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.storage.Keys(ctx)
	if err != nil {
		StorageErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("storage keys: %w", err)
	}
	return keys, nil
}

// outcome is what a strategy hands back to Handle.
type outcome struct {
	resp  *http.Response
	tag   Tag
	state state
}

// cacheFirst serves entries younger than the fixed TTL and ignores every
// HTTP freshness header.
func (c *Cache) cacheFirst(req *http.Request, next pipeline.Handler) (outcome, error) {
	entry, err := c.lookup(req)
	if err != nil {
		return outcome{}, err
	}
	if entry != nil && !isExpiredByTTL(entry, c.now(), c.ttl) {
		return c.serve(req, entry, SourceHit, stateHitFresh, false), nil
	}
	return c.fetch(req, next)
}

// networkFirst always asks the network. When that fails it falls back to
// any stored entry; without one the original network error is returned.
func (c *Cache) networkFirst(req *http.Request, next pipeline.Handler) (outcome, error) {
	out, netErr := c.fetch(req, next)
	if netErr == nil {
		return out, nil
	}
	if req.Context().Err() != nil {
		return outcome{}, netErr
	}
	var storeErr *storeError
	if errors.As(netErr, &storeErr) {
		return outcome{}, netErr
	}

	entry, err := c.lookup(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache read failed during network fallback")
		entry = nil
	}
	if entry == nil {
		return outcome{}, netErr
	}

	NetworkFallbacks.Inc()
	c.logger.Debug().Err(netErr).Str("url", req.URL.String()).Msg("Network failed, serving stored response")

	fr := Evaluate(entry, c.now(), cachecontrol.Request{})
	src := SourceStale
	if fr.IsFresh {
		src = SourceHit
	}
	return c.serve(req, entry, src, stateNetworkFallback, false), nil
}

// staleWhileRevalidate answers from storage whenever it can and refreshes
// stale entries without making the caller wait.
func (c *Cache) staleWhileRevalidate(req *http.Request, next pipeline.Handler) (outcome, error) {
	entry, err := c.lookup(req)
	if err != nil {
		return outcome{}, err
	}
	if entry == nil {
		return c.fetch(req, next)
	}

	fr := Evaluate(entry, c.now(), cachecontrol.ParseRequest(req.Header))
	if fr.IsFresh {
		return c.serve(req, entry, SourceHit, stateHitFresh, heuristicExpired(fr)), nil
	}

	c.revalidate(req, next)
	return c.serve(req, entry, SourceStale, stateRevalidating, heuristicExpired(fr)), nil
}

// rfcCompliant applies the full freshness algorithm including the request
// directives no-cache, max-age, min-fresh, max-stale and only-if-cached.
func (c *Cache) rfcCompliant(req *http.Request, next pipeline.Handler) (outcome, error) {
	dir := cachecontrol.ParseRequest(req.Header)

	if dir.OnlyIfCached && dir.NoCache {
		return c.gatewayTimeout(req), nil
	}

	if !dir.NoCache {
		entry, err := c.lookup(req)
		if err != nil {
			return outcome{}, err
		}
		if entry != nil {
			fr := Evaluate(entry, c.now(), dir)
			c.logger.Debug().
				Str("url", req.URL.String()).
				Dur("age", fr.Age).
				Dur("lifetime", fr.Lifetime).
				Bool("fresh", fr.IsFresh).
				Bool("heuristic", fr.IsHeuristic).
				Bool("servable_stale", fr.ServableStale).
				Msg("Evaluated stored response")

			switch {
			case fr.IsFresh:
				return c.serve(req, entry, SourceHit, stateHitFresh, heuristicExpired(fr)), nil
			case fr.ServableStale:
				return c.serve(req, entry, SourceStale, stateHitStale, heuristicExpired(fr)), nil
			}
		}
		if dir.OnlyIfCached {
			return c.gatewayTimeout(req), nil
		}
	}

	return c.fetch(req, next)
}

// fetch performs a blocking network request and stores the result when
// it may be stored. Network errors are returned unchanged.
func (c *Cache) fetch(req *http.Request, next pipeline.Handler) (outcome, error) {
	resp, err := next(req)
	if err != nil {
		return outcome{}, err
	}
	if err := c.store(req.Context(), req, resp); err != nil {
		resp.Body.Close()
		return outcome{}, err
	}
	return outcome{resp: resp, tag: Tag{Source: SourceMiss}, state: stateMiss}, nil
}

func (c *Cache) serve(req *http.Request, entry *CacheEntry, src Source, st state, heuristic bool) outcome {
	return outcome{
		resp:  EntryToResponse(entry, req),
		tag:   Tag{Source: src, HeuristicExpired: heuristic},
		state: st,
	}
}

// gatewayTimeout synthesizes the answer to an only-if-cached request that
// the cache cannot satisfy.
func (c *Cache) gatewayTimeout(req *http.Request) outcome {
	OnlyIfCachedMisses.Inc()
	return outcome{
		resp: &http.Response{
			Status:     "504 Gateway Timeout",
			StatusCode: http.StatusGatewayTimeout,
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    req,
		},
		tag:   Tag{Source: SourceMiss},
		state: stateMiss,
	}
}

func heuristicExpired(fr FreshnessResult) bool {
	return fr.IsHeuristic && fr.Age > heuristicWarningAge
}

// lookup returns the stored entry matching req, honouring Vary, or nil.
func (c *Cache) lookup(req *http.Request) (*CacheEntry, error) {
	ctx := req.Context()
	base := RequestKey(req, nil)

	entry, err := c.get(ctx, base)
	if err != nil || entry == nil {
		return nil, err
	}

	names, wildcard := entry.Vary()
	if wildcard {
		return nil, nil
	}
	if len(names) == 0 {
		return entry, nil
	}
	return c.get(ctx, RequestKey(req, names))
}

func (c *Cache) get(ctx context.Context, key string) (*CacheEntry, error) {
	entry, err := c.storage.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if errors.Is(err, ErrInvalidEntry) {
		// The next fetch overwrites the undecodable record.
		c.logger.Warn().Err(err).Str("key", key).Msg("Ignoring undecodable cache entry")
		return nil, nil
	}
	if err != nil {
		StorageErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("storage get: %w", err)
	}
	if err := entry.Validate(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Ignoring unusable cache entry")
		return nil, nil
	}
	return entry, nil
}

// storeError marks failures writing to storage so they are not mistaken
// for network errors.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return "storage set: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// store captures resp and writes it under the base key and, when the
// response varies, under the widened key. resp keeps a readable body.
func (c *Cache) store(ctx context.Context, req *http.Request, resp *http.Response) error {
	if !storable(req, resp) {
		return nil
	}

	entry, err := ResponseToEntry(resp, c.now())
	if err != nil {
		return err
	}

	var hint time.Duration
	switch c.strategy {
	case StrategyCacheFirst:
		entry.SetMaxAge(c.ttl)
		hint = c.ttl
	default:
		if dir := cachecontrol.ParseResponse(entry.Headers); dir.HasMaxAge {
			entry.SetMaxAge(dir.MaxAge)
		}
		if c.staleRetention > 0 {
			lifetime, _ := Lifetime(entry)
			hint = max(lifetime, 0) + c.staleRetention
		}
	}

	keys := []string{RequestKey(req, nil)}
	if names, _ := entry.Vary(); len(names) > 0 {
		keys = append(keys, RequestKey(req, names))
	}
	for _, key := range keys {
		if err := c.storage.Set(ctx, key, entry, hint); err != nil {
			StorageErrors.WithLabelValues("set").Inc()
			return &storeError{err: err}
		}
	}

	Stores.WithLabelValues(string(c.strategy)).Inc()
	c.logger.Debug().
		Str("key", keys[len(keys)-1]).
		Dur("ttl_hint", hint).
		Msg("Stored response")
	return nil
}

// storable reports whether resp may be written to storage: GET or HEAD,
// a 2xx status, no "no-store" and no "Vary: *".
func storable(req *http.Request, resp *http.Response) bool {
	if !cacheableMethod(req.Method) {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	dir := cachecontrol.ParseResponse(resp.Header)
	return !dir.NoStore && !dir.VaryWildcard
}

func cacheableMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == ""
}
