// Package cache provides an HTTP response cache that runs as a pipeline
// middleware in front of an http.RoundTripper.
//
// The cache stores complete responses in a pluggable Storage backend and
// decides per request whether to answer from storage, from the network or
// from both, according to one of four strategies:
//
//   - cache-first: serve entries younger than a fixed TTL, ignore headers
//   - network-first: always fetch, fall back to storage on network failure
//   - stale-while-revalidate: serve anything stored, refresh stale entries
//     in the background
//   - rfc-compliant: HTTP freshness rules including request directives
//
// # Basic Usage
//
//	store := memorystore.New(memorystore.Config{MaxSize: 10_000})
//
//	c, err := cache.New(cache.DefaultConfig(store))
//	if err != nil {
//		return err
//	}
//
//	client := &http.Client{
//		Transport: &pipeline.Transport{
//			Middlewares: []pipeline.Middleware{c.Middleware()},
//		},
//	}
//
// Every response produced through the cache carries an X-Cache header
// with "hit", "stale" or "miss". Stale responses also carry
// Warning: 110, heuristically fresh responses older than a day carry
// Warning: 113.
//
// # Keys and Vary
//
// Entries are stored under "METHOD:absolute-url". When a response names
// request headers in Vary, a second copy is stored under a key widened by
// the normalized values of those headers; lookups read the base key first
// to learn the Vary names and then read the widened key. Responses with
// "Vary: *" are never stored.
//
// # Background Work
//
// Stale-while-revalidate refreshes run detached from the triggering
// request. Their failures are logged and reported to
// Config.OnRevalidateError. Cache.Wait blocks until all of them finished,
// which tests and graceful shutdowns rely on.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - httpcache_lookups_total{strategy,outcome} - Served responses
//   - httpcache_stores_total{strategy} - Responses written to storage
//   - httpcache_revalidations_total{result} - Background refreshes
//   - httpcache_network_fallbacks_total - Network failures answered from storage
//   - httpcache_only_if_cached_misses_total - Synthesized 504 responses
//   - httpcache_storage_errors_total{operation} - Storage failures
package cache
