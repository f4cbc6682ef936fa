// Package metrics exposes the Prometheus registry used by the cache, storage
// and client packages. All metrics are defined in their respective packages
// via promauto to keep them modular and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all httpcache metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in Gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - httpcache_lookups_total{strategy, outcome} (Counter): Served responses by outcome (hit, stale, miss, error)
//   - httpcache_stores_total{strategy} (Counter): Responses written to storage
//   - httpcache_revalidations_total{result} (Counter): Background refreshes (ok, shared, error)
//   - httpcache_network_fallbacks_total (Counter): Network failures answered from storage
//   - httpcache_only_if_cached_misses_total (Counter): Synthesized 504 responses
//   - httpcache_storage_errors_total{operation} (Counter): Storage failures seen by the cache
//
// Storage Metrics (pkg/storage):
//   - httpcache_storage_operations_total{backend, operation, result} (Counter): Backend calls
//   - httpcache_storage_written_bytes_total{backend} (Counter): Encoded entry bytes written
//
// Request Metrics (pkg/client):
//   - httpcache_client_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - httpcache_client_request_duration_seconds{method, cache} (Histogram): Duration by X-Cache outcome
//   - httpcache_client_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - httpcache_client_retries_total{error_class} (Counter): Retry attempts by error class
//   - httpcache_client_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - httpcache_client_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(httpcache_lookups_total{outcome="hit"}[5m])) /
//   sum(rate(httpcache_lookups_total{outcome!="error"}[5m]))
//
//   # Stale Share
//   sum(rate(httpcache_lookups_total{outcome="stale"}[5m])) /
//   sum(rate(httpcache_lookups_total[5m]))
//
//   # Failing Background Refreshes
//   rate(httpcache_revalidations_total{result="error"}[5m])
//
//   # P95 Latency of Misses
//   histogram_quantile(0.95, rate(httpcache_client_request_duration_seconds_bucket{cache="miss"}[5m]))
//
//   # Storage Error Rate per Backend
//   sum by (backend) (rate(httpcache_storage_operations_total{result="error"}[5m]))
