package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks served responses by strategy and outcome (hit, stale, miss)
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_lookups_total",
			Help: "Total number of cache lookups by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// Stores tracks entries written to storage
	Stores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_stores_total",
			Help: "Total number of responses written to cache storage",
		},
		[]string{"strategy"},
	)

	// Revalidations tracks background refreshes by result (ok, error, shared)
	Revalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_revalidations_total",
			Help: "Total number of background revalidations by result",
		},
		[]string{"result"},
	)

	// NetworkFallbacks tracks network-first responses served from storage
	NetworkFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpcache_network_fallbacks_total",
			Help: "Total number of network failures answered from cache",
		},
	)

	// OnlyIfCachedMisses tracks synthesized 504 responses
	OnlyIfCachedMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpcache_only_if_cached_misses_total",
			Help: "Total number of only-if-cached requests answered with 504",
		},
	)

	// StorageErrors tracks storage operation errors
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_storage_errors_total",
			Help: "Total number of cache storage errors",
		},
		[]string{"operation"}, // "get", "set", "keys"
	)
)
