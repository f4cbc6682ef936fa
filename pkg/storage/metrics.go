package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations tracks backend calls by backend, operation and result
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_storage_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"backend", "operation", "result"}, // result: "ok", "miss", "error"
	)

	// WrittenBytes tracks encoded entry sizes written per backend
	WrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpcache_storage_written_bytes_total",
			Help: "Total number of entry bytes written to storage",
		},
		[]string{"backend"},
	)
)

// Observe records the result of one backend operation. A nil err counts
// as "ok", miss marks lookups that found nothing.
func Observe(backend, operation string, miss bool, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case miss:
		result = "miss"
	}
	Operations.WithLabelValues(backend, operation, result).Inc()
}
