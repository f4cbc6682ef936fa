// Package client provides an HTTP client whose transport runs a middleware
// pipeline in front of a pooled, DNS-caching transport:
//
//	instrumentation → user agent → response cache → retry → transport
//
// The cache is optional; without one the client still retries and
// records metrics.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/Sternrassler/httpcache/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/dnscache"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_client_requests_total",
		Help: "Total client requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "httpcache_client_request_duration_seconds",
		Help:    "Client request duration in seconds by method and cache outcome",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method", "cache"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_client_errors_total",
		Help: "Total client errors by class",
	}, []string{"class"})
)

// Client is an HTTP client with caching, retries and metrics.
type Client struct {
	httpClient *http.Client
	cache      *cache.Cache
	config     Config
	logger     zerolog.Logger

	stopDNS  chan struct{}
	stopOnce sync.Once
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Timeout bounds a whole client call including retries (0: none)
	Timeout time.Duration

	// Cache answers requests from storage when set
	Cache *cache.Cache

	// Retry
	DisableRetry bool
	RetryPolicy  RetryPolicy // default RetryConfigForErrorClass

	// Transport replaces the default DNS-caching transport
	Transport http.RoundTripper

	// DNSRefreshInterval applies to the default transport only
	DNSRefreshInterval time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:          userAgent,
		Timeout:            30 * time.Second,
		RetryPolicy:        RetryConfigForErrorClass,
		DNSRefreshInterval: DefaultDNSRefreshInterval,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("%w: user-agent is required", ErrInvalidConfig)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be >= 0 (got %s)", ErrInvalidConfig, cfg.Timeout)
	}

	logger := logging.NewLogger(logging.ComponentClient)

	c := &Client{
		cache:   cfg.Cache,
		config:  cfg,
		logger:  logger,
		stopDNS: make(chan struct{}),
	}

	base := cfg.Transport
	if base == nil {
		resolver := &dnscache.Resolver{}
		base = NewTransport(resolver)

		interval := cfg.DNSRefreshInterval
		if interval <= 0 {
			interval = DefaultDNSRefreshInterval
		}
		go refreshDNS(resolver, interval, c.stopDNS)
	}

	mws := []pipeline.Middleware{
		c.instrument,
		userAgent(cfg.UserAgent),
	}
	if cfg.Cache != nil {
		mws = append(mws, cfg.Cache.Middleware())
	}
	if !cfg.DisableRetry {
		mws = append(mws, Retry(cfg.RetryPolicy))
	}

	c.httpClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &pipeline.Transport{Base: base, Middlewares: mws},
	}
	return c, nil
}

// Do performs an HTTP request through the pipeline.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Get performs a GET request to url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// HTTPClient returns the underlying *http.Client for libraries that take one.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Cache returns the configured cache, or nil.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// Close stops background DNS refreshes, waits for pending cache
// revalidations and releases idle connections.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopDNS) })
	if c.cache != nil {
		c.cache.Wait()
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// instrument records request metrics and logs the outcome.
func (c *Client) instrument(req *http.Request, next pipeline.Handler) (*http.Response, error) {
	start := time.Now()
	resp, err := next(req)
	elapsed := time.Since(start)

	if err != nil {
		class := classifyError(err)
		if class == "" {
			class = "cancelled"
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		requestsTotal.WithLabelValues(req.Method, "error").Inc()
		requestDuration.WithLabelValues(req.Method, "none").Observe(elapsed.Seconds())

		c.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Str("error_class", string(class)).
			Dur("duration", elapsed).
			Msg("Request failed")
		return nil, err
	}

	outcome := resp.Header.Get(cache.HeaderXCache)
	if outcome == "" {
		outcome = "none"
	}
	requestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	requestDuration.WithLabelValues(req.Method, outcome).Observe(elapsed.Seconds())

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status_code", resp.StatusCode).
		Str("x_cache", outcome).
		Dur("duration", elapsed).
		Msg("Request completed")
	return resp, nil
}

// userAgent sets the User-Agent header on a copy of each request.
func userAgent(ua string) pipeline.Middleware {
	return func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		r := req.Clone(req.Context())
		r.Header.Set("User-Agent", ua)
		return next(r)
	}
}
