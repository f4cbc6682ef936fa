package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/logging"
	"github.com/Sternrassler/httpcache/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// forwardedHeaders are the client request headers passed upstream. They
// carry request directives and the usual Vary candidates.
var forwardedHeaders = []string{
	"Accept",
	"Accept-Encoding",
	"Accept-Language",
	"Cache-Control",
	"Pragma",
}

// Doer performs upstream requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// deps holds the collaborators of the proxy HTTP handler.
type deps struct {
	Upstream   Doer
	BaseURL    string
	Cache      *cache.Cache
	ReadyCheck func(context.Context) error
	Logger     zerolog.Logger
}

// newRouter builds the proxy routes.
func newRouter(d deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.AccessLog(d.Logger))

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(d.ReadyCheck))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/debug/keys", handleKeys(d.Cache))

	proxy := handleProxy(d.Upstream, strings.TrimRight(d.BaseURL, "/"), d.Logger)
	r.Get("/proxy/*", proxy)
	r.Head("/proxy/*", proxy)

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func handleReady(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				http.Error(w, "storage unavailable: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "OK")
	}
}

func handleKeys(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := c.Keys(r.Context())
		if err != nil {
			http.Error(w, "list keys: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count": len(keys),
			"keys":  keys,
		})
	}
}

// handleProxy fetches baseURL + the wildcard path through upstream and
// copies the response back, including the X-Cache and Warning headers.
func handleProxy(upstream Doer, baseURL string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := baseURL + "/" + chi.URLParam(r, "*")
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		req, err := http.NewRequestWithContext(r.Context(), r.Method, target, nil)
		if err != nil {
			http.Error(w, "invalid upstream url: "+err.Error(), http.StatusBadRequest)
			return
		}
		for _, name := range forwardedHeaders {
			for _, v := range r.Header.Values(name) {
				req.Header.Add(name, v)
			}
		}

		resp, err := upstream.Do(req)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			logger.Warn().
				Err(err).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("url", target).
				Msg("Upstream request failed")
			http.Error(w, "upstream request failed: "+err.Error(), status)
			return
		}
		defer resp.Body.Close()

		for name, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(resp.StatusCode)

		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Debug().Err(err).Str("url", target).Msg("Copying response body failed")
		}
	}
}
