// Package testutil provides testing utilities for the HTTP cache.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// OriginResponse defines the behavior for a mock origin response.
type OriginResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable origin server for testing.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount      int
	pathCounts        map[string]int
	lastRequestHeader http.Header
}

// NewMockOrigin creates a new mock origin server.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Client returns an HTTP client talking to the mock server.
func (m *MockOrigin) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp OriginResponse) {
	m.SetHandler(path, resp.write)
}

// SetSequence answers successive requests for path with resps in order.
// The last response repeats once the sequence is exhausted.
func (m *MockOrigin) SetSequence(path string, resps ...OriginResponse) {
	var (
		mu sync.Mutex
		i  int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[min(i, len(resps)-1)]
		i++
		mu.Unlock()
		resp.write(w, r)
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockOrigin) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests made for path.
func (m *MockOrigin) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockOrigin) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader.Clone()
}

// defaultHandler answers with a cacheable JSON document.
func (m *MockOrigin) defaultHandler(w http.ResponseWriter, r *http.Request) {
	NewFreshResponse(`{"status": "ok"}`, time.Minute).write(w, r)
}

func (resp OriginResponse) write(w http.ResponseWriter, r *http.Request) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewFreshResponse creates a 200 OK response cacheable for maxAge.
func NewFreshResponse(data string, maxAge time.Duration) OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Cache-Control": "max-age=" + strconv.Itoa(int(maxAge/time.Second)),
			"Date":          time.Now().UTC().Format(http.TimeFormat),
			"ETag":          `"test-etag-123"`,
			"Content-Type":  "application/json; charset=utf-8",
		},
	}
}

// NewNoStoreResponse creates a 200 OK response that must not be stored.
func NewNoStoreResponse(data string) OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Cache-Control": "no-store",
			"Content-Type":  "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter time.Duration) OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(int(retryAfter / time.Second)),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() OriginResponse {
	return OriginResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
