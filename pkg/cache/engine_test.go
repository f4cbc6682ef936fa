package cache_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/httpcache/internal/testutil"
	"github.com/Sternrassler/httpcache/pkg/cache"
	"github.com/Sternrassler/httpcache/pkg/cachecontrol"
	"github.com/Sternrassler/httpcache/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://api.example.com/x"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeOrigin is a pipeline.Handler with a scripted answer and a call counter.
type fakeOrigin struct {
	mu      sync.Mutex
	calls   int
	respond func(req *http.Request) (*http.Response, error)
}

func (o *fakeOrigin) handle(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	o.calls++
	respond := o.respond
	o.mu.Unlock()
	return respond(req)
}

func (o *fakeOrigin) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *fakeOrigin) setRespond(fn func(req *http.Request) (*http.Response, error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.respond = fn
}

func reply(status int, body string, headers ...string) func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		return response(req, status, body, headers...), nil
	}
}

func fail(err error) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return nil, err
	}
}

func response(req *http.Request, status int, body string, headers ...string) *http.Response {
	h := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Add(headers[i], headers[i+1])
	}
	return &http.Response{
		Status:     strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func newRequest(t *testing.T, headers ...string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, testURL, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Add(headers[i], headers[i+1])
	}
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

type fixture struct {
	cache   *cache.Cache
	storage *testutil.MapStorage
	clock   *testutil.Clock
	origin  *fakeOrigin
}

func newFixture(t *testing.T, strategy cache.Strategy, mutate ...func(*cache.Config)) *fixture {
	t.Helper()

	f := &fixture{
		storage: testutil.NewMapStorage(),
		clock:   testutil.NewClock(t0),
		origin:  &fakeOrigin{respond: reply(http.StatusOK, "default", "Cache-Control", "max-age=60")},
	}

	cfg := cache.DefaultConfig(f.storage)
	cfg.Strategy = strategy
	cfg.TTL = time.Second
	cfg.Now = f.clock.Now
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := cache.New(cfg)
	require.NoError(t, err)
	f.cache = c
	t.Cleanup(c.Wait)
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := f.cache.Handle(req, f.origin.handle)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

// seed stores body under the base key as if it was fetched at storedAt.
func (f *fixture) seed(t *testing.T, body string, storedAt time.Time, maxAge time.Duration) {
	t.Helper()
	entry := &cache.CacheEntry{
		Status:     http.StatusOK,
		StatusText: "OK",
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
		StoredAt:   storedAt,
	}
	entry.SetMaxAge(maxAge)
	require.NoError(t, f.storage.Set(context.Background(), cache.BaseKey(http.MethodGet, testURL), entry, 0))
}

func TestNew_Validation(t *testing.T) {
	storage := testutil.NewMapStorage()

	tests := []struct {
		name string
		cfg  cache.Config
	}{
		{"missing storage", cache.Config{Strategy: cache.StrategyRFCCompliant}},
		{"unknown strategy", cache.Config{Storage: storage, Strategy: "lru"}},
		{"empty strategy", cache.Config{Storage: storage}},
		{"cache-first without ttl", cache.Config{Storage: storage, Strategy: cache.StrategyCacheFirst}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cache.New(tt.cfg)
			assert.ErrorIs(t, err, cache.ErrInvalidConfig)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range cache.Strategies {
		got, err := cache.ParseStrategy(" " + strings.ToUpper(string(s)) + " ")
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := cache.ParseStrategy("fastest")
	assert.ErrorIs(t, err, cache.ErrInvalidConfig)
}

func TestNew_NormalizesStrategy(t *testing.T) {
	c, err := cache.New(cache.Config{Storage: testutil.NewMapStorage(), Strategy: " Network-First "})
	require.NoError(t, err)
	assert.Equal(t, cache.StrategyNetworkFirst, c.Strategy())
}

func TestHandle_NonCacheableMethodPassesThrough(t *testing.T) {
	for _, s := range cache.Strategies {
		t.Run(string(s), func(t *testing.T) {
			f := newFixture(t, s)

			req, err := http.NewRequest(http.MethodPost, testURL, strings.NewReader("{}"))
			require.NoError(t, err)

			resp := f.do(t, req)
			assert.Empty(t, resp.Header.Get(cache.HeaderXCache))
			assert.Equal(t, 1, f.origin.Calls())
			assert.Zero(t, f.storage.SetCount())
		})
	}
}

func TestCacheFirst_RoundTrip(t *testing.T) {
	f := newFixture(t, cache.StrategyCacheFirst)
	f.origin.setRespond(reply(http.StatusOK, `{"v":1}`, "Cache-Control", "no-cache"))

	first := f.do(t, newRequest(t))
	assert.Equal(t, "miss", first.Header.Get(cache.HeaderXCache))
	assert.Equal(t, `{"v":1}`, readBody(t, first))

	// response headers are ignored; the fixed TTL decides
	second := f.do(t, newRequest(t))
	assert.Equal(t, "hit", second.Header.Get(cache.HeaderXCache))
	assert.Equal(t, `{"v":1}`, readBody(t, second))
	assert.Equal(t, 1, f.origin.Calls())

	f.origin.setRespond(reply(http.StatusOK, `{"v":2}`))
	f.clock.Advance(time.Second)

	third := f.do(t, newRequest(t))
	assert.Equal(t, "miss", third.Header.Get(cache.HeaderXCache))
	assert.Equal(t, `{"v":2}`, readBody(t, third))
	assert.Equal(t, 2, f.origin.Calls())
}

func TestCacheFirst_StoresTTL(t *testing.T) {
	f := newFixture(t, cache.StrategyCacheFirst, func(cfg *cache.Config) {
		cfg.TTL = 5 * time.Minute
	})
	f.origin.setRespond(reply(http.StatusOK, "body", "Cache-Control", "max-age=1"))

	f.do(t, newRequest(t))

	key := cache.BaseKey(http.MethodGet, testURL)
	entry := f.storage.Entry(key)
	require.NotNil(t, entry)
	maxAge, ok := entry.MaxAge()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, maxAge)
	assert.Equal(t, 5*time.Minute, f.storage.TTLHint(key))
	assert.Equal(t, t0, entry.StoredAt)
}

func TestCacheFirst_NetworkErrorPropagates(t *testing.T) {
	f := newFixture(t, cache.StrategyCacheFirst)
	netErr := errors.New("dial tcp: connection refused")
	f.origin.setRespond(fail(netErr))

	_, err := f.cache.Handle(newRequest(t), f.origin.handle)
	assert.Same(t, netErr, err)
}

func TestNetworkFirst_NetworkAlwaysWins(t *testing.T) {
	f := newFixture(t, cache.StrategyNetworkFirst)
	f.seed(t, `{"v":1}`, t0, time.Hour)
	f.origin.setRespond(reply(http.StatusOK, `{"v":2}`, "Cache-Control", "max-age=60"))

	resp := f.do(t, newRequest(t))
	assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, `{"v":2}`, readBody(t, resp))

	entry := f.storage.Entry(cache.BaseKey(http.MethodGet, testURL))
	require.NotNil(t, entry)
	assert.Equal(t, `{"v":2}`, string(entry.Body))
}

func TestNetworkFirst_FallsBackToStoredEntry(t *testing.T) {
	f := newFixture(t, cache.StrategyNetworkFirst)
	f.seed(t, `{"v":1}`, t0.Add(-time.Hour), time.Second)
	f.origin.setRespond(fail(errors.New("network down")))

	resp := f.do(t, newRequest(t))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stale", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, []string{cache.WarningStale}, resp.Header.Values(cache.HeaderWarning))
	assert.Equal(t, `{"v":1}`, readBody(t, resp))
}

func TestNetworkFirst_FallbackOfFreshEntryIsHit(t *testing.T) {
	f := newFixture(t, cache.StrategyNetworkFirst)
	f.seed(t, `{"v":1}`, t0, time.Hour)
	f.origin.setRespond(fail(errors.New("network down")))

	resp := f.do(t, newRequest(t))
	assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))
}

func TestNetworkFirst_NoEntryPropagatesOriginalError(t *testing.T) {
	f := newFixture(t, cache.StrategyNetworkFirst)
	netErr := errors.New("network down")
	f.origin.setRespond(fail(netErr))

	_, err := f.cache.Handle(newRequest(t), f.origin.handle)
	assert.Same(t, netErr, err)
}

func TestNetworkFirst_StorageFailureOnFallbackIsMiss(t *testing.T) {
	f := newFixture(t, cache.StrategyNetworkFirst)
	netErr := errors.New("network down")
	f.origin.setRespond(fail(netErr))
	f.storage.FailGet(errors.New("storage offline"))

	_, err := f.cache.Handle(newRequest(t), f.origin.handle)
	assert.Same(t, netErr, err)
}

func TestNetworkFirst_CancelledRequestDoesNotFallBack(t *testing.T) {
	f := newFixture(t, cache.StrategyNetworkFirst)
	f.seed(t, `{"v":1}`, t0, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	f.origin.setRespond(func(req *http.Request) (*http.Response, error) {
		cancel()
		return nil, req.Context().Err()
	})

	_, err := f.cache.Handle(newRequest(t).WithContext(ctx), f.origin.handle)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaleWhileRevalidate_ServesStaleAndUpdatesAsync(t *testing.T) {
	f := newFixture(t, cache.StrategyStaleWhileRevalidate)
	f.seed(t, `{"v":1}`, t0.Add(-time.Minute), time.Second)
	f.origin.setRespond(reply(http.StatusOK, `{"v":2}`, "Cache-Control", "max-age=60"))

	resp := f.do(t, newRequest(t))
	assert.Equal(t, `{"v":1}`, readBody(t, resp))
	assert.Equal(t, "stale", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, []string{cache.WarningStale}, resp.Header.Values(cache.HeaderWarning))

	f.cache.Wait()

	assert.Equal(t, 1, f.origin.Calls())
	entry := f.storage.Entry(cache.BaseKey(http.MethodGet, testURL))
	require.NotNil(t, entry)
	assert.Equal(t, `{"v":2}`, string(entry.Body))

	next := f.do(t, newRequest(t))
	assert.Equal(t, "hit", next.Header.Get(cache.HeaderXCache))
	assert.Equal(t, `{"v":2}`, readBody(t, next))
}

func TestStaleWhileRevalidate_FreshEntryNoNetwork(t *testing.T) {
	f := newFixture(t, cache.StrategyStaleWhileRevalidate)
	f.seed(t, `{"v":1}`, t0, time.Hour)

	resp := f.do(t, newRequest(t))
	assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))

	f.cache.Wait()
	assert.Zero(t, f.origin.Calls())
}

func TestStaleWhileRevalidate_ColdStartBlocks(t *testing.T) {
	f := newFixture(t, cache.StrategyStaleWhileRevalidate)
	f.origin.setRespond(reply(http.StatusOK, `{"v":1}`, "Cache-Control", "max-age=60"))

	resp := f.do(t, newRequest(t))
	assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, `{"v":1}`, readBody(t, resp))
	assert.Equal(t, 1, f.origin.Calls())

	netErr := errors.New("network down")
	f.origin.setRespond(fail(netErr))
	other, err := http.NewRequest(http.MethodGet, testURL+"/other", nil)
	require.NoError(t, err)
	_, err = f.cache.Handle(other, f.origin.handle)
	assert.Same(t, netErr, err)
}

func TestStaleWhileRevalidate_BackgroundErrorReported(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []error
		keys     []string
	)
	f := newFixture(t, cache.StrategyStaleWhileRevalidate, func(cfg *cache.Config) {
		cfg.OnRevalidateError = func(key string, err error) {
			mu.Lock()
			defer mu.Unlock()
			keys = append(keys, key)
			reported = append(reported, err)
		}
	})
	f.seed(t, `{"v":1}`, t0.Add(-time.Minute), time.Second)
	netErr := errors.New("network down")
	f.origin.setRespond(fail(netErr))

	resp, err := f.cache.Handle(newRequest(t), f.origin.handle)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, readBody(t, resp))

	f.cache.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], netErr)
	assert.Equal(t, []string{cache.BaseKey(http.MethodGet, testURL)}, keys)
}

func TestStaleWhileRevalidate_BackgroundSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, cache.StrategyStaleWhileRevalidate)
	f.seed(t, `{"v":1}`, t0.Add(-time.Minute), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.origin.setRespond(func(req *http.Request) (*http.Response, error) {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}
		return response(req, http.StatusOK, `{"v":2}`, "Cache-Control", "max-age=60"), nil
	})

	resp := f.do(t, newRequest(t).WithContext(ctx))
	assert.Equal(t, "stale", resp.Header.Get(cache.HeaderXCache))

	f.cache.Wait()
	entry := f.storage.Entry(cache.BaseKey(http.MethodGet, testURL))
	require.NotNil(t, entry)
	assert.Equal(t, `{"v":2}`, string(entry.Body))
}

func TestStaleWhileRevalidate_Dedupe(t *testing.T) {
	f := newFixture(t, cache.StrategyStaleWhileRevalidate, func(cfg *cache.Config) {
		cfg.DedupeRevalidation = true
	})
	f.seed(t, `{"v":1}`, t0.Add(-time.Minute), time.Second)

	release := make(chan struct{})
	f.origin.setRespond(func(req *http.Request) (*http.Response, error) {
		<-release
		return response(req, http.StatusOK, `{"v":2}`, "Cache-Control", "max-age=60"), nil
	})

	for range 3 {
		resp := f.do(t, newRequest(t))
		assert.Equal(t, "stale", resp.Header.Get(cache.HeaderXCache))
	}

	// give all background tasks time to join the in-flight call
	time.Sleep(200 * time.Millisecond)
	close(release)
	f.cache.Wait()

	assert.Equal(t, 1, f.origin.Calls())
}

func TestRFC_FreshHit(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	f.origin.setRespond(reply(http.StatusOK, `{"v":1}`, "Cache-Control", "max-age=60"))

	assert.Equal(t, "miss", f.do(t, newRequest(t)).Header.Get(cache.HeaderXCache))

	f.clock.Advance(59 * time.Second)
	resp := f.do(t, newRequest(t))
	assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, `{"v":1}`, readBody(t, resp))
	assert.Equal(t, 1, f.origin.Calls())

	f.clock.Advance(time.Second)
	assert.Equal(t, "miss", f.do(t, newRequest(t)).Header.Get(cache.HeaderXCache))
	assert.Equal(t, 2, f.origin.Calls())
}

func TestRFC_TTLHintIncludesStaleRetention(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant, func(cfg *cache.Config) {
		cfg.StaleRetention = time.Hour
	})
	f.origin.setRespond(reply(http.StatusOK, "body", "Cache-Control", "max-age=60"))

	f.do(t, newRequest(t))
	assert.Equal(t, time.Hour+time.Minute, f.storage.TTLHint(cache.BaseKey(http.MethodGet, testURL)))
}

func TestRFC_OnlyIfCachedEmptyStore(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)

	resp := f.do(t, newRequest(t, "Cache-Control", "only-if-cached"))
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "504 Gateway Timeout", resp.Status)
	assert.Equal(t, "Gateway Timeout", http.StatusText(resp.StatusCode))
	assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
	assert.Zero(t, f.origin.Calls())
}

func TestRFC_OnlyIfCached(t *testing.T) {
	tests := []struct {
		name       string
		age        time.Duration
		request    string
		wantStatus int
		wantXCache string
	}{
		{"fresh entry served", 10 * time.Second, "only-if-cached", http.StatusOK, "hit"},
		{"stale entry rejected", 2 * time.Minute, "only-if-cached", http.StatusGatewayTimeout, "miss"},
		{"stale entry within max-stale", 2 * time.Minute, "only-if-cached, max-stale=120", http.StatusOK, "stale"},
		{"combined with no-cache", 10 * time.Second, "only-if-cached, no-cache", http.StatusGatewayTimeout, "miss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cache.StrategyRFCCompliant)
			f.seed(t, `{"v":1}`, t0, time.Minute)
			f.clock.Advance(tt.age)

			resp := f.do(t, newRequest(t, "Cache-Control", tt.request))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantXCache, resp.Header.Get(cache.HeaderXCache))
			assert.Zero(t, f.origin.Calls())
		})
	}
}

func TestRFC_MaxStaleBoundary(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	f.origin.setRespond(reply(http.StatusOK, `{"v":1}`, "Cache-Control", "max-age=1"))
	f.do(t, newRequest(t))
	require.Equal(t, 1, f.origin.Calls())

	// 1 second stale
	f.clock.Advance(2 * time.Second)
	resp := f.do(t, newRequest(t, "Cache-Control", "max-stale=10"))
	assert.Equal(t, "stale", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, []string{cache.WarningStale}, resp.Header.Values(cache.HeaderWarning))
	assert.Equal(t, 1, f.origin.Calls())

	// 2 seconds stale
	f.clock.Advance(time.Second)
	resp = f.do(t, newRequest(t, "Cache-Control", "max-stale=1"))
	assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, 2, f.origin.Calls())
}

func TestRFC_NoCacheBypassesRead(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
	}{
		{"cache-control", []string{"Cache-Control", "no-cache"}},
		{"pragma", []string{"Pragma", "no-cache"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cache.StrategyRFCCompliant)
			f.seed(t, `{"v":1}`, t0, time.Hour)
			f.origin.setRespond(reply(http.StatusOK, `{"v":2}`, "Cache-Control", "max-age=60"))

			resp := f.do(t, newRequest(t, tt.headers...))
			assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
			assert.Equal(t, `{"v":2}`, readBody(t, resp))
			assert.Equal(t, 1, f.origin.Calls())

			// the fresh result is written back
			resp = f.do(t, newRequest(t))
			assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))
			assert.Equal(t, `{"v":2}`, readBody(t, resp))
		})
	}
}

func TestRFC_NotStored(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers []string
	}{
		{"no-store", http.StatusOK, []string{"Cache-Control", "no-store, max-age=60"}},
		{"vary wildcard", http.StatusOK, []string{"Cache-Control", "max-age=60", "Vary", "*"}},
		{"server error", http.StatusInternalServerError, []string{"Cache-Control", "max-age=60"}},
		{"not found", http.StatusNotFound, []string{"Cache-Control", "max-age=60"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cache.StrategyRFCCompliant)
			f.origin.setRespond(reply(tt.status, "body", tt.headers...))

			first := f.do(t, newRequest(t))
			assert.Equal(t, tt.status, first.StatusCode)
			assert.Equal(t, "miss", first.Header.Get(cache.HeaderXCache))
			assert.Equal(t, "body", readBody(t, first))

			f.do(t, newRequest(t))
			assert.Equal(t, 2, f.origin.Calls())
			assert.Zero(t, f.storage.SetCount())
		})
	}
}

func TestRFC_Vary(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	f.origin.setRespond(func(req *http.Request) (*http.Response, error) {
		lang := req.Header.Get("Accept-Language")
		return response(req, http.StatusOK, "lang="+lang,
			"Cache-Control", "max-age=60",
			"Vary", "Accept-Language"), nil
	})

	for _, lang := range []string{"de", "en"} {
		resp := f.do(t, newRequest(t, "Accept-Language", lang))
		assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
		assert.Equal(t, "lang="+lang, readBody(t, resp))
	}
	assert.Equal(t, 2, f.origin.Calls())

	for _, lang := range []string{"de", "en"} {
		resp := f.do(t, newRequest(t, "Accept-Language", lang))
		assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))
		assert.Equal(t, "lang="+lang, readBody(t, resp))
	}
	assert.Equal(t, 2, f.origin.Calls())

	keys, err := f.cache.Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"GET:" + testURL,
		"GET:" + testURL + "\naccept-language: de",
		"GET:" + testURL + "\naccept-language: en",
	}, keys)
}

func TestRFC_HeuristicWarning(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	f.origin.setRespond(reply(http.StatusOK, "doc",
		"Date", cachecontrol.FormatDate(t0),
		"Last-Modified", cachecontrol.FormatDate(t0.Add(-100*24*time.Hour))))
	f.do(t, newRequest(t))

	f.clock.Advance(time.Hour)
	resp := f.do(t, newRequest(t))
	assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))
	assert.Empty(t, resp.Header.Values(cache.HeaderWarning))

	f.clock.Advance(2 * 24 * time.Hour)
	resp = f.do(t, newRequest(t))
	assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, []string{cache.WarningHeuristic}, resp.Header.Values(cache.HeaderWarning))
	assert.Equal(t, 1, f.origin.Calls())
}

func TestRFC_MustRevalidateIgnoresMaxStale(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	f.origin.setRespond(reply(http.StatusOK, "body", "Cache-Control", "max-age=1, must-revalidate"))
	f.do(t, newRequest(t))

	f.clock.Advance(5 * time.Second)
	resp := f.do(t, newRequest(t, "Cache-Control", "max-stale"))
	assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, 2, f.origin.Calls())
}

func TestRFC_NetworkErrorPropagates(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	netErr := errors.New("tls handshake timeout")
	f.origin.setRespond(fail(netErr))

	_, err := f.cache.Handle(newRequest(t), f.origin.handle)
	assert.Same(t, netErr, err)
}

func TestRFC_StorageErrorsPropagate(t *testing.T) {
	storageErr := errors.New("storage offline")

	t.Run("get", func(t *testing.T) {
		f := newFixture(t, cache.StrategyRFCCompliant)
		f.storage.FailGet(storageErr)

		_, err := f.cache.Handle(newRequest(t), f.origin.handle)
		assert.ErrorIs(t, err, storageErr)
		assert.Zero(t, f.origin.Calls())
	})

	t.Run("set", func(t *testing.T) {
		f := newFixture(t, cache.StrategyRFCCompliant)
		f.storage.FailSet(storageErr)

		_, err := f.cache.Handle(newRequest(t), f.origin.handle)
		assert.ErrorIs(t, err, storageErr)
		assert.Equal(t, 1, f.origin.Calls())
	})
}

func TestRFC_InvalidStoredEntryIsMiss(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	require.NoError(t, f.storage.Set(context.Background(),
		cache.BaseKey(http.MethodGet, testURL), &cache.CacheEntry{}, 0))

	resp := f.do(t, newRequest(t))
	assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
	assert.Equal(t, 1, f.origin.Calls())
}

// corruptStorage reports ErrInvalidEntry for keys marked corrupt until
// they are written again.
type corruptStorage struct {
	*testutil.MapStorage
	mu      sync.Mutex
	corrupt map[string]bool
}

func (s *corruptStorage) Get(ctx context.Context, key string) (*cache.CacheEntry, error) {
	s.mu.Lock()
	bad := s.corrupt[key]
	s.mu.Unlock()
	if bad {
		return nil, fmt.Errorf("%w: invalid character 'o' in literal null", cache.ErrInvalidEntry)
	}
	return s.MapStorage.Get(ctx, key)
}

func (s *corruptStorage) Set(ctx context.Context, key string, entry *cache.CacheEntry, ttlHint time.Duration) error {
	s.mu.Lock()
	delete(s.corrupt, key)
	s.mu.Unlock()
	return s.MapStorage.Set(ctx, key, entry, ttlHint)
}

func TestHandle_UndecodableEntryIsMissAndRecovers(t *testing.T) {
	for _, strategy := range []cache.Strategy{
		cache.StrategyRFCCompliant,
		cache.StrategyCacheFirst,
		cache.StrategyStaleWhileRevalidate,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			storage := &corruptStorage{
				MapStorage: testutil.NewMapStorage(),
				corrupt:    map[string]bool{cache.BaseKey(http.MethodGet, testURL): true},
			}
			cfg := cache.DefaultConfig(storage)
			cfg.Strategy = strategy
			cfg.TTL = time.Minute
			c, err := cache.New(cfg)
			require.NoError(t, err)
			t.Cleanup(c.Wait)

			origin := &fakeOrigin{respond: reply(http.StatusOK, "fresh", "Cache-Control", "max-age=60")}
			handle := pipeline.Chain(origin.handle, c.Middleware())

			resp, err := handle(newRequest(t))
			require.NoError(t, err)
			assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))
			assert.Equal(t, "fresh", readBody(t, resp))

			resp, err = handle(newRequest(t))
			require.NoError(t, err)
			assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))
			assert.Equal(t, "fresh", readBody(t, resp))
			assert.Equal(t, 1, origin.Calls())
		})
	}
}

func TestHandle_StoredResponseIsolated(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	f.origin.setRespond(reply(http.StatusOK, "body", "Cache-Control", "max-age=60", "X-Origin", "a"))

	first := f.do(t, newRequest(t))
	first.Header.Set("X-Origin", "mutated")

	second := f.do(t, newRequest(t))
	assert.Equal(t, "a", second.Header.Get("X-Origin"))
	assert.Equal(t, "body", readBody(t, second))
}

func TestMiddleware_AnyChainPosition(t *testing.T) {
	f := newFixture(t, cache.StrategyRFCCompliant)
	f.origin.setRespond(reply(http.StatusOK, "body", "Cache-Control", "max-age=60"))

	var order []string
	tagger := func(name string) pipeline.Middleware {
		return func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
			order = append(order, name)
			return next(req)
		}
	}

	h := pipeline.Chain(f.origin.handle, tagger("outer"), f.cache.Middleware(), tagger("inner"))

	resp, err := h(newRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "miss", resp.Header.Get(cache.HeaderXCache))

	resp, err = h(newRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "hit", resp.Header.Get(cache.HeaderXCache))

	// the inner link is skipped on a hit
	assert.Equal(t, []string{"outer", "inner", "outer"}, order)
}

func TestMiddleware_OverHTTP(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/items", testutil.NewFreshResponse(`[1,2,3]`, time.Minute))

	c, err := cache.New(cache.DefaultConfig(testutil.NewMapStorage()))
	require.NoError(t, err)

	client := &http.Client{Transport: &pipeline.Transport{
		Base:        origin.Client().Transport,
		Middlewares: []pipeline.Middleware{c.Middleware()},
	}}

	for i, want := range []string{"miss", "hit"} {
		resp, err := client.Get(origin.URL() + "/items")
		require.NoError(t, err, "request %d", i)
		assert.Equal(t, want, resp.Header.Get(cache.HeaderXCache))
		assert.Equal(t, `[1,2,3]`, readBody(t, resp))
	}
	assert.Equal(t, 1, origin.PathCount("/items"))
}
