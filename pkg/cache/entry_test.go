package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseToEntry(t *testing.T) {
	lastModified := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	resp := &http.Response{
		Status:     "203 Non-Authoritative Information",
		StatusCode: http.StatusNonAuthoritativeInfo,
		Header: http.Header{
			"Expires":       []string{t0.Add(time.Hour).Format(http.TimeFormat)},
			"Last-Modified": []string{lastModified.Format(http.TimeFormat)},
			"Etag":          []string{`"abc123"`},
			"Set-Cookie":    []string{"a=1", "b=2"},
		},
		Body: io.NopCloser(bytes.NewReader([]byte(`{"test": "data"}`))),
	}

	entry, err := ResponseToEntry(resp, t0)
	require.NoError(t, err)

	assert.Equal(t, 203, entry.Status)
	assert.Equal(t, "Non-Authoritative Information", entry.StatusText)
	assert.Equal(t, []byte(`{"test": "data"}`), entry.Body)
	assert.Equal(t, t0, entry.StoredAt)
	assert.Equal(t, t0.Add(time.Hour), entry.Expires)
	assert.Equal(t, lastModified, entry.LastModified)
	assert.Equal(t, `"abc123"`, entry.ETag)
	assert.Equal(t, []string{"a=1", "b=2"}, entry.Headers.Values("Set-Cookie"))

	_, ok := entry.MaxAge()
	assert.False(t, ok)

	// the body is still readable by the caller
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"test": "data"}`, string(body))
}

func TestResponseToEntry_Errors(t *testing.T) {
	_, err := ResponseToEntry(nil, t0)
	assert.Error(t, err)

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(&failingReader{}),
	}
	_, err = ResponseToEntry(resp, t0)
	assert.Error(t, err)
}

func TestEntryToResponse(t *testing.T) {
	entry := &CacheEntry{
		Status:     http.StatusOK,
		StatusText: "OK",
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"v":1}`),
		StoredAt:   t0,
	}
	req := httptest.NewRequest(http.MethodGet, "https://example.com/x", nil)

	resp := EntryToResponse(entry, req)
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(7), resp.ContentLength)
	assert.Same(t, req, resp.Request)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(body))

	// mutations of the response never reach the entry
	resp.Header.Set("X-Cache", "hit")
	assert.Empty(t, entry.Headers.Get("X-Cache"))
}

func TestEntryToResponse_MissingStatusText(t *testing.T) {
	entry := &CacheEntry{Status: http.StatusNotFound, StoredAt: t0}
	assert.Equal(t, "404 Not Found", EntryToResponse(entry, nil).Status)
}

func TestCacheEntry_JSON(t *testing.T) {
	entry := &CacheEntry{
		Status:     http.StatusOK,
		StatusText: "OK",
		Headers:    http.Header{"Vary": []string{"Accept"}},
		Body:       []byte("payload"),
		StoredAt:   t0,
	}
	entry.SetMaxAge(90 * time.Second)

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"expires"`)

	var decoded CacheEntry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, entry.Body, decoded.Body)
	assert.True(t, entry.StoredAt.Equal(decoded.StoredAt))

	maxAge, ok := decoded.MaxAge()
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, maxAge)
}

func TestCacheEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   *CacheEntry
		wantErr bool
	}{
		{"valid", &CacheEntry{Status: 200, StoredAt: t0}, false},
		{"nil", nil, true},
		{"zero status", &CacheEntry{StoredAt: t0}, true},
		{"missing stored_at", &CacheEntry{Status: 200}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEntry)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCacheEntry_Age(t *testing.T) {
	entry := &CacheEntry{StoredAt: t0}
	assert.Equal(t, time.Minute, entry.Age(t0.Add(time.Minute)))
	assert.Zero(t, entry.Age(t0.Add(-time.Minute)))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
