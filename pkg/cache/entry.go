package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cachecontrol"
)

// CacheEntry is the persisted form of a captured response.
type CacheEntry struct {
	// Status is the HTTP status code of the captured response
	Status int `json:"status"`

	// StatusText is the reason phrase, e.g. "OK"
	StatusText string `json:"status_text"`

	// Headers are the response headers as received
	Headers http.Header `json:"headers"`

	// Body is the fully materialized response body
	Body []byte `json:"body"`

	// StoredAt is when the captured response was received
	StoredAt time.Time `json:"stored_at"`

	// MaxAgeSeconds overrides the header-derived freshness lifetime when set
	MaxAgeSeconds *int64 `json:"max_age_seconds,omitempty"`

	// Expires is the parsed Expires header, zero when absent
	Expires time.Time `json:"expires,omitzero"`

	// ETag and LastModified are the validators of the response
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// MaxAge returns the explicit freshness lifetime of the entry, if any.
func (e *CacheEntry) MaxAge() (time.Duration, bool) {
	if e.MaxAgeSeconds == nil {
		return 0, false
	}
	return time.Duration(*e.MaxAgeSeconds) * time.Second, true
}

// SetMaxAge records an explicit freshness lifetime, truncated to seconds.
func (e *CacheEntry) SetMaxAge(d time.Duration) {
	s := int64(d / time.Second)
	e.MaxAgeSeconds = &s
}

// Age returns how long ago the entry was stored, never negative.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	age := now.Sub(e.StoredAt)
	if age < 0 {
		return 0
	}
	return age
}

// Clone returns a deep copy of the entry.
func (e *CacheEntry) Clone() *CacheEntry {
	c := *e
	c.Headers = e.Headers.Clone()
	c.Body = bytes.Clone(e.Body)
	if e.MaxAgeSeconds != nil {
		v := *e.MaxAgeSeconds
		c.MaxAgeSeconds = &v
	}
	return &c
}

// Vary returns the request header names the entry varies on.
func (e *CacheEntry) Vary() (names []string, wildcard bool) {
	return cachecontrol.ParseVary(e.Headers)
}

// Validate checks that the entry can be replayed as a response.
func (e *CacheEntry) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if e.Status < 100 || e.Status > 999 {
		return fmt.Errorf("%w: status %d", ErrInvalidEntry, e.Status)
	}
	if e.StoredAt.IsZero() {
		return fmt.Errorf("%w: missing stored_at", ErrInvalidEntry)
	}
	return nil
}

// ResponseToEntry captures resp into a CacheEntry stored at storedAt.
// The body is read completely and restored on resp so the caller can still
// consume it.
func ResponseToEntry(resp *http.Response, storedAt time.Time) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	headers := resp.Header.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	entry := &CacheEntry{
		Status:       resp.StatusCode,
		StatusText:   statusText(resp),
		Headers:      headers,
		Body:         body,
		StoredAt:     storedAt,
		Expires:      cachecontrol.ParseDate(headers.Get(cachecontrol.HeaderExpires)),
		ETag:         headers.Get(cachecontrol.HeaderETag),
		LastModified: cachecontrol.ParseDate(headers.Get(cachecontrol.HeaderLastModified)),
	}
	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from a stored entry. The
// returned response owns copies of the headers and body.
func EntryToResponse(entry *CacheEntry, req *http.Request) *http.Response {
	body := bytes.Clone(entry.Body)
	headers := entry.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	text := entry.StatusText
	if text == "" {
		text = http.StatusText(entry.Status)
	}

	return &http.Response{
		Status:        strconv.Itoa(entry.Status) + " " + text,
		StatusCode:    entry.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// statusText returns the reason phrase of resp, falling back to the
// standard text for its status code.
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
