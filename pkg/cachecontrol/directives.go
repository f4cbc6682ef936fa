// Package cachecontrol parses HTTP caching directives from request and
// response headers.
//
// Parsing never fails. Malformed dates and unknown directives are dropped,
// which leaves the caller in the "no freshness information" branch.
package cachecontrol

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Directive names understood by the parser.
const (
	NoStore        = "no-store"
	NoCache        = "no-cache"
	Private        = "private"
	Public         = "public"
	MaxAge         = "max-age"
	MustRevalidate = "must-revalidate"
	MinFresh       = "min-fresh"
	MaxStale       = "max-stale"
	OnlyIfCached   = "only-if-cached"
)

// Header names read by the parser.
const (
	HeaderCacheControl = "Cache-Control"
	HeaderPragma       = "Pragma"
	HeaderExpires      = "Expires"
	HeaderDate         = "Date"
	HeaderLastModified = "Last-Modified"
	HeaderVary         = "Vary"
	HeaderAge          = "Age"
	HeaderETag         = "ETag"
)

// Response holds the normalized caching directives of a response.
type Response struct {
	NoStore        bool
	NoCache        bool
	Private        bool
	MustRevalidate bool

	// MaxAge is valid only when HasMaxAge is set. A malformed value yields 0.
	MaxAge    time.Duration
	HasMaxAge bool

	// Zero when the header is missing or unparsable.
	Expires      time.Time
	Date         time.Time
	LastModified time.Time
	Age          time.Duration

	// Vary lists the header names from the Vary field, in order.
	Vary         []string
	VaryWildcard bool
}

// Request holds the caching directives a client attached to a request.
type Request struct {
	NoCache      bool
	OnlyIfCached bool

	MaxAge    time.Duration
	HasMaxAge bool

	MinFresh    time.Duration
	HasMinFresh bool

	// MaxStale is unbounded when HasMaxStale is set and MaxStaleUnbounded is true.
	MaxStale          time.Duration
	HasMaxStale       bool
	MaxStaleUnbounded bool
}

// Directives is the raw, lower-cased directive map of one or more
// Cache-Control header lines. Flags map to the empty string.
type Directives map[string]string

// Has reports whether the directive is present.
func (d Directives) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// Seconds returns the delta-seconds argument of a directive.
// present reports whether the directive exists at all, valid whether its
// argument parsed as a non-negative integer.
func (d Directives) Seconds(name string) (value time.Duration, present, valid bool) {
	raw, ok := d[name]
	if !ok {
		return 0, false, false
	}
	if raw == "" {
		return 0, true, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// delta-seconds larger than int64 are treated as the largest value
		// (RFC 9111 §1.2.2).
		if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-") {
			return maxDelta, true, true
		}
		return 0, true, false
	}
	if n < 0 {
		return 0, true, false
	}
	if n > int64(maxDelta/time.Second) {
		return maxDelta, true, true
	}
	return time.Duration(n) * time.Second, true, true
}

// maxDelta is 2^31 seconds, the recommended cap for delta-seconds.
const maxDelta = time.Duration(1<<31) * time.Second

// Parse splits Cache-Control header lines into directives. Names are
// compared case-insensitively, surrounding whitespace is ignored and quoted
// arguments are unquoted. When a directive repeats, the first occurrence wins.
func Parse(lines []string) Directives {
	d := make(Directives)
	for _, line := range lines {
		for _, part := range splitMembers(line) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, arg, _ := strings.Cut(part, "=")
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			arg = strings.TrimSpace(arg)
			arg = strings.Trim(arg, `"`)
			if _, seen := d[name]; seen {
				continue
			}
			d[name] = arg
		}
	}
	return d
}

// splitMembers splits a header line at commas outside quoted strings.
// A backslash inside quotes escapes the next character.
func splitMembers(line string) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			parts = append(parts, line[start:i])
			start = i + 1
		}
	}
	return append(parts, line[start:])
}

// ParseResponse extracts the response-side directives from headers.
func ParseResponse(h http.Header) Response {
	cc := Parse(h.Values(HeaderCacheControl))

	r := Response{
		NoStore:        cc.Has(NoStore),
		NoCache:        cc.Has(NoCache),
		Private:        cc.Has(Private),
		MustRevalidate: cc.Has(MustRevalidate),
		Expires:        ParseDate(h.Get(HeaderExpires)),
		Date:           ParseDate(h.Get(HeaderDate)),
		LastModified:   ParseDate(h.Get(HeaderLastModified)),
	}

	if v, present, valid := cc.Seconds(MaxAge); present {
		// invalid freshness information means stale (RFC 9111 §4.2.1)
		r.HasMaxAge = true
		if valid {
			r.MaxAge = v
		}
	}

	if age, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderAge)), 10, 64); err == nil && age > 0 {
		r.Age = time.Duration(age) * time.Second
	}

	r.Vary, r.VaryWildcard = ParseVary(h)
	return r
}

// ParseRequest extracts the request-side directives from headers. A legacy
// "Pragma: no-cache" counts as "Cache-Control: no-cache".
func ParseRequest(h http.Header) Request {
	cc := Parse(h.Values(HeaderCacheControl))

	r := Request{
		NoCache:      cc.Has(NoCache) || pragmaNoCache(h),
		OnlyIfCached: cc.Has(OnlyIfCached),
	}

	if v, _, valid := cc.Seconds(MaxAge); valid {
		r.MaxAge, r.HasMaxAge = v, true
	}
	if v, _, valid := cc.Seconds(MinFresh); valid {
		r.MinFresh, r.HasMinFresh = v, true
	}
	if v, present, valid := cc.Seconds(MaxStale); present {
		switch {
		case cc[MaxStale] == "":
			r.HasMaxStale, r.MaxStaleUnbounded = true, true
		case valid:
			r.HasMaxStale, r.MaxStale = true, v
		}
	}
	return r
}

func pragmaNoCache(h http.Header) bool {
	for _, line := range h.Values(HeaderPragma) {
		for _, tok := range strings.Split(line, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), NoCache) {
				return true
			}
		}
	}
	return false
}

// ParseVary returns the header names listed by Vary in order, lower-cased
// and without duplicates. wildcard is set when any member is "*".
func ParseVary(h http.Header) (names []string, wildcard bool) {
	seen := make(map[string]struct{})
	for _, line := range h.Values(HeaderVary) {
		for _, name := range strings.Split(line, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if name == "*" {
				wildcard = true
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, wildcard
}
