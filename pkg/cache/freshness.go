package cache

import (
	"time"

	"github.com/Sternrassler/httpcache/pkg/cachecontrol"
)

// heuristicFraction is the share of the document's age at capture time used
// as heuristic freshness lifetime (RFC 7234 §4.2.2).
const heuristicFraction = 0.10

// heuristicWarningAge is the age after which a heuristically fresh response
// carries warn-code 113.
const heuristicWarningAge = 24 * time.Hour

// FreshnessResult is the verdict of Evaluate for one entry at one instant.
type FreshnessResult struct {
	Age      time.Duration
	Lifetime time.Duration

	// IsFresh reports whether the entry may be served without contacting
	// the origin.
	IsFresh bool

	// IsHeuristic is set when Lifetime was estimated from Last-Modified.
	IsHeuristic bool

	// ServableStale is set when the entry is stale but the request's
	// max-stale tolerance allows serving it anyway.
	ServableStale bool
}

// Staleness returns how far past its lifetime the entry is, zero when fresh.
func (r FreshnessResult) Staleness() time.Duration {
	if s := r.Age - r.Lifetime; s > 0 {
		return s
	}
	return 0
}

// Lifetime returns the freshness lifetime of entry and whether it was
// computed heuristically. Precedence: explicit max-age, then Expires, then
// 10% of the time between Last-Modified and capture, otherwise zero.
func Lifetime(entry *CacheEntry) (lifetime time.Duration, heuristic bool) {
	if maxAge, ok := entry.MaxAge(); ok {
		return maxAge, false
	}
	if !entry.Expires.IsZero() {
		// may be negative: already expired when captured
		return entry.Expires.Sub(entry.StoredAt), false
	}
	if !entry.LastModified.IsZero() {
		if since := entry.StoredAt.Sub(entry.LastModified); since > 0 {
			return time.Duration(float64(since) * heuristicFraction), true
		}
		return 0, true
	}
	return 0, false
}

// Evaluate computes the freshness of entry at now under the request's
// directives. It is a pure function of its arguments.
func Evaluate(entry *CacheEntry, now time.Time, req cachecontrol.Request) FreshnessResult {
	age := entry.Age(now)
	lifetime, heuristic := Lifetime(entry)
	resp := cachecontrol.ParseResponse(entry.Headers)

	fresh := age < lifetime

	// a stored no-cache response always needs revalidation
	if resp.NoCache {
		fresh = false
	}
	if req.NoCache {
		fresh = false
	}
	withinMaxAge := !req.HasMaxAge || age <= req.MaxAge
	if !withinMaxAge {
		fresh = false
	}
	if req.HasMinFresh && lifetime-age < req.MinFresh {
		fresh = false
	}

	result := FreshnessResult{
		Age:         age,
		Lifetime:    lifetime,
		IsFresh:     fresh,
		IsHeuristic: heuristic,
	}

	if !fresh && req.HasMaxStale && !req.NoCache && !resp.NoCache && !resp.MustRevalidate &&
		withinMaxAge && age >= lifetime {
		result.ServableStale = req.MaxStaleUnbounded || age-lifetime <= req.MaxStale
	}
	return result
}

// isExpiredByTTL reports whether entry is older than a fixed ttl.
func isExpiredByTTL(entry *CacheEntry, now time.Time, ttl time.Duration) bool {
	return entry.Age(now) >= ttl
}
