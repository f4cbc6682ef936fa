package cache

import (
	"fmt"
	"strings"
)

// Strategy selects how the cache balances stored responses against the
// network. It is chosen by configuration, never auto-detected.
type Strategy string

const (
	// StrategyCacheFirst ignores HTTP freshness headers; an entry is fresh
	// for the configured TTL after it was stored.
	StrategyCacheFirst Strategy = "cache-first"

	// StrategyNetworkFirst always asks the network and falls back to any
	// stored entry when the network fails.
	StrategyNetworkFirst Strategy = "network-first"

	// StrategyStaleWhileRevalidate serves any stored entry immediately and
	// refreshes stale ones in the background.
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"

	// StrategyRFCCompliant follows the HTTP caching rules of RFC 7234.
	StrategyRFCCompliant Strategy = "rfc-compliant"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{
	StrategyCacheFirst,
	StrategyNetworkFirst,
	StrategyStaleWhileRevalidate,
	StrategyRFCCompliant,
}

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	want := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Strategies {
		if st == want {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
}

// Source tells where a served response came from.
type Source string

const (
	SourceHit   Source = "hit"
	SourceStale Source = "stale"
	SourceMiss  Source = "miss"
)

// state is the per-request position of the strategy state machine.
type state string

const (
	stateMiss            state = "MISS"
	stateHitFresh        state = "HIT_FRESH"
	stateHitStale        state = "HIT_STALE_SERVABLE"
	stateRevalidating    state = "REVALIDATING"
	stateNetworkFallback state = "NETWORK_FALLBACK"
)
