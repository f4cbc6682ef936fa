package cache

import (
	"net/http"
)

// Observability headers added to served responses.
const (
	HeaderXCache  = "X-Cache"
	HeaderWarning = "Warning"

	WarningStale     = `110 - "Response is Stale"`
	WarningHeuristic = `113 - "Heuristic Expiration"`
)

// Tag describes how a response was produced.
type Tag struct {
	Source Source

	// HeuristicExpired adds warn-code 113 to a served entry.
	HeuristicExpired bool
}

// Decorate returns a shallow copy of resp with cloned headers carrying
// X-Cache and, for stale or heuristically aged responses, Warning. resp
// itself is never modified. Body and all other fields are shared.
func Decorate(resp *http.Response, tag Tag) *http.Response {
	if resp == nil {
		return nil
	}

	out := *resp
	out.Header = resp.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}

	out.Header.Set(HeaderXCache, string(tag.Source))
	if tag.Source == SourceStale {
		out.Header.Add(HeaderWarning, WarningStale)
	}
	if tag.HeuristicExpired && tag.Source != SourceMiss {
		out.Header.Add(HeaderWarning, WarningHeuristic)
	}
	return &out
}
