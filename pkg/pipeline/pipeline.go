// Package pipeline composes HTTP client middlewares into an ordered chain.
//
// A Handler performs a request and returns its response. A Middleware
// receives the request plus the next Handler and may answer on its own,
// delegate, or both. The last link of a chain is usually an
// http.RoundTripper wrapped with FromRoundTripper.
package pipeline

import (
	"net/http"
)

// Handler dispatches a request.
type Handler func(req *http.Request) (*http.Response, error)

// Middleware is one link of a chain. It must not assume it is the first or
// the last link.
type Middleware func(req *http.Request, next Handler) (*http.Response, error)

// Chain returns a Handler running mws in order in front of final.
// Chain(h, a, b) calls a, which calls b, which calls h.
func Chain(final Handler, mws ...Middleware) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(req *http.Request) (*http.Response, error) {
			return mw(req, next)
		}
	}
	return h
}

// FromRoundTripper adapts rt to a Handler. A nil rt means
// http.DefaultTransport.
func FromRoundTripper(rt http.RoundTripper) Handler {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip
}

// Transport is an http.RoundTripper running Middlewares in front of Base.
type Transport struct {
	Base        http.RoundTripper
	Middlewares []Middleware
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return Chain(FromRoundTripper(t.Base), t.Middlewares...)(req)
}
