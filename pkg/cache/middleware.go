package cache

import (
	"net/http"

	"github.com/Sternrassler/httpcache/pkg/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handle is the cache middleware. Requests other than GET and HEAD go
// straight to next. Every response produced through the cache carries
// X-Cache; network errors are returned unchanged.
func (c *Cache) Handle(req *http.Request, next pipeline.Handler) (*http.Response, error) {
	if !cacheableMethod(req.Method) {
		return next(req)
	}

	ctx, span := c.tracer.Start(req.Context(), "httpcache.lookup",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("httpcache.strategy", string(c.strategy)),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	var (
		out outcome
		err error
	)
	switch c.strategy {
	case StrategyCacheFirst:
		out, err = c.cacheFirst(req, next)
	case StrategyNetworkFirst:
		out, err = c.networkFirst(req, next)
	case StrategyStaleWhileRevalidate:
		out, err = c.staleWhileRevalidate(req, next)
	default:
		out, err = c.rfcCompliant(req, next)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		Lookups.WithLabelValues(string(c.strategy), "error").Inc()
		return nil, err
	}

	span.SetAttributes(
		attribute.String("httpcache.outcome", string(out.tag.Source)),
		attribute.String("httpcache.state", string(out.state)),
	)
	Lookups.WithLabelValues(string(c.strategy), string(out.tag.Source)).Inc()

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("state", string(out.state)).
		Str("x_cache", string(out.tag.Source)).
		Int("status", out.resp.StatusCode).
		Msg("Cache lookup")

	return Decorate(out.resp, out.tag), nil
}
