package cache

import (
	"context"
	"io"
	"net/http"

	"github.com/Sternrassler/httpcache/pkg/pipeline"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// revalidate refreshes the entry for req in the background. The task
// outlives the triggering request: it keeps the request's values but not
// its cancellation, and it is bounded by revalidateTimeout instead.
// Failures are logged and reported to OnRevalidateError only.
func (c *Cache) revalidate(req *http.Request, next pipeline.Handler) {
	parent := req.Context()
	bg := req.Clone(context.WithoutCancel(parent))
	key := RequestKey(req, nil)
	taskID := uuid.NewString()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx := bg.Context()
		if c.revalidateTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.revalidateTimeout)
			defer cancel()
		}
		ctx, span := c.tracer.Start(ctx, "httpcache.revalidate",
			trace.WithNewRoot(),
			trace.WithLinks(trace.LinkFromContext(parent)),
			trace.WithAttributes(
				attribute.String("httpcache.key", key),
				attribute.String("httpcache.task_id", taskID),
			),
		)
		defer span.End()

		logger := c.logger.With().Str("task_id", taskID).Str("key", key).Logger()
		logger.Debug().Msg("Background revalidation started")

		run := func() (any, error) {
			return nil, c.refresh(bg.WithContext(ctx), next)
		}

		var (
			err    error
			shared bool
		)
		if c.inflight != nil {
			_, err, shared = c.inflight.Do(key, run)
		} else {
			_, err = run()
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			Revalidations.WithLabelValues("error").Inc()
			logger.Warn().Err(err).Msg("Background revalidation failed")
			if c.onRevalidateError != nil {
				c.onRevalidateError(key, err)
			}
			return
		}

		result := "ok"
		if shared {
			result = "shared"
		}
		Revalidations.WithLabelValues(result).Inc()
		logger.Debug().Bool("shared", shared).Msg("Background revalidation finished")
	}()
}

// refresh fetches req and stores the response. The body is drained so the
// connection can be reused.
func (c *Cache) refresh(req *http.Request, next pipeline.Handler) error {
	resp, err := next(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.store(req.Context(), req, resp); err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
