package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/weiche/pkg/api"
)

// Logging returns middleware that emits one structured log entry per
// dispatch: request ID, requested vendor and model, grounding mode, the
// vendor that answered, duration and, on failure, the error kind.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, req api.Request) (*api.CanonicalResponse, error) {
			start := time.Now()

			resp, err := next.Dispatch(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", req.RequestID),
				slog.String("vendor", string(req.Vendor)),
				slog.String("model", req.Model),
				slog.String("grounding_mode", string(req.Mode())),
				slog.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Vendor != "" {
				attrs = append(attrs, slog.String("served_by", string(resp.Vendor)))
			}

			if err != nil {
				if kind := api.KindOf(err); kind != "" {
					attrs = append(attrs, slog.String("kind", string(kind)))
				}
				attrs = append(attrs, slog.String("error", err.Error()))
				level := slog.LevelWarn
				if resp == nil {
					level = slog.LevelError
				}
				logger.LogAttrs(ctx, level, "dispatch failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "dispatch completed", attrs...)
			}

			return resp, err
		})
	}
}
