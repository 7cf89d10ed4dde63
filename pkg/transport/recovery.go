package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/weiche/pkg/api"
)

// Recovery returns middleware that catches panics in the dispatcher and
// converts them to an internal error. The server continues to accept new
// requests after a panic is recovered.
func Recovery() Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, req api.Request) (resp *api.CanonicalResponse, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in dispatch",
						"request_id", req.RequestID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					resp = nil
					retErr = fmt.Errorf("internal server error: %v", r)
				}
			}()
			return next.Dispatch(ctx, req)
		})
	}
}
