package transport

import (
	"context"

	"github.com/rhuss/weiche/pkg/api"
)

// RequestID returns middleware that assigns a request ID to each dispatch.
// An ID already on the request wins, then one carried by the context (set
// by the HTTP adapter from the X-Request-ID header). Otherwise a new
// req_-prefixed ID is generated. The chosen ID is written to both the
// request and the context.
func RequestID() Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, req api.Request) (*api.CanonicalResponse, error) {
			id := req.RequestID
			if id == "" {
				id = RequestIDFromContext(ctx)
			}
			if id == "" {
				id = api.NewRequestID()
			}
			req.RequestID = id
			return next.Dispatch(ContextWithRequestID(ctx, id), req)
		})
	}
}

type requestIDKey struct{}

// ContextWithRequestID returns ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID carried by ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
