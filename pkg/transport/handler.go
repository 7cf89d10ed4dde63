package transport

import (
	"context"

	"github.com/rhuss/weiche/pkg/api"
)

// Dispatcher executes one canonical request. Implementations return a
// non-nil response even on failure; the error, when set, is the same
// *api.Error carried in the response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req api.Request) (*api.CanonicalResponse, error)
}

// DispatcherFunc is an adapter that allows using an ordinary function
// as a Dispatcher.
type DispatcherFunc func(ctx context.Context, req api.Request) (*api.CanonicalResponse, error)

// Dispatch calls f(ctx, req).
func (f DispatcherFunc) Dispatch(ctx context.Context, req api.Request) (*api.CanonicalResponse, error) {
	return f(ctx, req)
}
