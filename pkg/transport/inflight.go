package transport

import (
	"context"
	"sync"

	"github.com/rhuss/weiche/pkg/api"
)

// InFlightRegistry maps request IDs of running dispatches to their cancel
// functions so DELETE /v1/dispatch/{id} can abort a call still waiting on a
// vendor. Safe for concurrent use.
type InFlightRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *InFlightRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()
}

// Cancel aborts the dispatch registered under id. It reports false when
// no such dispatch is running.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Remove forgets id without cancelling it.
func (r *InFlightRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.cancels, id)
	r.mu.Unlock()
}

func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Track returns middleware that registers every dispatch under its request
// ID for the duration of the call. It must run inside RequestID.
func Track(reg *InFlightRegistry) Middleware {
	return func(next Dispatcher) Dispatcher {
		return DispatcherFunc(func(ctx context.Context, req api.Request) (*api.CanonicalResponse, error) {
			if req.RequestID == "" {
				return next.Dispatch(ctx, req)
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			reg.Register(req.RequestID, cancel)
			defer reg.Remove(req.RequestID)

			return next.Dispatch(ctx, req)
		})
	}
}
