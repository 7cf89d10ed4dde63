package transport

import "slices"

// Middleware decorates a Dispatcher.
type Middleware func(Dispatcher) Dispatcher

// Chain composes middlewares so the first argument is the outermost:
// Chain(a, b)(d) dispatches through a, then b, then d. Nil entries are
// skipped.
func Chain(middlewares ...Middleware) Middleware {
	return func(d Dispatcher) Dispatcher {
		for _, mw := range slices.Backward(middlewares) {
			if mw != nil {
				d = mw(d)
			}
		}
		return d
	}
}
