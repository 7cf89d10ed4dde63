// Package transport defines the dispatcher interface and middleware chain
// for the weiche HTTP layer.
//
// The transport layer bridges external clients and the router. It decodes
// incoming requests into the canonical types defined in pkg/api, hands them
// to a Dispatcher, and encodes the canonical response back to the client.
//
// # Dispatcher
//
// Dispatcher is the single contract between the transport layer and the
// core. *router.Router satisfies it. Middleware wraps a Dispatcher with
// cross-cutting concerns: panic recovery, request ID assignment
// (X-Request-ID), structured logging via log/slog and in-flight tracking for
// explicit cancellation.
//
// # HTTP
//
// Subpackage http serves the dispatcher and the run store over net/http
// using Go 1.22+ ServeMux routing patterns.
package transport
