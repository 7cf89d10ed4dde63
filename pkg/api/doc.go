// Package api defines the canonical, vendor-agnostic types of the weiche
// gateway.
//
// This package provides the request contract callers build, the canonical
// response every adapter is normalized into, citations, usage counters, the
// ambient locale signal (ALS) context, typed errors, and the stable
// telemetry keys reported in response metadata.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O.
//
// Core types:
//   - [Request]: vendor, pinned model, messages, grounding mode, locale context
//   - [CallerConfig]: caller tuning knobs, read-only to the router
//   - [CanonicalResponse]: normalized provider output plus telemetry
//   - [Citation]: resolved source with authority tier and anchoring kind
//   - [Error]: typed failure with a machine-readable [ErrorKind]
package api
