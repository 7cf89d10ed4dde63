// Package auth provides pluggable authentication for the weiche HTTP API.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from the
// router. The middleware also injects the run owner into the request
// context so persisted runs are scoped to their caller.
package auth
