// Package storage persists finished dispatches as runs. A run holds the
// canonical response and its telemetry verbatim so that callers can fetch
// it again by run id.
//
// Backends live in the memory and postgres subpackages and implement
// Store. Runs are scoped by owner: when an owner is present in the
// context, only that owner's runs are visible.
package storage
