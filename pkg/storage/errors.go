package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a run does not exist or belongs to
	// another owner.
	ErrNotFound = errors.New("run not found")

	// ErrConflict is returned when a run with the given ID already exists.
	ErrConflict = errors.New("run already exists")
)
