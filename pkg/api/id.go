package api

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	requestIDPrefix = "req_"
	runIDPrefix     = "run_"
)

var (
	requestIDPattern = regexp.MustCompile(`^req_[a-f0-9]{32}$`)
	runIDPattern     = regexp.MustCompile(`^run_[a-f0-9]{32}$`)
)

// NewRequestID generates a request ID: "req_" followed by a random UUID in
// hex without dashes.
func NewRequestID() string {
	return requestIDPrefix + compactUUID()
}

// NewRunID generates a persisted run ID with the "run_" prefix.
func NewRunID() string {
	return runIDPrefix + compactUUID()
}

// ValidateRequestID checks whether id has the request ID shape.
func ValidateRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// ValidateRunID checks whether id has the run ID shape.
func ValidateRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
