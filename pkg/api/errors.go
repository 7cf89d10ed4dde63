package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the machine-readable category of a gateway failure.
type ErrorKind string

const (
	ErrorKindModelNotAllowed         ErrorKind = "MODEL_NOT_ALLOWED"
	ErrorKindGroundingNotSupported   ErrorKind = "GROUNDING_NOT_SUPPORTED"
	ErrorKindGroundingRequiredFailed ErrorKind = "GROUNDING_REQUIRED_FAILED"
	ErrorKindRateLimited             ErrorKind = "RATE_LIMITED"
	ErrorKindCircuitOpenDowngraded   ErrorKind = "CIRCUIT_OPEN_DOWNGRADED"
	ErrorKindTimeout                 ErrorKind = "TIMEOUT"
	ErrorKindTransport               ErrorKind = "TRANSPORT_ERROR"
	ErrorKindProviderEmpty           ErrorKind = "PROVIDER_EMPTY_RESPONSE"
	ErrorKindInvalidRequest          ErrorKind = "INVALID_REQUEST"
	ErrorKindProviderRejected        ErrorKind = "PROVIDER_REJECTED"
	ErrorKindProviderUnavailable     ErrorKind = "PROVIDER_UNAVAILABLE"
)

// IsPolicy reports whether the kind is a policy outcome. Policy failures
// are never retried: retrying cannot change them.
func (k ErrorKind) IsPolicy() bool {
	switch k {
	case ErrorKindModelNotAllowed, ErrorKindGroundingNotSupported, ErrorKindGroundingRequiredFailed:
		return true
	}
	return false
}

// IsTransport reports whether the kind counts as a transport/proxy-class
// failure for circuit breaker purposes.
func (k ErrorKind) IsTransport() bool {
	return k == ErrorKindTransport || k == ErrorKindTimeout
}

// Error is a structured gateway failure with a kind, a human-readable
// message, and optional provider context.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Vendor     Vendor    `json:"vendor,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`

	// Reason is a short machine token refining the kind,
	// e.g. "tool_unsupported" or "max_tokens".
	Reason string `json:"reason,omitempty"`

	// RetryAfter is the provider's requested backoff on rate limiting.
	RetryAfter time.Duration `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Vendor != "" {
		return fmt.Sprintf("%s: %s (vendor: %s)", e.Kind, e.Message, e.Vendor)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error and returns e.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// WithVendor sets the vendor and returns e.
func (e *Error) WithVendor(v Vendor) *Error {
	e.Vendor = v
	return e
}

// AsError extracts an *Error from err. The second result is false when err
// does not wrap one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or the empty kind when err is not typed.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewModelNotAllowedError reports a model missing from the vendor allow-list.
func NewModelNotAllowedError(vendor Vendor, model string) *Error {
	return &Error{
		Kind:    ErrorKindModelNotAllowed,
		Message: fmt.Sprintf("model %q is not allowed for vendor %s", model, vendor),
		Vendor:  vendor,
	}
}

// NewGroundingNotSupportedError reports a grounded request against a model
// that cannot ground.
func NewGroundingNotSupportedError(vendor Vendor, model string) *Error {
	return &Error{
		Kind:    ErrorKindGroundingNotSupported,
		Message: fmt.Sprintf("model %q on vendor %s does not support grounding", model, vendor),
		Vendor:  vendor,
	}
}

// NewGroundingRequiredFailedError reports unmet REQUIRED grounding evidence.
func NewGroundingRequiredFailedError(vendor Vendor, reason string) *Error {
	return &Error{
		Kind:    ErrorKindGroundingRequiredFailed,
		Message: "grounding was required but not satisfied: " + reason,
		Vendor:  vendor,
		Reason:  reason,
	}
}

// NewRateLimitedError reports exhausted rate-limit backoff.
func NewRateLimitedError(vendor Vendor, message string) *Error {
	return &Error{Kind: ErrorKindRateLimited, Message: message, Vendor: vendor, StatusCode: 429}
}

// NewTimeoutError reports a call that exceeded its deadline.
func NewTimeoutError(vendor Vendor, message string) *Error {
	return &Error{Kind: ErrorKindTimeout, Message: message, Vendor: vendor}
}

// NewTransportError reports a connection-level failure.
func NewTransportError(vendor Vendor, message string) *Error {
	return &Error{Kind: ErrorKindTransport, Message: message, Vendor: vendor}
}

// NewEmptyResponseError reports a provider answer without content.
// reason is recorded as the empty reason.
func NewEmptyResponseError(vendor Vendor, reason string) *Error {
	return &Error{
		Kind:    ErrorKindProviderEmpty,
		Message: "provider returned no content (" + reason + ")",
		Vendor:  vendor,
		Reason:  reason,
	}
}

// NewInvalidRequestError reports a malformed request.
func NewInvalidRequestError(message string) *Error {
	return &Error{Kind: ErrorKindInvalidRequest, Message: message}
}
