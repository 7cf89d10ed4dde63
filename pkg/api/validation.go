package api

import (
	"fmt"
	"strings"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages    int
	MaxContentSize int // total bytes across all messages
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:    1000,
		MaxContentSize: 10 * 1024 * 1024, // 10MB
	}
}

// Validate checks the structural validity of the request against the
// default limits.
func (r *Request) Validate() *Error {
	return ValidateRequest(r, DefaultValidationConfig())
}

// ValidateRequest checks a Request for validity. It returns an *Error of
// kind INVALID_REQUEST describing the first failure, or nil if the request
// is valid.
func ValidateRequest(r *Request, cfg ValidationConfig) *Error {
	if !r.Vendor.Valid() {
		return NewInvalidRequestError(fmt.Sprintf("unknown vendor %q", r.Vendor))
	}
	if strings.TrimSpace(r.Model) == "" {
		return NewInvalidRequestError("model is required")
	}

	if len(r.Messages) == 0 {
		return NewInvalidRequestError("at least one message is required")
	}
	if cfg.MaxMessages > 0 && len(r.Messages) > cfg.MaxMessages {
		return NewInvalidRequestError(fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}
	size := 0
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return NewInvalidRequestError(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role))
		}
		size += len(m.Content)
	}
	if cfg.MaxContentSize > 0 && size > cfg.MaxContentSize {
		return NewInvalidRequestError(fmt.Sprintf("message content exceeds maximum of %d bytes", cfg.MaxContentSize))
	}

	switch r.GroundingMode {
	case "", GroundingNone, GroundingAuto, GroundingRequired:
	default:
		return NewInvalidRequestError(fmt.Sprintf("unknown grounding mode %q", r.GroundingMode))
	}
	switch r.Egress {
	case "", EgressDirect, EgressProxy:
	default:
		return NewInvalidRequestError(fmt.Sprintf("unknown egress %q", r.Egress))
	}

	if r.MaxTokens < 0 {
		return NewInvalidRequestError("max_tokens must not be negative")
	}
	if r.Timeout < 0 {
		return NewInvalidRequestError("timeout must not be negative")
	}

	if t := r.Sampling.Temperature; t != nil && (*t < 0.0 || *t > 2.0) {
		return NewInvalidRequestError("temperature must be between 0.0 and 2.0")
	}
	if p := r.Sampling.TopP; p != nil && (*p < 0.0 || *p > 1.0) {
		return NewInvalidRequestError("top_p must be between 0.0 and 1.0")
	}

	if r.Locale != nil && strings.TrimSpace(r.Locale.CountryCode) == "" {
		return NewInvalidRequestError("locale.country_code is required when locale is set")
	}
	return nil
}
