package api

import "sort"

// Metadata is the free-form telemetry map attached to every response.
// Keys listed below are stable and consumed by external exporters.
type Metadata map[string]any

// Stable telemetry keys.
const (
	MetaToolCallCount          = "tool_call_count"
	MetaAnchoredCitationsCount = "anchored_citations_count"
	MetaUnlinkedSourcesCount   = "unlinked_sources_count"
	MetaGroundedEffective      = "grounded_effective"
	MetaWebToolType            = "web_tool_type"
	MetaVendorPath             = "vendor_path"
	MetaFailoverReason         = "failover_reason"
	MetaALSSeedKeyID           = "als_seed_key_id"
	MetaALSSeedIsDefault       = "als_seed_is_default"
	MetaRetryAttempted         = "retry_attempted"
	MetaProvokerRetryUsed      = "provoker_retry_used"
	MetaCircuitBreakerStatus   = "circuit_breaker_status"
)

// Additional telemetry keys.
const (
	MetaRetryReason          = "retry_reason"
	MetaSynthesisStepUsed    = "synthesis_step_used"
	MetaEmptyReason          = "empty_reason"
	MetaProvokerEmptyReason  = "provoker_empty_reason"
	MetaDroppedKnobs         = "dropped_knobs"
	MetaALSSHA256            = "als_sha256"
	MetaALSProvenance        = "als_provenance"
	MetaALSSource            = "als_source"
	MetaALSSeedIsDevelopment = "als_seed_is_development"
	MetaALSCountry           = "als_country"
	MetaALSLocale            = "als_locale"
	MetaEgressDowngraded     = "egress_downgraded"
	MetaRateLimitRetries     = "rate_limit_retries"
	MetaTransportRetries     = "transport_retries"
	MetaFinishReason         = "finish_reason"
	MetaResponseAPI          = "response_api"
	MetaRequestID            = "request_id"
	MetaMaxTokensRequested   = "max_tokens_requested"
	MetaMaxTokensEffective   = "max_tokens_effective"
	MetaGroundingMode        = "grounding_mode"
	MetaErrorKind            = "error_kind"
)

// Int returns the integer value stored under key, or 0.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns the boolean value stored under key, or false.
func (m Metadata) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// String returns the string value stored under key, or "".
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
