package router

import (
	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/grounding"
	"github.com/rhuss/weiche/pkg/normalize"
	"github.com/rhuss/weiche/pkg/provider"
	"github.com/rhuss/weiche/pkg/resilience"
)

// State is what the router computed during one dispatch. It is kept apart
// from the caller's CallerConfig and rendered once into telemetry.
type State struct {
	RequestID          string
	Mode               api.GroundingMode
	MaxTokensRequested int

	// VendorPath lists the vendors tried, in order.
	VendorPath     []api.Vendor
	FailoverReason string

	ALS     *api.ALSContext
	Dropped []string
	Family  provider.Family

	Outcome  *resilience.Outcome
	Decision *grounding.Decision
}

func newState(req *api.Request) *State {
	return &State{
		RequestID:          req.RequestID,
		Mode:               req.Mode(),
		MaxTokensRequested: req.MaxTokens,
	}
}

// resetAttempt clears per-attempt fields before a failover attempt.
func (s *State) resetAttempt() {
	s.ALS = nil
	s.Dropped = nil
	s.Family = ""
	s.Outcome = nil
	s.Decision = nil
}

// Metadata renders the telemetry map for resp. Stable keys are always
// present.
func (s *State) Metadata(resp *api.CanonicalResponse) api.Metadata {
	path := make([]string, len(s.VendorPath))
	for i, v := range s.VendorPath {
		path[i] = string(v)
	}

	anchored, unlinked := normalize.Counts(resp.Citations)
	m := api.Metadata{
		api.MetaRequestID:              s.RequestID,
		api.MetaGroundingMode:          string(s.Mode),
		api.MetaVendorPath:             path,
		api.MetaFailoverReason:         s.FailoverReason,
		api.MetaToolCallCount:          0,
		api.MetaAnchoredCitationsCount: anchored,
		api.MetaUnlinkedSourcesCount:   unlinked,
		api.MetaGroundedEffective:      resp.GroundedEffective,
		api.MetaWebToolType:            "",
		api.MetaALSSeedKeyID:           "",
		api.MetaALSSeedIsDefault:       false,
		api.MetaRetryAttempted:         false,
		api.MetaProvokerRetryUsed:      false,
		api.MetaCircuitBreakerStatus:   string(resilience.StateClosed),
		api.MetaMaxTokensRequested:     s.MaxTokensRequested,
	}

	if len(s.Dropped) > 0 {
		m[api.MetaDroppedKnobs] = append([]string(nil), s.Dropped...)
	}

	if a := s.ALS; a != nil {
		m[api.MetaALSSeedKeyID] = a.SeedKeyID
		m[api.MetaALSSeedIsDefault] = a.IsDefaultSeed
		m[api.MetaALSSeedIsDevelopment] = a.IsDevelopment
		m[api.MetaALSSHA256] = a.SHA256
		m[api.MetaALSProvenance] = string(a.Provenance)
		m[api.MetaALSSource] = a.Source
		m[api.MetaALSCountry] = a.CountryCode
		if a.Locale != "" {
			m[api.MetaALSLocale] = a.Locale
		}
	}

	if o := s.Outcome; o != nil {
		m[api.MetaCircuitBreakerStatus] = string(o.CircuitStatus)
		m[api.MetaEgressDowngraded] = o.EgressDowngraded
		m[api.MetaTransportRetries] = o.TransportRetries
		m[api.MetaRateLimitRetries] = o.RateLimitRetries
		m[api.MetaProvokerRetryUsed] = o.ProvokerRetryUsed
		m[api.MetaSynthesisStepUsed] = o.SynthesisStepUsed
		if o.ProvokerEmptyReason != "" {
			m[api.MetaProvokerEmptyReason] = o.ProvokerEmptyReason
		}
		if o.EmptyReason != "" {
			m[api.MetaEmptyReason] = o.EmptyReason
		}

		if raw := o.Raw; raw != nil {
			m[api.MetaRetryAttempted] = raw.RetryAttempted
			if raw.RetryReason != "" {
				m[api.MetaRetryReason] = raw.RetryReason
			}
			m[api.MetaWebToolType] = raw.WebToolType
			if raw.MaxTokensEffective > 0 {
				m[api.MetaMaxTokensEffective] = raw.MaxTokensEffective
			}
		}

		if res := o.Result; res != nil {
			m[api.MetaToolCallCount] = res.ToolCallCount
			m[api.MetaRetryAttempted] = res.RetryAttempted
			if res.RetryReason != "" {
				m[api.MetaRetryReason] = res.RetryReason
			}
			if res.WebToolType != "" {
				m[api.MetaWebToolType] = res.WebToolType
			}
			if res.FinishReason != "" {
				m[api.MetaFinishReason] = res.FinishReason
			}
			if res.ResponseAPI != "" {
				m[api.MetaResponseAPI] = res.ResponseAPI
			}
			if res.MaxTokensEffective > 0 {
				m[api.MetaMaxTokensEffective] = res.MaxTokensEffective
			}
			if res.EmptyReason != "" {
				if _, set := m[api.MetaEmptyReason]; !set {
					m[api.MetaEmptyReason] = res.EmptyReason
				}
			}
		}
	}

	if resp.Error != nil {
		m[api.MetaErrorKind] = string(resp.Error.Kind)
		if resp.Error.Kind == api.ErrorKindProviderEmpty {
			if _, set := m[api.MetaEmptyReason]; !set && resp.Error.Reason != "" {
				m[api.MetaEmptyReason] = resp.Error.Reason
			}
		}
	}
	return m
}
