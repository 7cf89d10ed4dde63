package observability

import (
	"strconv"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/resilience"
)

// Recorder exports finished dispatches and breaker transitions as
// Prometheus metrics. It implements router.Recorder.
type Recorder struct{}

// NewRecorder creates a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordDispatch records one finished dispatch from its response and
// telemetry map.
func (*Recorder) RecordDispatch(req *api.Request, resp *api.CanonicalResponse) {
	vendor := string(resp.Vendor)
	model := req.Model
	md := resp.Metadata

	outcome := "success"
	if resp.Error != nil {
		outcome = string(resp.Error.Kind)
	}
	DispatchTotal.WithLabelValues(vendor, model, outcome).Inc()
	DispatchDuration.WithLabelValues(vendor, model).Observe(resp.Latency.Std().Seconds())

	u := resp.Usage
	ProviderTokensTotal.WithLabelValues(vendor, model, "input").Add(float64(u.InputTokens))
	ProviderTokensTotal.WithLabelValues(vendor, model, "output").Add(float64(u.OutputTokens))
	if u.ReasoningTokens > 0 {
		ProviderTokensTotal.WithLabelValues(vendor, model, "reasoning").Add(float64(u.ReasoningTokens))
	}

	if mode := req.Mode(); mode != api.GroundingNone {
		GroundingTotal.WithLabelValues(vendor, string(mode), strconv.FormatBool(resp.GroundedEffective)).Inc()
	}
	if n := md.Int(api.MetaAnchoredCitationsCount); n > 0 {
		CitationsTotal.WithLabelValues(vendor, string(api.CitationAnchored)).Add(float64(n))
	}
	if n := md.Int(api.MetaUnlinkedSourcesCount); n > 0 {
		CitationsTotal.WithLabelValues(vendor, string(api.CitationUnlinked)).Add(float64(n))
	}

	if path, ok := md[api.MetaVendorPath].([]string); ok && len(path) > 1 {
		FailoverTotal.WithLabelValues(path[0], path[len(path)-1]).Inc()
	}

	if n := md.Int(api.MetaTransportRetries); n > 0 {
		RetriesTotal.WithLabelValues(vendor, "transport").Add(float64(n))
	}
	if md.Bool(api.MetaRetryAttempted) {
		RetriesTotal.WithLabelValues(vendor, "empty_output").Inc()
	}
	if md.Bool(api.MetaProvokerRetryUsed) {
		RetriesTotal.WithLabelValues(vendor, "provoker").Inc()
	}
	if md.Bool(api.MetaSynthesisStepUsed) {
		RetriesTotal.WithLabelValues(vendor, "synthesis").Inc()
	}
	if n := md.Int(api.MetaRateLimitRetries); n > 0 {
		RateLimitBackoffsTotal.WithLabelValues(vendor).Add(float64(n))
	}

	if dropped, ok := md[api.MetaDroppedKnobs].([]string); ok {
		for _, k := range dropped {
			DroppedKnobsTotal.WithLabelValues(vendor, k).Inc()
		}
	}
}

// BreakerStateChange matches the resilience.WithStateChange callback.
func (*Recorder) BreakerStateChange(vendor api.Vendor, _, to resilience.State) {
	CircuitState.WithLabelValues(string(vendor)).Set(stateValue(to))
	CircuitTransitionsTotal.WithLabelValues(string(vendor), string(to)).Inc()
}

func stateValue(s resilience.State) float64 {
	switch s {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	}
	return 0
}
