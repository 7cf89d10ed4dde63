// Package router is the entry point of the gateway core. Dispatch validates a
// request against the model allow-lists, injects the ambient locale signal,
// gates caller knobs against model capabilities, runs the call through the
// resilience executor, finalizes citations, applies the grounding policy and
// fails over to a second vendor at most once.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rhuss/weiche/pkg/als"
	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
	"github.com/rhuss/weiche/pkg/grounding"
	"github.com/rhuss/weiche/pkg/normalize"
	"github.com/rhuss/weiche/pkg/provider"
	"github.com/rhuss/weiche/pkg/resilience"
)

// Recorder receives every finished dispatch, e.g. to export metrics.
type Recorder interface {
	RecordDispatch(req *api.Request, resp *api.CanonicalResponse)
}

type nopRecorder struct{}

func (nopRecorder) RecordDispatch(*api.Request, *api.CanonicalResponse) {}

// Config holds the construction-time policy of a Router.
type Config struct {
	// AllowedModels lists the permitted model ids per vendor. Google-family
	// ids are compared in canonical form. A vendor without a list accepts
	// no model.
	AllowedModels map[api.Vendor][]string

	// Failover maps a vendor to the vendor tried once when it fails with
	// PROVIDER_UNAVAILABLE or TRANSPORT_ERROR.
	Failover map[api.Vendor]api.Vendor

	// GoogleStrict selects the strict REQUIRED policy for the Google family.
	GoogleStrict bool
}

// Router dispatches canonical requests to vendor adapters.
type Router struct {
	adapters  map[api.Vendor]provider.Adapter
	allowed   map[api.Vendor]map[string]bool
	failover  map[api.Vendor]api.Vendor
	policy    grounding.Policy
	als       *als.Injector
	executor  *resilience.Executor
	citations *normalize.Citations
	recorder  Recorder
	now       func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithALS sets the ALS injector. The default injector uses the built-in
// development key only.
func WithALS(i *als.Injector) Option {
	return func(r *Router) { r.als = i }
}

// WithExecutor sets the resilience executor.
func WithExecutor(x *resilience.Executor) Option {
	return func(r *Router) { r.executor = x }
}

// WithCitations sets the citation pipeline.
func WithCitations(c *normalize.Citations) Option {
	return func(r *Router) { r.citations = c }
}

// WithRecorder sets the dispatch recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithClock overrides the clock used for latency.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router for the given adapters. Each vendor may have one
// adapter.
func New(cfg Config, adapters []provider.Adapter, opts ...Option) (*Router, error) {
	r := &Router{
		adapters: make(map[api.Vendor]provider.Adapter, len(adapters)),
		allowed:  make(map[api.Vendor]map[string]bool),
		failover: make(map[api.Vendor]api.Vendor),
		policy:   grounding.Policy{GoogleStrict: cfg.GoogleStrict},
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, a := range adapters {
		v := a.Vendor()
		if _, dup := r.adapters[v]; dup {
			return nil, fmt.Errorf("router: duplicate adapter for vendor %s", v)
		}
		r.adapters[v] = a
	}

	for v, models := range cfg.AllowedModels {
		a, ok := r.adapters[v]
		if !ok {
			return nil, fmt.Errorf("router: allow-list for vendor %s without adapter", v)
		}
		set := make(map[string]bool, len(models))
		for _, m := range models {
			set[provider.CanonicalModel(a.Family(), m)] = true
		}
		r.allowed[v] = set
	}

	for from, to := range cfg.Failover {
		if from == to {
			return nil, fmt.Errorf("router: vendor %s cannot fail over to itself", from)
		}
		if _, ok := r.adapters[to]; !ok {
			return nil, fmt.Errorf("router: failover target %s has no adapter", to)
		}
		r.failover[from] = to
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.als == nil {
		r.als = als.New(als.Config{})
	}
	if r.executor == nil {
		r.executor = resilience.NewExecutor(nil, nil, resilience.ExecutorConfig{})
	}
	if r.citations == nil {
		r.citations = normalize.NewCitations(nil, nil)
	}
	return r, nil
}

// Dispatch executes req. The returned response is never nil: on failure it
// has Success=false, empty Content and Error set, and the same *api.Error
// is returned as error. The caller's request is not modified.
func (r *Router) Dispatch(ctx context.Context, req api.Request) (*api.CanonicalResponse, error) {
	start := r.now()
	req = req.Clone()
	if req.RequestID == "" {
		req.RequestID = api.NewRequestID()
	}

	st := newState(&req)
	resp := r.dispatch(ctx, req, st, true)

	resp.RequestID = req.RequestID
	resp.Latency = api.Duration(r.now().Sub(start))
	resp.Metadata = st.Metadata(resp)
	r.recorder.RecordDispatch(&req, resp)

	if resp.Error != nil {
		slog.Info("dispatch failed",
			"request_id", req.RequestID, "vendor", resp.Vendor, "kind", resp.Error.Kind,
			"latency", resp.Latency.Std())
		return resp, resp.Error
	}
	debug.Log("router", "dispatch complete",
		"request_id", req.RequestID, "vendor", resp.Vendor, "model_version", resp.ModelVersion,
		"grounded_effective", resp.GroundedEffective, "citations", len(resp.Citations),
		"latency", resp.Latency.Std())
	return resp, nil
}

// dispatch runs one vendor attempt and, if allowed, the single failover.
func (r *Router) dispatch(ctx context.Context, req api.Request, st *State, mayFailover bool) *api.CanonicalResponse {
	st.VendorPath = append(st.VendorPath, req.Vendor)

	resp, failoverable := r.attempt(ctx, req, st)
	if resp.Error == nil || !mayFailover || !failoverable || !qualifiesForFailover(resp.Error.Kind) {
		return resp
	}

	target, ok := r.failover[req.Vendor]
	if !ok {
		return resp
	}
	if ctx.Err() != nil {
		return resp
	}

	st.FailoverReason = failoverReason(resp.Error)
	slog.Warn("failing over to secondary vendor",
		"request_id", req.RequestID, "from", req.Vendor, "to", target,
		"reason", st.FailoverReason)

	next := req.Clone()
	next.Vendor = target
	next.Model = r.renormalizeModel(req.Vendor, target, req.Model)
	st.resetAttempt()
	return r.dispatch(ctx, next, st, false)
}

// attempt runs the full pipeline against req.Vendor. The second result
// reports whether the failure happened at the provider, as opposed to a
// policy or validation failure.
func (r *Router) attempt(ctx context.Context, req api.Request, st *State) (*api.CanonicalResponse, bool) {
	resp := &api.CanonicalResponse{Vendor: req.Vendor}
	fail := func(e *api.Error) *api.CanonicalResponse {
		if e.Vendor == "" && e.Kind != api.ErrorKindInvalidRequest {
			e.Vendor = req.Vendor
		}
		resp.Success = false
		resp.Content = ""
		resp.Error = e
		return resp
	}

	if e := req.Validate(); e != nil {
		return fail(e), false
	}

	adapter, ok := r.adapters[req.Vendor]
	if !ok {
		return fail(api.NewInvalidRequestError(fmt.Sprintf("vendor %s is not configured", req.Vendor))), false
	}
	if !r.allowed[req.Vendor][provider.CanonicalModel(adapter.Family(), req.Model)] {
		return fail(api.NewModelNotAllowedError(req.Vendor, req.Model)), false
	}

	caps := adapter.Capabilities(req.Model)
	if req.WantsGrounding() && !caps.Grounding {
		return fail(api.NewGroundingNotSupportedError(req.Vendor, req.Model)), false
	}

	applied, alsCtx, err := r.als.Apply(req)
	if err != nil {
		return fail(asError(err, req.Vendor)), false
	}
	st.ALS = alsCtx

	eff := provider.Gate(caps, &applied)
	st.Dropped = eff.Dropped
	if len(eff.Dropped) > 0 {
		debug.Log("router", "dropped unsupported knobs",
			"request_id", req.RequestID, "vendor", req.Vendor, "model", req.Model, "knobs", eff.Dropped)
	}

	out, err := r.executor.Execute(ctx, adapter, &applied, eff)
	st.Outcome = out
	st.Family = adapter.Family()

	if res := out.Result; res != nil {
		resp.ModelVersion = res.ModelVersion
		resp.Usage = res.Usage
		resp.Citations = r.citations.Finalize(ctx, res.Citations)

		anchored, unlinked := normalize.Counts(resp.Citations)
		decision := r.policy.Evaluate(req.Mode(), grounding.Evidence{
			Family:    adapter.Family(),
			ToolCalls: res.ToolCallCount,
			Anchored:  anchored,
			Unlinked:  unlinked,
		})
		st.Decision = &decision
		resp.GroundedEffective = decision.GroundedEffective

		if !decision.Pass {
			slog.Info("grounding requirement not met",
				"request_id", req.RequestID, "vendor", req.Vendor, "reason", decision.Reason)
			return fail(decision.Err(req.Vendor)), false
		}
	}

	if err != nil {
		return fail(asError(err, req.Vendor)), true
	}

	resp.Content = out.Result.Content
	resp.Success = true
	return resp, false
}

// renormalizeModel maps a model id to the form expected by the failover
// target. Ids are reduced to their canonical form when the families match.
func (r *Router) renormalizeModel(from, to api.Vendor, model string) string {
	src, dst := r.adapters[from], r.adapters[to]
	if src == nil || dst == nil || src.Family() != dst.Family() {
		return model
	}
	return provider.CanonicalModel(src.Family(), model)
}

// Vendors returns the configured vendors in stable order.
func (r *Router) Vendors() []api.Vendor {
	out := make([]api.Vendor, 0, len(r.adapters))
	for v := range r.adapters {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Breaker returns the circuit breaker shared by the router's executor.
func (r *Router) Breaker() *resilience.Breaker {
	return r.executor.Breaker()
}

func qualifiesForFailover(kind api.ErrorKind) bool {
	return kind == api.ErrorKindProviderUnavailable || kind == api.ErrorKindTransport
}

func failoverReason(e *api.Error) string {
	if e.Reason != "" {
		return string(e.Kind) + ":" + e.Reason
	}
	return string(e.Kind)
}

// asError converts any error into a typed error.
func asError(err error, vendor api.Vendor) *api.Error {
	if e, ok := api.AsError(err); ok {
		return e
	}
	e := api.NewError(api.ErrorKindProviderEmpty, err.Error()).WithVendor(vendor).WithCause(err)
	e.Reason = "normalize_failed"
	return e
}
