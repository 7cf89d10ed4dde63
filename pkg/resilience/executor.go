package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
	"github.com/rhuss/weiche/pkg/provider"
)

// DefaultProvokerPrompt asks for the final answer after a grounded call
// returned tool activity but no text.
const DefaultProvokerPrompt = "You have already searched. Using the results you found, write the final answer now as plain prose. Do not call any tools."

// provokerEffective returns eff with forced tool use removed. The search
// tool stays available.
func provokerEffective(eff provider.Effective) provider.Effective {
	if eff.Mode == api.GroundingRequired {
		eff.Mode = api.GroundingAuto
	}
	if eff.Config.ToolChoice == "required" {
		eff.Config.ToolChoice = ""
	}
	return eff
}

// DefaultSynthesisPrompt introduces the evidence block of the synthesis pass.
const DefaultSynthesisPrompt = "Answer the question above in prose using only the sources listed below. Do not search."

// ExecutorConfig configures retry escalation.
type ExecutorConfig struct {
	// TransportRetries bounds local retries of TRANSPORT_ERROR and TIMEOUT.
	// Zero means the default of 1; negative disables them.
	TransportRetries int `yaml:"transport_retries"`

	// TransportBackoff is the delay before a transport retry.
	TransportBackoff time.Duration `yaml:"transport_backoff"`

	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// DisableProvoker turns off the provoker retry.
	DisableProvoker bool `yaml:"disable_provoker"`

	// DisableSynthesis turns off the synthesis pass for every request.
	DisableSynthesis bool `yaml:"disable_synthesis"`

	ProvokerPrompt  string `yaml:"provoker_prompt"`
	SynthesisPrompt string `yaml:"synthesis_prompt"`
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	switch {
	case c.TransportRetries == 0:
		c.TransportRetries = 1
	case c.TransportRetries < 0:
		c.TransportRetries = 0
	}
	if c.TransportBackoff <= 0 {
		c.TransportBackoff = 250 * time.Millisecond
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 60 * time.Second
	}
	if c.ProvokerPrompt == "" {
		c.ProvokerPrompt = DefaultProvokerPrompt
	}
	if c.SynthesisPrompt == "" {
		c.SynthesisPrompt = DefaultSynthesisPrompt
	}
	return c
}

// Outcome is everything a dispatch learned from the executor, whether or
// not it succeeded. Result is set whenever a payload was normalized, even
// when the final error reports an empty answer.
type Outcome struct {
	Result *provider.Result

	// Raw is the last payload received, also when normalizing it failed.
	Raw *provider.RawPayload

	// CircuitStatus is the breaker state seen when the attempt started.
	CircuitStatus    State
	Egress           api.Egress
	EgressDowngraded bool

	TransportRetries int
	RateLimitRetries int

	ProvokerRetryUsed   bool
	ProvokerEmptyReason string
	SynthesisStepUsed   bool

	// EmptyReason is the reason of the first empty result of the dispatch;
	// ProvokerEmptyReason that of an empty provoker retry.
	EmptyReason string
}

// Executor runs adapter calls under the breaker and the governor and owns
// every retry: transport retries, rate-limit backoff, the provoker retry
// and the synthesis pass.
type Executor struct {
	breaker  *Breaker
	governor *Governor
	cfg      ExecutorConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSleep overrides how the executor waits between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(x *Executor) { x.sleep = fn }
}

// NewExecutor creates an Executor. breaker and governor may be shared by
// several executors.
func NewExecutor(breaker *Breaker, governor *Governor, cfg ExecutorConfig, opts ...ExecutorOption) *Executor {
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{})
	}
	if governor == nil {
		governor = NewGovernor(nil)
	}
	x := &Executor{
		breaker:  breaker,
		governor: governor,
		cfg:      cfg.withDefaults(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Breaker returns the executor's breaker.
func (x *Executor) Breaker() *Breaker { return x.breaker }

// Execute performs the call for req on adapter with the gated view eff.
// The returned Outcome is never nil.
func (x *Executor) Execute(ctx context.Context, adapter provider.Adapter, req *api.Request, eff provider.Effective) (*Outcome, error) {
	vendor := adapter.Vendor()
	out := &Outcome{Egress: eff.Egress}

	out.CircuitStatus = x.breaker.Check(vendor)
	if out.CircuitStatus == StateOpen && eff.Egress == api.EgressProxy {
		eff.Egress = api.EgressDirect
		out.Egress = api.EgressDirect
		out.EgressDowngraded = true
		slog.Warn("circuit open, downgrading proxy egress to direct",
			"vendor", vendor, "kind", api.ErrorKindCircuitOpenDowngraded, "request_id", req.RequestID)
	}

	res, err := x.call(ctx, adapter, req, eff, out)
	if err != nil {
		return out, err
	}
	out.Result = res

	grounded := eff.Mode != api.GroundingNone
	if res.Content != "" || !grounded {
		return x.finish(vendor, out)
	}

	// Grounded, empty, but tools were used: nudge for the final answer.
	if res.ToolCallCount > 0 && !x.cfg.DisableProvoker {
		out.ProvokerRetryUsed = true
		out.EmptyReason = res.EmptyReason
		debug.Log("resilience", "provoker retry", "vendor", vendor, "empty_reason", res.EmptyReason)

		nudged := req.Clone()
		nudged.Messages = append(nudged.Messages, api.Message{Role: api.RoleUser, Content: x.cfg.ProvokerPrompt})
		second, err := x.call(ctx, adapter, &nudged, provokerEffective(eff), out)
		if err != nil {
			return out, err
		}
		if second.Content == "" {
			out.ProvokerEmptyReason = second.EmptyReason
		}
		out.Result = merge(res, second)
		res = out.Result
		if res.Content != "" {
			return x.finish(vendor, out)
		}
	}

	if x.cfg.DisableSynthesis || req.Config.DisableSynthesis || (res.ToolCallCount == 0 && len(res.Citations) == 0) {
		return x.finish(vendor, out)
	}

	out.SynthesisStepUsed = true
	debug.Log("resilience", "synthesis pass", "vendor", vendor, "citations", len(res.Citations))

	synth := req.Clone()
	synth.Messages = append(synth.Messages, api.Message{Role: api.RoleUser, Content: x.evidencePrompt(res)})
	synthEff := eff
	synthEff.Mode = api.GroundingNone

	third, err := x.call(ctx, adapter, &synth, synthEff, out)
	if err != nil {
		return out, err
	}
	final := merge(res, third)
	if third.Content != "" {
		final.EmptyReason = ""
	}
	out.Result = final
	return x.finish(vendor, out)
}

// finish turns an empty final result into PROVIDER_EMPTY_RESPONSE.
func (x *Executor) finish(vendor api.Vendor, out *Outcome) (*Outcome, error) {
	res := out.Result
	if res.Content != "" {
		return out, nil
	}
	reason := res.EmptyReason
	if reason == "" {
		reason = "empty_text"
		res.EmptyReason = reason
	}
	if out.EmptyReason == "" {
		out.EmptyReason = reason
	}
	return out, api.NewEmptyResponseError(vendor, reason)
}

// call runs one logical attempt with transport retries and rate-limit
// backoff.
func (x *Executor) call(ctx context.Context, adapter provider.Adapter, req *api.Request, eff provider.Effective, out *Outcome) (*provider.Result, error) {
	vendor := adapter.Vendor()
	transportLeft := x.cfg.TransportRetries
	rateAttempts := 0

	for {
		res, raw, err := x.once(ctx, adapter, req, eff)
		if raw != nil {
			out.Raw = raw
		}
		if err == nil {
			return res, nil
		}

		e, _ := api.AsError(err)
		switch {
		case e != nil && e.Kind == api.ErrorKindRateLimited:
			rateAttempts++
			if rateAttempts >= x.governor.MaxAttempts(vendor) {
				return nil, api.NewRateLimitedError(vendor,
					fmt.Sprintf("rate limited after %d attempts", rateAttempts)).WithCause(err)
			}
			d := x.governor.Backoff(vendor, rateAttempts, e.RetryAfter)
			out.RateLimitRetries++
			slog.Info("rate limited, backing off", "vendor", vendor, "attempt", rateAttempts, "delay", d)
			if err := x.sleep(ctx, d); err != nil {
				return nil, waitError(vendor, err)
			}

		case e != nil && e.Kind.IsTransport() && e.Reason != "canceled" && transportLeft > 0 && ctx.Err() == nil:
			transportLeft--
			out.TransportRetries++
			slog.Info("transport failure, retrying", "vendor", vendor, "kind", e.Kind, "reason", e.Reason)
			if err := x.sleep(ctx, x.cfg.TransportBackoff); err != nil {
				return nil, waitError(vendor, err)
			}

		default:
			return nil, err
		}
	}
}

// once performs a single admitted adapter call and normalization.
func (x *Executor) once(ctx context.Context, adapter provider.Adapter, req *api.Request, eff provider.Effective) (*provider.Result, *provider.RawPayload, error) {
	vendor := adapter.Vendor()

	release, err := x.governor.Acquire(ctx, vendor, x.governor.Estimate(vendor, req))
	if err != nil {
		return nil, nil, err
	}

	timeout := req.Timeout.Std()
	if timeout <= 0 {
		timeout = x.cfg.DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := adapter.Call(cctx, req, eff)
	if err != nil {
		release(api.Usage{})
		err = deadlineError(cctx, vendor, err)
		x.breaker.Record(vendor, err)
		return nil, nil, err
	}
	x.breaker.Record(vendor, nil)

	res, err := adapter.Normalize(raw)
	if res != nil {
		release(res.Usage)
	} else {
		release(api.Usage{})
	}
	if err != nil {
		return nil, raw, err
	}
	return res, raw, nil
}

// deadlineError makes sure a call that ran into its own deadline surfaces
// as TIMEOUT, whatever the adapter reported.
func deadlineError(cctx context.Context, vendor api.Vendor, err error) error {
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && api.KindOf(err) != api.ErrorKindTimeout {
		return api.NewTimeoutError(vendor, "provider call exceeded its deadline").WithCause(err)
	}
	return err
}

// evidencePrompt renders the gathered sources for the synthesis pass.
func (x *Executor) evidencePrompt(res *provider.Result) string {
	var b strings.Builder
	b.WriteString(x.cfg.SynthesisPrompt)
	b.WriteString("\n\nSources:\n")
	n := 0
	for _, c := range res.Citations {
		n++
		fmt.Fprintf(&b, "%d. %s", n, c.URL)
		if c.Title != "" {
			fmt.Fprintf(&b, " (%s)", c.Title)
		}
		if c.Snippet != "" {
			fmt.Fprintf(&b, ": %s", c.Snippet)
		}
		b.WriteByte('\n')
	}
	for _, it := range res.Items {
		if it.Kind == provider.ItemToolCall && it.Query != "" {
			fmt.Fprintf(&b, "Searched: %s\n", it.Query)
		}
	}
	return b.String()
}

// merge combines an earlier grounded result with a follow-up. Content and
// finish state come from next; evidence and usage are accumulated.
func merge(prev, next *provider.Result) *provider.Result {
	out := *next
	out.Items = append(append([]provider.Item(nil), prev.Items...), next.Items...)
	out.Citations = append(append([]api.Citation(nil), prev.Citations...), next.Citations...)
	out.ToolCallCount = prev.ToolCallCount + next.ToolCallCount
	out.Usage = prev.Usage
	out.Usage.Add(next.Usage)
	if out.WebToolType == "" {
		out.WebToolType = prev.WebToolType
	}
	out.RetryAttempted = prev.RetryAttempted || next.RetryAttempted
	if out.RetryReason == "" {
		out.RetryReason = prev.RetryReason
	}
	return &out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
