// Package resilience holds the shared per-vendor state of the gateway (circuit
// breaker and rate governor) and the executor that owns every retry a
// dispatch may perform.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
)

// State is a circuit state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig configures the per-vendor circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of transport-class failures inside Window
	// that opens the circuit.
	Threshold int `yaml:"failure_threshold"`

	// Window is the sliding window failures are counted in.
	Window time.Duration `yaml:"window_size"`

	// Recovery is how long the circuit stays open before it turns half-open.
	Recovery time.Duration `yaml:"recovery_timeout"`
}

// DefaultBreakerConfig returns threshold 3, window 300s, recovery 600s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 3, Window: 300 * time.Second, Recovery: 600 * time.Second}
}

// circuit is the state of one vendor.
type circuit struct {
	state     State
	failures  []time.Time
	openUntil time.Time
}

// Breaker tracks one circuit per vendor. Circuits are created lazily on the
// first failure. While a circuit is open, calls are not blocked: the
// executor downgrades proxy egress to direct instead.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	now      func() time.Time
	circuits map[api.Vendor]*circuit
	onChange func(vendor api.Vendor, from, to State)
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the clock.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a callback invoked on every transition. The
// callback runs with the breaker lock held and must not call back into it.
func WithStateChange(fn func(vendor api.Vendor, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a Breaker. Zero config fields take the defaults.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Recovery <= 0 {
		cfg.Recovery = def.Recovery
	}
	b := &Breaker{
		cfg:      cfg,
		now:      time.Now,
		circuits: make(map[api.Vendor]*circuit),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Check returns the vendor's state for the attempt about to start. An open
// circuit whose recovery timeout has elapsed moves to half_open. Half-open
// does not single out a trial call: every caller sees half_open and keeps its
// egress, and the first outcome recorded closes or reopens the circuit.
func (b *Breaker) Check(vendor api.Vendor) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[vendor]
	if c == nil {
		return StateClosed
	}
	if c.state == StateOpen && !b.now().Before(c.openUntil) {
		b.transition(vendor, c, StateHalfOpen)
	}
	return c.state
}

// State returns the vendor's state without causing transitions.
func (b *Breaker) State(vendor api.Vendor) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c := b.circuits[vendor]; c != nil {
		return c.state
	}
	return StateClosed
}

// Record reports the outcome of an attempt. Only transport-class errors
// (TRANSPORT_ERROR, TIMEOUT) count as failures; other errors leave the
// circuit untouched. Cancellation by the caller is ignored.
func (b *Breaker) Record(vendor api.Vendor, err error) {
	if err != nil && !Counts(err) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[vendor]
	if err == nil {
		if c != nil && c.state == StateHalfOpen {
			b.transition(vendor, c, StateClosed)
			c.failures = nil
		}
		return
	}

	if c == nil {
		c = &circuit{state: StateClosed}
		b.circuits[vendor] = c
	}
	now := b.now()

	if c.state == StateHalfOpen {
		c.openUntil = now.Add(b.cfg.Recovery)
		b.transition(vendor, c, StateOpen)
		return
	}

	c.failures = append(c.failures, now)
	cutoff := now.Add(-b.cfg.Window)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = kept

	if c.state == StateClosed && len(c.failures) >= b.cfg.Threshold {
		c.openUntil = now.Add(b.cfg.Recovery)
		b.transition(vendor, c, StateOpen)
	}
}

// Snapshot returns the state of every known circuit.
func (b *Breaker) Snapshot() map[api.Vendor]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[api.Vendor]State, len(b.circuits))
	for v, c := range b.circuits {
		out[v] = c.state
	}
	return out
}

func (b *Breaker) transition(vendor api.Vendor, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	switch to {
	case StateOpen:
		slog.Warn("circuit opened", "vendor", vendor, "failures", len(c.failures), "open_until", c.openUntil)
	default:
		debug.Log("resilience", "circuit transition", "vendor", vendor, "from", from, "to", to)
	}
	if b.onChange != nil {
		b.onChange(vendor, from, to)
	}
}

// Counts reports whether err counts toward the circuit threshold.
func Counts(err error) bool {
	e, ok := api.AsError(err)
	if !ok {
		return false
	}
	return e.Kind.IsTransport() && e.Reason != "canceled"
}
