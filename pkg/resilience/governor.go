package resilience

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
)

// GovernorConfig is the rate budget of one vendor. Zero limits disable the
// corresponding control.
type GovernorConfig struct {
	// MaxInFlight bounds simultaneous calls.
	MaxInFlight int `yaml:"max_in_flight"`

	// Stagger is the minimum interval between call launches.
	Stagger time.Duration `yaml:"stagger"`

	// TokensPerMinute is the provider's hard token ceiling.
	TokensPerMinute int `yaml:"tokens_per_minute"`

	// Headroom is the fraction of TokensPerMinute kept unused.
	Headroom float64 `yaml:"headroom"`

	// EstimatedTokens is the minimum token estimate charged per call
	// before the actual usage is known.
	EstimatedTokens int `yaml:"estimated_tokens"`

	// MaxAttempts bounds the attempts on rate limiting, first included.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase and BackoffMax bound the exponential backoff.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// Jitter is the +/- fraction applied to each backoff.
	Jitter float64 `yaml:"jitter"`
}

func (c GovernorConfig) withDefaults() GovernorConfig {
	if c.Headroom <= 0 || c.Headroom >= 1 {
		c.Headroom = 0.1
	}
	if c.EstimatedTokens <= 0 {
		c.EstimatedTokens = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	return c
}

// budget is the live rate state of one vendor.
type budget struct {
	cfg     GovernorConfig
	sem     *semaphore.Weighted
	stagger *rate.Limiter
	tpm     *rate.Limiter
}

// Governor admits calls per vendor: in-flight cap, launch stagger and a
// tokens-per-minute bucket reduced by headroom. It also computes 429
// backoff delays. Budgets are created on first use.
type Governor struct {
	mu      sync.Mutex
	configs map[api.Vendor]GovernorConfig
	budgets map[api.Vendor]*budget
	jitter  func() float64
	now     func() time.Time
}

// GovernorOption configures a Governor.
type GovernorOption func(*Governor)

// WithJitterSource overrides the random source used for backoff jitter.
// fn returns values in [0, 1).
func WithJitterSource(fn func() float64) GovernorOption {
	return func(g *Governor) { g.jitter = fn }
}

// WithGovernorClock overrides the clock used for token accounting.
func WithGovernorClock(now func() time.Time) GovernorOption {
	return func(g *Governor) { g.now = now }
}

// NewGovernor creates a Governor. Vendors absent from configs get no
// admission limits and the default backoff.
func NewGovernor(configs map[api.Vendor]GovernorConfig, opts ...GovernorOption) *Governor {
	g := &Governor{
		configs: make(map[api.Vendor]GovernorConfig, len(configs)),
		budgets: make(map[api.Vendor]*budget),
		jitter:  newJitter(),
		now:     time.Now,
	}
	for v, c := range configs {
		g.configs[v] = c
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newJitter() func() float64 {
	var b [16]byte
	_, _ = crand.Read(b[:])
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])))
	var mu sync.Mutex
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64()
	}
}

func (g *Governor) budget(vendor api.Vendor) *budget {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b := g.budgets[vendor]; b != nil {
		return b
	}
	cfg := g.configs[vendor].withDefaults()
	b := &budget{cfg: cfg}
	if cfg.MaxInFlight > 0 {
		b.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	if cfg.Stagger > 0 {
		b.stagger = rate.NewLimiter(rate.Every(cfg.Stagger), 1)
	}
	if cfg.TokensPerMinute > 0 {
		usable := int(float64(cfg.TokensPerMinute) * (1 - cfg.Headroom))
		if usable < 1 {
			usable = 1
		}
		b.tpm = rate.NewLimiter(rate.Limit(float64(usable)/60), usable)
	}
	g.budgets[vendor] = b
	return b
}

// Estimate returns the tokens charged at admission for req: prompt
// characters / 4 plus the requested output budget, at least the
// configured estimate.
func (g *Governor) Estimate(vendor api.Vendor, req *api.Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	est := chars/4 + req.MaxTokens
	return max(est, g.budget(vendor).cfg.EstimatedTokens)
}

// Release returns an admission slot and charges the difference between
// actual and estimated usage to the token bucket.
type Release func(actual api.Usage)

// Acquire waits for admission. The returned Release must be called exactly
// once when the call finished.
func (g *Governor) Acquire(ctx context.Context, vendor api.Vendor, estimate int) (Release, error) {
	b := g.budget(vendor)

	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return nil, waitError(vendor, err)
		}
	}
	fail := func(err error) (Release, error) {
		if b.sem != nil {
			b.sem.Release(1)
		}
		return nil, waitError(vendor, err)
	}

	if b.stagger != nil {
		if err := b.stagger.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	charged := 0
	if b.tpm != nil {
		charged = min(estimate, b.tpm.Burst())
		if err := b.tpm.WaitN(ctx, charged); err != nil {
			return fail(err)
		}
	}

	debug.Log("resilience", "admitted", "vendor", vendor, "estimate", estimate, "charged", charged)

	var once sync.Once
	return func(actual api.Usage) {
		once.Do(func() {
			if b.sem != nil {
				b.sem.Release(1)
			}
			if b.tpm != nil && actual.TotalTokens > charged {
				// Over-use is charged now; the bucket goes into debt and
				// delays the next admissions.
				b.tpm.ReserveN(g.now(), min(actual.TotalTokens-charged, b.tpm.Burst()))
			}
		})
	}, nil
}

// MaxAttempts returns the rate-limit attempt bound for vendor.
func (g *Governor) MaxAttempts(vendor api.Vendor) int {
	return g.budget(vendor).cfg.MaxAttempts
}

// Backoff returns the delay before rate-limit retry number attempt
// (1-based): base * 2^(attempt-1), capped, with +/- jitter. A provider
// Retry-After larger than the computed delay wins, capped at the maximum.
func (g *Governor) Backoff(vendor api.Vendor, attempt int, retryAfter time.Duration) time.Duration {
	cfg := g.budget(vendor).cfg
	if attempt < 1 {
		attempt = 1
	}

	d := cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		if d >= cfg.BackoffMax/2 {
			d = cfg.BackoffMax
			break
		}
		d *= 2
	}
	d = min(d, cfg.BackoffMax)

	if cfg.Jitter > 0 {
		f := 1 + (g.jitter()*2-1)*cfg.Jitter
		d = time.Duration(float64(d) * f)
	}
	if retryAfter > d {
		d = min(retryAfter, cfg.BackoffMax)
	}
	return d
}

// waitError maps an admission wait failure to a typed error.
func waitError(vendor api.Vendor, err error) error {
	if errors.Is(err, context.Canceled) {
		e := api.NewTransportError(vendor, "canceled while waiting for admission").WithCause(err)
		e.Reason = "canceled"
		return e
	}
	// Deadline exceeded, or a limiter wait that cannot finish before it.
	return api.NewTimeoutError(vendor, "deadline reached while waiting for rate budget").WithCause(err)
}
