package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter checks whether a request should be allowed based on
// the identity's service tier.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// DefaultTier is the tier of identities that carry none.
const DefaultTier = "default"

// Tier returns the identity's service tier, or DefaultTier.
func (id *Identity) Tier() string {
	if id == nil || id.ServiceTier == "" {
		return DefaultTier
	}
	return id.ServiceTier
}

// InProcessLimiter keeps one token bucket per subject and tier in memory.
// Each bucket refills at the tier's requests-per-minute and holds up to one
// minute of burst.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewInProcessLimiter creates a rate limiter with per-tier configuration.
// A tier without configuration uses defaultRPM; zero means unlimited.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		buckets:    make(map[string]*rate.Limiter),
	}
}

// LimitError reports a rejected request and when the caller's bucket will
// next hold a token. It matches ErrTooManyRequests under errors.Is.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string { return ErrTooManyRequests.Error() }

func (e *LimitError) Is(target error) bool { return target == ErrTooManyRequests }

// Allow takes one token from the caller's bucket or returns a *LimitError.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	b := l.bucket(identity)
	if b == nil {
		return nil
	}

	now := time.Now()
	res := b.ReserveN(now, 1)
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return &LimitError{RetryAfter: wait}
	}
	return nil
}

// bucket returns the token bucket for identity, or nil when its tier is
// unlimited.
func (l *InProcessLimiter) bucket(identity *Identity) *rate.Limiter {
	tier := identity.Tier()
	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + "/" + tier
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
		l.buckets[key] = b
	}
	return b
}
