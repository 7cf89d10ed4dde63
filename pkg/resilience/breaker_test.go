package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhuss/weiche/pkg/api"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)} }

func proxyFailure() error {
	e := api.NewTransportError(api.VendorOpenAI, "proxy CONNECT failed")
	e.Reason = "proxy"
	return e
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	clock := newClock()
	var transitions []string
	b := NewBreaker(DefaultBreakerConfig(),
		WithBreakerClock(clock.now),
		WithStateChange(func(_ api.Vendor, from, to State) {
			transitions = append(transitions, string(from)+">"+string(to))
		}))
	v := api.VendorOpenAI

	for range 2 {
		b.Record(v, proxyFailure())
		clock.advance(10 * time.Second)
	}
	require.Equal(t, StateClosed, b.Check(v))

	b.Record(v, proxyFailure())
	require.Equal(t, StateOpen, b.Check(v))

	clock.advance(599 * time.Second)
	require.Equal(t, StateOpen, b.Check(v))

	clock.advance(time.Second)
	require.Equal(t, StateHalfOpen, b.Check(v))

	b.Record(v, nil)
	require.Equal(t, StateClosed, b.Check(v))
	require.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, transitions)

	// History was cleared: two new failures do not reopen.
	b.Record(v, proxyFailure())
	b.Record(v, proxyFailure())
	require.Equal(t, StateClosed, b.State(v))
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newClock()
	b := NewBreaker(DefaultBreakerConfig(), WithBreakerClock(clock.now))
	v := api.VendorOpenAI

	for range 3 {
		b.Record(v, proxyFailure())
	}
	clock.advance(600 * time.Second)
	require.Equal(t, StateHalfOpen, b.Check(v))

	b.Record(v, proxyFailure())
	require.Equal(t, StateOpen, b.Check(v))

	clock.advance(599 * time.Second)
	require.Equal(t, StateOpen, b.Check(v), "reopen starts a fresh recovery timeout")
}

func TestBreakerHalfOpenFirstOutcomeDecides(t *testing.T) {
	clock := newClock()
	b := NewBreaker(DefaultBreakerConfig(), WithBreakerClock(clock.now))
	v := api.VendorOpenAI

	for range 3 {
		b.Record(v, proxyFailure())
	}
	clock.advance(600 * time.Second)

	// Concurrent attempts all see half_open; none is downgraded.
	for range 3 {
		require.Equal(t, StateHalfOpen, b.Check(v))
	}

	b.Record(v, nil)
	require.Equal(t, StateClosed, b.State(v))

	// A late failure from the same batch counts as a fresh closed-state failure.
	b.Record(v, proxyFailure())
	require.Equal(t, StateClosed, b.State(v))
}

func TestBreakerSlidingWindow(t *testing.T) {
	clock := newClock()
	b := NewBreaker(DefaultBreakerConfig(), WithBreakerClock(clock.now))
	v := api.VendorGeminiDirect

	b.Record(v, proxyFailure())
	clock.advance(200 * time.Second)
	b.Record(v, proxyFailure())
	clock.advance(150 * time.Second) // first failure left the window
	b.Record(v, proxyFailure())
	require.Equal(t, StateClosed, b.State(v))

	b.Record(v, proxyFailure())
	require.Equal(t, StateOpen, b.State(v))
}

func TestBreakerIgnoresApplicationErrors(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1})
	v := api.VendorOpenAI

	canceled := api.NewTransportError(v, "canceled")
	canceled.Reason = "canceled"

	for _, err := range []error{
		api.NewError(api.ErrorKindProviderRejected, "bad request"),
		api.NewModelNotAllowedError(v, "gpt-x"),
		api.NewRateLimitedError(v, "slow down"),
		api.NewError(api.ErrorKindProviderUnavailable, "503"),
		canceled,
		errors.New("plain error"),
	} {
		b.Record(v, err)
	}
	require.Equal(t, StateClosed, b.State(v))
	require.Empty(t, b.Snapshot())

	b.Record(v, api.NewTimeoutError(v, "deadline"))
	require.Equal(t, StateOpen, b.State(v))
}

func TestBreakerVendorsAreIndependent(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1})
	b.Record(api.VendorOpenAI, proxyFailure())

	require.Equal(t, StateOpen, b.State(api.VendorOpenAI))
	require.Equal(t, StateClosed, b.State(api.VendorVertex))
	require.Equal(t, map[api.Vendor]State{api.VendorOpenAI: StateOpen}, b.Snapshot())
}
