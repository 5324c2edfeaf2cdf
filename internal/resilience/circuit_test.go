package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/resilience"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newGatewayBreaker(clock *fakeClock, trials int) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Target:         "mercadopago",
		MinRequests:    2,
		FailureRatio:   0.5,
		Window:         time.Minute,
		OpenFor:        30 * time.Second,
		HalfOpenTrials: trials,
		Now:            clock.Now,
	})
}

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := newGatewayBreaker(clock, 1)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Failure)
	require.True(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Failure)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))

	clock.Advance(30 * time.Second)
	require.True(t, breaker.Allow(ctx), "first call after cool-off is a trial")
	require.Equal(t, resilience.HalfOpen, breaker.State())
	require.False(t, breaker.Allow(ctx), "only one trial in flight")

	breaker.Record(ctx, resilience.Success)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, "mercadopago", breaker.Target())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := newGatewayBreaker(clock, 2)
	ctx := context.Background()

	for range 2 {
		require.True(t, breaker.Allow(ctx))
		breaker.Record(ctx, resilience.Failure)
	}
	clock.Advance(31 * time.Second)

	require.True(t, breaker.Allow(ctx))
	require.True(t, breaker.Allow(ctx))
	require.False(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Success)
	require.Equal(t, resilience.HalfOpen, breaker.State(), "two passing trials are needed")
	breaker.Record(ctx, resilience.Failure)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))
}

func TestBreakerWindowForgetsOldFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := newGatewayBreaker(clock, 1)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Failure)
	clock.Advance(2 * time.Minute)

	require.True(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Failure)
	require.Equal(t, resilience.Closed, breaker.State(), "failures from an expired window do not count")
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := newGatewayBreaker(clock, 1)
	ctx := context.Background()

	// A rejected preference or unknown payment id is still a healthy gateway.
	for range 5 {
		require.True(t, breaker.Allow(ctx))
		breaker.Record(ctx, resilience.Classify(ctx, http.StatusBadRequest, nil))
		require.True(t, breaker.Allow(ctx))
		breaker.Record(ctx, resilience.Classify(ctx, http.StatusNotFound, nil))
	}
	for range 5 {
		require.True(t, breaker.Allow(ctx))
		breaker.Record(ctx, resilience.Ignored)
	}
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestClassify(t *testing.T) {
	live := context.Background()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name   string
		ctx    context.Context
		status int
		err    error
		want   resilience.Outcome
	}{
		{"ok", live, http.StatusCreated, nil, resilience.Success},
		{"bad request", live, http.StatusBadRequest, nil, resilience.Success},
		{"unauthorized token", live, http.StatusUnauthorized, nil, resilience.Success},
		{"request timeout", live, http.StatusRequestTimeout, nil, resilience.Failure},
		{"throttled", live, http.StatusTooManyRequests, nil, resilience.Failure},
		{"bad gateway", live, http.StatusBadGateway, nil, resilience.Failure},
		{"transport error", live, 0, errors.New("connection reset"), resilience.Failure},
		{"attempt deadline", live, 0, context.DeadlineExceeded, resilience.Failure},
		{"caller canceled", canceled, 0, context.Canceled, resilience.Ignored},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, resilience.Classify(tc.ctx, tc.status, tc.err))
		})
	}
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))
	require.Equal(t, resilience.MaxBackoff, resilience.Backoff(base, 30, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-(base*2/5))
	require.LessOrEqual(t, d, base*2+(base*2/5))
}
