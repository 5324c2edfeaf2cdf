package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	resilience.RegisterMetrics("test", prometheus.NewRegistry())
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "mercadopago", OpenFor: 20 * time.Millisecond, Now: clock.Now})
	ctx := context.Background()
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("mercadopago")))

	require.True(t, breaker.Allow(ctx))
	breaker.Record(ctx, resilience.Failure)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("mercadopago")))

	clock.Advance(20 * time.Millisecond)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("mercadopago")))

	breaker.Record(ctx, resilience.Success)
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("mercadopago")))

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("mercadopago")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("mercadopago", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("mercadopago", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("mercadopago", "half_open", "closed")))
}
