package resilience

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState reports the current breaker state per upstream: 0=closed, 1=open, 2=half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts breaker state changes.
	BreakerTransitions *prometheus.CounterVec
	// BreakerOpenedTotal counts transitions into the open state.
	BreakerOpenedTotal *prometheus.CounterVec
	// UpstreamAttempts counts outbound HTTP attempts by upstream and outcome.
	UpstreamAttempts *prometheus.CounterVec
)

// RegisterMetrics creates the breaker collectors on reg. Later calls are no-ops.
func RegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open",
		}, []string{"target"})
		BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions",
		}, []string{"target", "from", "to"})
		BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Number of times a breaker transitioned into open state",
		}, []string{"target"})
		UpstreamAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Outbound HTTP attempts by upstream and outcome",
		}, []string{"target", "result"})

		register(reg, BreakerState, func(c prometheus.Collector) { BreakerState = c.(*prometheus.GaugeVec) })
		register(reg, BreakerTransitions, func(c prometheus.Collector) { BreakerTransitions = c.(*prometheus.CounterVec) })
		register(reg, BreakerOpenedTotal, func(c prometheus.Collector) { BreakerOpenedTotal = c.(*prometheus.CounterVec) })
		register(reg, UpstreamAttempts, func(c prometheus.Collector) { UpstreamAttempts = c.(*prometheus.CounterVec) })
	})
}

func register(reg prometheus.Registerer, c prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			reuse(are.ExistingCollector)
			return
		}
		panic(err)
	}
}
