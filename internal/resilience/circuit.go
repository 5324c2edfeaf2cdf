package resilience

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call to its upstream.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Outcome is how one upstream call counts toward the breaker.
type Outcome int

const (
	Success Outcome = iota
	Failure
	// Ignored calls say nothing about upstream health.
	Ignored
)

// Classify maps the result of a gateway call to an Outcome. Transport errors,
// timeouts, 408, 429 and 5xx mean the gateway is struggling. Any other 4xx
// (a rejected preference, an unknown payment id) is an answer from a healthy
// gateway and counts as success. A call abandoned because the caller's own
// context ended is ignored.
func Classify(ctx context.Context, status int, err error) Outcome {
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Ignored
		}
		return Failure
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return Failure
	default:
		return Success
	}
}

// BreakerConfig configures a breaker for one named upstream.
type BreakerConfig struct {
	// Target labels metrics and logs, e.g. "mercadopago".
	Target string
	// MinRequests is the sample size within Window before the ratio is checked.
	MinRequests  int
	FailureRatio float64
	// Window bounds how long closed-state counts are kept.
	Window  time.Duration
	OpenFor time.Duration
	// HalfOpenTrials is both the concurrent trial-call cap and the number of
	// successful trial calls needed to close again.
	HalfOpenTrials int
	Log            zerolog.Logger
	Now            func() time.Time
}

// Breaker is a failure-ratio circuit breaker in front of a single upstream.
type Breaker struct {
	cfg BreakerConfig

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	windowStart    time.Time
	openedAt       time.Time
	trialsInFlight int
	trialsPassed   int
}

// NewBreaker fills config defaults and returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &Breaker{cfg: cfg, state: Closed, windowStart: cfg.Now()}
	b.recordStateLocked()
	return b
}

// Target returns the upstream name.
func (b *Breaker) Target() string { return b.cfg.Target }

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may go out. Every allowed call must be
// followed by exactly one Record.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	switch b.state {
	case Open:
		if now.Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.changeStateLocked(ctx, HalfOpen)
		b.trialsInFlight = 1
		return true
	case HalfOpen:
		if b.trialsInFlight >= b.cfg.HalfOpenTrials-b.trialsPassed {
			return false
		}
		b.trialsInFlight++
		return true
	default:
		if now.Sub(b.windowStart) >= b.cfg.Window {
			b.failures, b.successes = 0, 0
			b.windowStart = now
		}
		return true
	}
}

// Record feeds the outcome of an allowed call back into the state machine.
func (b *Breaker) Record(ctx context.Context, o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if b.trialsInFlight > 0 {
			b.trialsInFlight--
		}
		switch o {
		case Failure:
			b.changeStateLocked(ctx, Open)
		case Success:
			b.trialsPassed++
			if b.trialsPassed >= b.cfg.HalfOpenTrials {
				b.changeStateLocked(ctx, Closed)
			}
		}
		return
	}

	switch o {
	case Success:
		b.successes++
	case Failure:
		b.failures++
	default:
		return
	}
	total := b.failures + b.successes
	if total >= b.cfg.MinRequests && float64(b.failures)/float64(total) >= b.cfg.FailureRatio {
		b.changeStateLocked(ctx, Open)
	}
}

func (b *Breaker) changeStateLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	now := b.cfg.Now()
	b.state = next
	b.failures, b.successes = 0, 0
	b.trialsInFlight, b.trialsPassed = 0, 0
	switch next {
	case Open:
		b.openedAt = now
	case Closed:
		b.openedAt = time.Time{}
		b.windowStart = now
	}
	b.recordStateLocked()

	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(b.cfg.Target).Inc()
	}
	evt := b.cfg.Log.Info().Str("target", b.cfg.Target).Str("from_state", prev.String()).Str("to_state", next.String())
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) recordStateLocked() {
	if BreakerState == nil {
		return
	}
	BreakerState.WithLabelValues(b.cfg.Target).Set(float64(b.state))
}
