package resilience_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/resilience"
)

func TestHTTPClientRetriesAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"x":1}` {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: "gateway", MinRequests: 10, FailureRatio: 0.9}),
		BaseBackoff: time.Millisecond,
		MaxAttempts: 3,
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"x":1}`))
	require.NoError(t, err)

	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "ok", string(body))
	require.Equal(t, int32(3), calls.Load())
}

func TestHTTPClientReturnsClientErrorsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, int32(1), calls.Load())
}

func TestHTTPClientOpenBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: "gateway", MinRequests: 1, OpenFor: time.Minute}),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := cl.Do(context.Background(), req)
	var statusErr *resilience.UpstreamStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	require.Equal(t, int32(1), calls.Load())

	_, err = cl.Do(context.Background(), req)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, int32(1), calls.Load())
}

func TestHTTPClientClientErrorsKeepBreakerClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "gateway", MinRequests: 1, OpenFor: time.Minute})
	cl := resilience.HTTPClient{Client: srv.Client(), Breaker: breaker, MaxAttempts: 3, BaseBackoff: time.Millisecond}
	for range 5 {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := cl.Do(context.Background(), req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	require.Equal(t, int32(5), calls.Load())
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestHTTPClientHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var first, gap atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			first.Store(time.Now().UnixNano())
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		gap.Store(time.Now().UnixNano() - first.Load())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: "gateway", MinRequests: 5}),
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, int32(2), calls.Load())
	require.GreaterOrEqual(t, time.Duration(gap.Load()), 900*time.Millisecond)
}

func TestHTTPClientCanceledCallerDoesNotTripBreaker(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "gateway", MinRequests: 1, OpenFor: time.Minute})
	cl := resilience.HTTPClient{Client: srv.Client(), Breaker: breaker, MaxAttempts: 3, BaseBackoff: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := cl.Do(ctx, req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, resilience.Closed, breaker.State())
}
