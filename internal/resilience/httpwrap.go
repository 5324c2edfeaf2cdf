package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Doer is the subset of *http.Client used by upstream adapters.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClient wraps a Doer with per-attempt timeouts, retries with backoff and
// a circuit breaker. Responses with status 408, 429 or >= 500 count as failures
// and are retried, waiting for Retry-After when the upstream sends one.
type HTTPClient struct {
	Client      Doer
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
}

// UpstreamStatusError reports the last retryable status returned by the upstream.
type UpstreamStatusError struct {
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("resilience: upstream returned %d", e.Status)
}

// Do executes req. The request body is buffered so it can be replayed. When
// the breaker is open ErrOpenCircuit is returned without calling upstream.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{})
	}
	maxAttempts := max(cl.MaxAttempts, 1)
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			count(breaker.Target(), "rejected")
			if lastErr == nil {
				lastErr = ErrOpenCircuit
			}
			break
		}
		resp, err := cl.doOnce(ctx, req, body)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		outcome := Classify(ctx, status, err)
		breaker.Record(ctx, outcome)
		if err == nil && outcome == Success {
			count(breaker.Target(), "ok")
			return resp, nil
		}
		if outcome == Ignored {
			count(breaker.Target(), "canceled")
			return nil, ctx.Err()
		}
		count(breaker.Target(), "error")

		wait := Backoff(baseBackoff, attempt, cl.Jitter)
		if err == nil {
			lastErr = &UpstreamStatusError{Status: status}
			if hint, ok := retryAfter(resp); ok {
				wait = hint
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	callCtx := ctx
	if cl.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cl.Timeout)
		resp, err := cl.Client.Do(withBody(req.Clone(callCtx), body))
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return cl.Client.Do(withBody(req.Clone(callCtx), body))
}

func count(target, result string) {
	if UpstreamAttempts == nil {
		return
	}
	UpstreamAttempts.WithLabelValues(target, result).Inc()
}

// cancelOnClose keeps the attempt context alive until the caller finishes reading.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func replayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func withBody(req *http.Request, body []byte) *http.Request {
	if body == nil {
		return req
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return req
}
