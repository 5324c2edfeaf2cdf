package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSlidingWindowAllow(t *testing.T) {
	mr, client := newRedis(t)
	limiter := SlidingWindow{Client: client, Prefix: "test:"}
	ctx := context.Background()
	window := 2 * time.Second

	for i := 0; i < 2; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "key", window, 2)
		require.NoError(t, err)
		require.True(t, allowed, "request %d", i)
		require.Equal(t, 2-(i+1), remaining)
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)

	mr.FastForward(window)
	allowed, _, _, err = limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestFixedWindowAllow(t *testing.T) {
	_, client := newRedis(t)
	limiter, err := NewFixedWindow(client, "rl")
	require.NoError(t, err)
	ctx := context.Background()

	allowed, remaining, reset, err := limiter.Allow(ctx, "coupon:1.2.3.4", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, remaining)
	require.True(t, reset.After(time.Now()))

	allowed, _, _, err = limiter.Allow(ctx, "coupon:1.2.3.4", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, remaining, _, err = limiter.Allow(ctx, "coupon:1.2.3.4", time.Minute, 2)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)

	allowed, _, _, err = limiter.Allow(ctx, "coupon:5.6.7.8", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	_, client := newRedis(t)
	handler := Handler{
		Limiter: SlidingWindow{Client: client, Prefix: "ratelimit:"},
		Config:  Config{Name: "login", Key: ByClientIP, Window: time.Second, Max: 1},
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	counted.ServeHTTP(rr, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	require.Contains(t, rr.Body.String(), "RATE_LIMITED")
}

func TestHandlerMiddlewareFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	called := false
	handler := Handler{
		Limiter: SlidingWindow{Client: client, Prefix: "ratelimit:"},
		Config:  Config{Key: func(*http.Request) string { return "err" }, Window: time.Second, Max: 1},
		OnError: func(error) { called = true },
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func TestKeyFuncs(t *testing.T) {
	cases := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"ipv4", nil, "198.51.100.3:8080", "198.51.100.3"},
		{"headers ignored without RealIP", map[string]string{"X-Forwarded-For": "203.0.113.1"}, "192.0.2.1:1234", "192.0.2.1"},
		{"ipv4 mapped", nil, "[::ffff:198.51.100.4]:443", "198.51.100.4"},
		{"ipv6 grouped by /64", nil, "[2001:db8:1:2:aaaa::1]:443", "2001:db8:1:2::/64"},
		{"same /64 shares key", nil, "[2001:db8:1:2:bbbb::9]:443", "2001:db8:1:2::/64"},
		{"unparseable", nil, "pipe", "pipe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tc.remoteAddr
			require.Equal(t, tc.want, ByClientIP(req))
		})
	}

	// Behind the router's RealIP the forwarded address becomes the key.
	var got string
	realIP := middleware.RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ByClientIP(r)
	}))
	fwd := httptest.NewRequest(http.MethodGet, "/", nil)
	fwd.Header.Set("X-Forwarded-For", "203.0.113.1, 70.41.3.18")
	realIP.ServeHTTP(httptest.NewRecorder(), fwd)
	require.Equal(t, "203.0.113.1", got)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	require.Equal(t, "ip:10.0.0.1", BySessionOrIP(req))
	req = req.WithContext(common.WithSessionID(req.Context(), "abc"))
	require.Equal(t, "s:abc", BySessionOrIP(req))
}
