package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIdemRejectsReplay(t *testing.T) {
	calls := 0
	h := Idem{R: newRedis(t), TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(session string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set("Idempotency-Key", "abc")
		req = req.WithContext(WithSessionID(req.Context(), session))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusCreated, send("s1"))
	require.Equal(t, http.StatusConflict, send("s1"))
	require.Equal(t, http.StatusCreated, send("s2"))
	require.Equal(t, 2, calls)
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	status := http.StatusBadGateway
	h := Idem{R: newRedis(t), TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set("Idempotency-Key", "retry-me")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusBadGateway, send())
	status = http.StatusOK
	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusConflict, send())
}

func TestIdemPassThroughWithoutHeader(t *testing.T) {
	calls := 0
	h := Idem{R: newRedis(t)}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
	}
	require.Equal(t, 2, calls)
}
