package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// Checker represents dependencies that can be pinged for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies checks PostgreSQL and Redis.
type Dependencies struct {
	DB    Pinger
	Redis redis.Cmdable
}

// PingDB implements Checker.
func (p Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if p.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.DB.Ping(ctx)
}

// PingRedis implements Checker.
func (p Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
	// Draining flips readiness off once shutdown starts so load balancers
	// stop routing before the listener closes.
	Draining *atomic.Bool
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency pings.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Draining != nil && h.Draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}
	ctx := r.Context()
	status := map[string]string{"db": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := h.Checker.PingDB(ctx, h.dbTimeout()); err != nil {
		status["db"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		status["redis"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
