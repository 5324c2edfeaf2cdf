package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Limiter decides whether one more event for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// SlidingWindow implements an exact sliding window backed by Redis sorted sets.
type SlidingWindow struct {
	Client redis.Cmdable
	Prefix string
}

// Allow registers an event for the given key and returns whether it is within the limit.
func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	now := time.Now()
	until := now.Add(window)
	score := float64(now.UnixNano())
	cutoff := float64(now.Add(-window).UnixNano())

	redisKey := l.Prefix + key
	member := fmt.Sprintf("%s:%s", key, uuid.NewString())

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: score, Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, until, err
	}

	current := int(countCmd.Val())
	remaining = max - current
	if remaining < 0 {
		remaining = 0
	}
	return current <= max, remaining, until, nil
}

// FixedWindow is a fixed window counter on top of ulule/limiter's Redis store.
type FixedWindow struct {
	Store limiter.Store
}

// NewFixedWindow builds a FixedWindow whose keys live under prefix.
func NewFixedWindow(client *redis.Client, prefix string) (FixedWindow, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   prefix,
		MaxRetry: 3,
	})
	if err != nil {
		return FixedWindow{}, fmt.Errorf("limiter store: %w", err)
	}
	return FixedWindow{Store: store}, nil
}

// Allow implements Limiter.
func (l FixedWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if l.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(l.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
