package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	// Name namespaces keys so routes sharing a limiter do not share budgets.
	Name   string
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces rate limits before delegating to the next handler.
// Limiter failures fail open.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.Config.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Config.Key(r)
		if h.Config.Name != "" {
			key = h.Config.Name + ":" + key
		}
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limitValue := h.Config.Max
		if limitValue < 0 {
			limitValue = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limitValue))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ByClientIP keys requests by the caller address, IPv6 grouped by /64.
func ByClientIP(r *http.Request) string {
	return common.ClientKey(r)
}

// BySessionOrIP keys requests by cart session, falling back to the caller address.
func BySessionOrIP(r *http.Request) string {
	if id, ok := common.SessionID(r.Context()); ok {
		return "s:" + id
	}
	return "ip:" + common.ClientKey(r)
}
