package common

import (
	"context"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem rejects replays of write requests carrying the same Idempotency-Key.
// Keys are scoped to the caller (user or cart session) and the route so two
// shoppers cannot collide on a client-generated key.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func (i Idem) key(r *http.Request, header string) string {
	principal := "anon"
	if uid, ok := UserID(r.Context()); ok {
		principal = "user:" + uid
	} else if sid, ok := SessionID(r.Context()); ok {
		principal = "session:" + sid
	}
	return "idem:" + Sha256Hex(strings.Join([]string{principal, r.Method, r.URL.Path, header}, "|"))
}

// Middleware enforces idempotency semantics for write endpoints. A request
// that fails with a 5xx releases its key so the client may retry.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		key := i.key(r, header)
		ok, err := i.R.SetNX(r.Context(), key, "locked", ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec.status >= http.StatusInternalServerError {
				_ = i.R.Del(context.Background(), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
