package security

import (
	"net/http"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// BodyLimit enforces a maximum request payload size.
type BodyLimit struct {
	Max int64
	// For returns a route specific cap, such as the raised one for photo
	// uploads. A result <= 0 falls back to Max.
	For func(*http.Request) int64
}

// Middleware rejects declared oversized bodies with 413 and caps the rest,
// so decoders see *http.MaxBytesError once the limit is crossed.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := b.Max
		if b.For != nil {
			if v := b.For(r); v > 0 {
				limit = v
			}
		}
		if limit <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
