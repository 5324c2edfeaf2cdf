package cart

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

// SessionHeader lets non-browser clients carry the cart session explicitly.
const SessionHeader = "X-Cart-Session"

// SessionConfig configures the cart session cookie.
type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
	SameSite   http.SameSite
	Domain     string
}

// Session resolves the cart session id from the cookie or header, issuing a
// fresh one when neither carries a valid UUID, and stores it in the request context.
func Session(cfg SessionConfig) func(http.Handler) http.Handler {
	name := cfg.CookieName
	if name == "" {
		name = "cart_session"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := ""
			if c, err := r.Cookie(name); err == nil {
				sid = validSession(c.Value)
			}
			if sid == "" {
				sid = validSession(r.Header.Get(SessionHeader))
			}
			if sid == "" {
				sid = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     name,
					Value:    sid,
					Path:     "/",
					Domain:   cfg.Domain,
					MaxAge:   int(cfg.TTL.Seconds()),
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: cfg.SameSite,
				})
			}
			w.Header().Set(SessionHeader, sid)
			next.ServeHTTP(w, r.WithContext(common.WithSessionID(r.Context(), sid)))
		})
	}
}

func validSession(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return ""
	}
	return id.String()
}
