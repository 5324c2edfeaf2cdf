package audit

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HTTPRecorder records handled requests.
type HTTPRecorder struct {
	Service *Service
	OnError func(error)
}

// HTTPConfig customises the entry produced for a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
}

// Middleware records an entry after next returns. Reads are not audited.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled || isRead(req.Method) {
				next.ServeHTTP(w, req)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, req)

			entry := Entry{
				Action:       cfg.Action,
				ResourceType: cfg.ResourceType,
				Status:       rec.Status(),
			}
			if cfg.ResourceIDParam != "" {
				entry.ResourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			// The response is already written; use a context that outlives a client disconnect.
			if err := r.Service.Record(context.WithoutCancel(req.Context()), req, entry); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
