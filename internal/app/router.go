package app

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-fotoko/internal/audit"
	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/config"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/ratelimit"
	"github.com/noah-isme/backend-fotoko/internal/security"
)

// defaultBodyLimit caps JSON request bodies; the photo upload route gets
// UPLOAD_MAX_REQUEST_BYTES instead.
const defaultBodyLimit = 1 << 20

func init() {
	// Prices travel as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// NewRouter mounts every route of the API.
func NewRouter(cfg *config.Config, log zerolog.Logger, h *Handlers, reg prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if h.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: h.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: log}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.CookieSecure}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: defaultBodyLimit, For: uploadBodyLimit(cfg.UploadMaxRequestBytes)}.Middleware)

	if cfg.MetricsEnabled && reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}
	r.Get("/health/live", h.Health.Live)
	r.Get("/health/ready", h.Health.Ready)
	if h.Files != nil {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", h.Files))
	}

	limit := func(name string, max int64, key func(*http.Request) string) func(http.Handler) http.Handler {
		return ratelimit.Handler{
			Limiter: h.Limiter,
			Config:  ratelimit.Config{Name: name, Key: key, Window: cfg.RateLimitWindow, Max: int(max)},
			OnError: limiterErrorLogger(log, name),
		}.Middleware
	}
	loginLimit := ratelimit.Handler{
		Limiter: h.Login,
		Config:  ratelimit.Config{Name: "login", Key: ratelimit.ByClientIP, Window: cfg.RateLimitWindow, Max: int(cfg.RateLimitLogin)},
		OnError: limiterErrorLogger(log, "login"),
	}.Middleware
	session := passthrough(h.Session)
	idem := passthrough(h.Idempotency)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(h.AuthMW.Authenticate)

		v.Get("/events", h.Catalog.Events)
		v.Get("/events/{slug}", h.Catalog.EventDetail)

		v.Route("/auth", func(a chi.Router) {
			a.Post("/register", h.Auth.Register)
			a.With(loginLimit).Post("/login", h.Auth.Login)
			a.Post("/logout", h.Auth.Logout)
			a.With(h.AuthMW.RequireAuth).Get("/me", h.Auth.Me)
		})

		v.With(limit("coupon-preview", cfg.RateLimitCoupon, ratelimit.ByClientIP)).Post("/coupons/preview", h.Coupons.Preview)
		v.Post("/payments/webhook", h.Payments.Webhook)

		v.Group(func(s chi.Router) {
			s.Use(session)

			s.Route("/cart", func(c chi.Router) {
				c.Get("/", h.Cart.Get)
				c.Delete("/", h.Cart.Clear)
				c.Post("/items", h.Cart.AddItem)
				c.Delete("/items/{photoID}", h.Cart.RemoveItem)
				c.Post("/items/{photoID}/toggle", h.Cart.ToggleItem)
				c.With(limit("coupon", cfg.RateLimitCoupon, ratelimit.BySessionOrIP)).Post("/coupon", h.Cart.ApplyCoupon)
				c.Delete("/coupon", h.Cart.RemoveCoupon)
				c.Put("/drawer", h.Cart.SetDrawer)
			})

			s.With(limit("checkout", cfg.RateLimitCheckout, ratelimit.BySessionOrIP), idem).Post("/checkout", h.Checkout.Checkout)
			s.Get("/checkout/result/{outcome}", h.Results.Show)

			s.With(h.AuthMW.RequireAuth).Get("/orders", h.Orders.List)
			s.Get("/orders/{orderId}", h.Orders.Get)

			s.With(idem).Post("/payments/{orderId}/retry", h.Payments.Retry)
			s.Get("/payments/{orderId}/status", h.Payments.Status)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(h.AuthMW.RequireAdmin)
			admin.Use(h.Audit.Middleware(audit.HTTPConfig{ResourceIDParam: "id"}))
			admin.Post("/events", h.Catalog.CreateEvent)
			admin.Patch("/events/{id}", h.Catalog.UpdateEvent)
			admin.With(limit("upload", cfg.RateLimitUpload, ratelimit.ByClientIP)).Post("/events/{id}/photos", h.Uploads.EventPhotos)
			admin.Get("/coupons", h.Coupons.List)
			admin.Post("/coupons", h.Coupons.Create)
			admin.Patch("/coupons/{id}", h.Coupons.Update)
			admin.Get("/orders", h.Admin.List)
			admin.Get("/orders/{id}", h.Admin.Get)
			admin.Patch("/orders/{id}/status", h.Admin.PatchStatus)
			admin.Get("/audit-logs", h.AuditLog.List)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	return r
}

var uploadPath = regexp.MustCompile(`^/api/v1/admin/events/[0-9]+/photos/?$`)

// uploadBodyLimit raises the body cap for the admin photo upload route only.
func uploadBodyLimit(ceiling int64) func(*http.Request) int64 {
	return func(r *http.Request) int64 {
		if r.Method == http.MethodPost && uploadPath.MatchString(r.URL.Path) {
			return ceiling
		}
		return 0
	}
}

func passthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw != nil {
		return mw
	}
	return func(next http.Handler) http.Handler { return next }
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

// protectPprof requires basic auth when a user is configured.
func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
