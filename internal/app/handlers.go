package app

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/audit"
	"github.com/noah-isme/backend-fotoko/internal/auth"
	"github.com/noah-isme/backend-fotoko/internal/cart"
	"github.com/noah-isme/backend-fotoko/internal/catalog"
	"github.com/noah-isme/backend-fotoko/internal/checkout"
	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/coupon"
	"github.com/noah-isme/backend-fotoko/internal/delivery"
	"github.com/noah-isme/backend-fotoko/internal/health"
	"github.com/noah-isme/backend-fotoko/internal/lock"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/order"
	"github.com/noah-isme/backend-fotoko/internal/payment"
	"github.com/noah-isme/backend-fotoko/internal/ratelimit"
	"github.com/noah-isme/backend-fotoko/internal/result"
	"github.com/noah-isme/backend-fotoko/internal/upload"
)

const accessCookie = "access_token"

// Handlers is the set of HTTP handlers and request middlewares the router mounts.
// Zero values are safe: handlers without a service answer 500.
type Handlers struct {
	Health   health.Handler
	Auth     *auth.Handler
	AuthMW   auth.Middleware
	Catalog  *catalog.Handler
	Cart     *cart.Handler
	Coupons  *coupon.Handler
	Uploads  *upload.Handler
	Files    http.Handler
	Checkout *checkout.Handler
	Orders   *order.Handler
	Admin    *order.AdminHandler
	Payments *payment.Handler
	Results  *result.Handler
	Audit    audit.HTTPRecorder
	AuditLog audit.Handler

	Session     func(http.Handler) http.Handler
	Idempotency func(http.Handler) http.Handler
	// Login guards credential stuffing with a sliding window; Limiter backs the rest.
	Login   ratelimit.Limiter
	Limiter ratelimit.Limiter
	Metrics *obs.HTTPMetrics
}

// BuildHandlers wires services over the opened dependencies.
func BuildHandlers(d *Deps, draining *atomic.Bool) (*Handlers, error) {
	cfg := d.Cfg
	log := d.Log
	queries := d.Queries()

	authSvc, err := auth.NewService(auth.Config{
		Queries:        queries,
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
	})
	if err != nil {
		return nil, err
	}

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Queries:      queries,
		Pool:         d.DB,
		Cache:        catalog.NewCache(d.Redis, cfg.CatalogCacheTTL),
		Logger:       log.With().Str("component", "catalog").Logger(),
		DefaultLimit: cfg.CatalogDefaultLimit,
		MaxLimit:     cfg.CatalogMaxLimit,
	})
	if err != nil {
		return nil, err
	}

	couponSvc := &coupon.Service{Q: queries, Log: log.With().Str("component", "coupon").Logger()}

	cartSvc := &cart.Service{
		Store:   cart.NewStore(d.Redis, cfg.CartTTL, log),
		Locker:  lock.Locker{R: d.Redis, RetryBackoff: 20 * time.Millisecond, MaxWait: cfg.CartLockTTL},
		Photos:  catalogSvc,
		Coupons: couponSvc,
		LockTTL: cfg.CartLockTTL,
		Log:     log.With().Str("component", "cart").Logger(),
	}

	provider, err := PaymentProvider(cfg, log)
	if err != nil {
		return nil, err
	}
	paymentSvc := &payment.Service{
		Q:               queries,
		Tx:              payment.PoolTx(d.DB),
		Provider:        provider,
		Coupons:         couponSvc,
		Delivery:        delivery.Enqueuer{Client: d.Tasks, Inspector: d.TaskInspector, MaxRetry: cfg.DeliveryMaxRetry},
		Replay:          d.Redis,
		ReplayTTL:       cfg.WebhookReplayTTL,
		PublicBaseURL:   cfg.PublicBaseURL,
		FrontendBaseURL: cfg.FrontendBaseURL,
		Log:             log.With().Str("component", "payment").Logger(),
	}

	checkoutSvc := &checkout.Service{
		Q:        queries,
		Tx:       checkout.PoolTx(d.DB),
		Carts:    cartSvc,
		Photos:   catalogSvc,
		Coupons:  couponSvc,
		Payments: paymentSvc,
		Currency: cfg.Currency,
		Log:      log.With().Str("component", "checkout").Logger(),
	}

	orderSvc := &order.Service{Q: queries}
	gateway := upload.NewGateway(upload.Config{
		Dir:          cfg.UploadDir,
		MaxFileBytes: cfg.UploadMaxFileBytes,
		MaxFiles:     cfg.UploadMaxFiles,
		Log:          log.With().Str("component", "upload").Logger(),
	})

	fixed, err := ratelimit.NewFixedWindow(d.Redis, "fotoko:rl")
	if err != nil {
		return nil, err
	}

	h := &Handlers{
		Health: health.Handler{
			Checker:      health.Dependencies{DB: d.DB, Redis: d.Redis},
			DBTimeout:    500 * time.Millisecond,
			RedisTimeout: 300 * time.Millisecond,
			Draining:     draining,
		},
		Auth: &auth.Handler{
			Service:          authSvc,
			AccessCookieName: accessCookie,
			CookieDomain:     cfg.CookieDomain,
			CookieSecure:     cfg.CookieSecure,
			CookieSameSite:   cfg.CookieSameSite,
			Log:              log,
		},
		AuthMW:   auth.Middleware{Service: authSvc, AccessCookie: accessCookie},
		Catalog:  catalog.NewHandler(catalog.HandlerConfig{Service: catalogSvc}),
		Cart:     &cart.Handler{Svc: cartSvc, Log: log},
		Coupons:  &coupon.Handler{Svc: couponSvc, DefaultLimit: cfg.CatalogDefaultLimit, MaxLimit: cfg.CatalogMaxLimit},
		Uploads:  &upload.Handler{Gateway: gateway, Photos: catalogSvc, PublicBaseURL: cfg.PublicBaseURL, Log: log},
		Files:    gateway.FileServer(),
		Checkout: &checkout.Handler{Svc: checkoutSvc},
		Orders:   &order.Handler{Svc: orderSvc, Log: log},
		Admin:    &order.AdminHandler{Svc: orderSvc, Log: log},
		Payments: &payment.Handler{Svc: paymentSvc},
		Results:  &result.Handler{Pages: result.Pages{Orders: orderSvc, FrontendBaseURL: cfg.FrontendBaseURL}, Log: log},
		Audit: audit.HTTPRecorder{
			Service: &audit.Service{Store: queries, Enabled: cfg.AuditEnabled},
			OnError: func(err error) { log.Error().Err(err).Msg("record audit log") },
		},
		AuditLog: audit.Handler{Store: queries, Log: log},
		Session: cart.Session(cart.SessionConfig{
			CookieName: cfg.CartCookieName,
			TTL:        cfg.CartTTL,
			Secure:     cfg.CookieSecure,
			SameSite:   cfg.CookieSameSite,
			Domain:     cfg.CookieDomain,
		}),
		Idempotency: common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}.Middleware,
		Login:       ratelimit.SlidingWindow{Client: d.Redis, Prefix: "fotoko:rl:login"},
		Limiter:     fixed,
	}
	if cfg.MetricsEnabled {
		h.Metrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, d.Registry)
	}
	return h, nil
}

func limiterErrorLogger(log zerolog.Logger, name string) func(error) {
	return func(err error) {
		log.Warn().Err(err).Str("limit", name).Msg("rate limiter unavailable")
	}
}
