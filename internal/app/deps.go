package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/config"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
	"github.com/noah-isme/backend-fotoko/internal/payment"
	"github.com/noah-isme/backend-fotoko/internal/resilience"
)

// Deps holds the process-wide clients shared by the API and the worker.
// Everything is created once in main and closed on shutdown.
type Deps struct {
	Cfg           *config.Config
	Log           zerolog.Logger
	DB            *pgxpool.Pool
	Redis         *redis.Client
	Tasks         *asynq.Client
	TaskInspector *asynq.Inspector
	Registry      *prometheus.Registry
}

// Open connects PostgreSQL, Redis and the task queue and registers metrics.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, appName string) (*Deps, error) {
	d := &Deps{Cfg: cfg, Log: log, Registry: NewRegistry(cfg.MetricsNamespace)}

	pool, err := db.Open(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		ApplicationName: appName,
		MaxConns:        cfg.DatabaseMaxConns,
		Tracer:          obs.PGXTracer{},
	})
	if err != nil {
		return nil, err
	}
	d.DB = pool

	rdb, err := OpenRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Redis = rdb

	taskOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("parse task queue url: %w", err)
	}
	d.Tasks = asynq.NewClient(taskOpt)
	d.TaskInspector = asynq.NewInspector(taskOpt)
	return d, nil
}

// OpenRedis connects and instruments a Redis client.
func OpenRedis(ctx context.Context, url string, metrics bool, log zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		log.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			log.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewRegistry builds a registry carrying runtime, HTTP-independent domain
// and circuit breaker collectors.
func NewRegistry(namespace string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	obs.MustRegisterDomainMetrics(namespace, reg)
	resilience.RegisterMetrics(namespace, reg)
	return reg
}

// Queries returns the query set over the pool.
func (d *Deps) Queries() *db.Queries {
	return db.New(d.DB)
}

// Close releases every client that was opened.
func (d *Deps) Close() {
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			d.Log.Error().Err(err).Msg("close task client")
		}
	}
	if d.TaskInspector != nil {
		if err := d.TaskInspector.Close(); err != nil {
			d.Log.Error().Err(err).Msg("close task inspector")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Log.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// PaymentProvider selects the configured payment provider.
func PaymentProvider(cfg *config.Config, log zerolog.Logger) (payment.Provider, error) {
	switch cfg.PaymentProvider {
	case "mercadopago":
		return payment.NewMercadoPago(payment.MercadoPagoConfig{
			AccessToken:   cfg.MPAccessToken,
			WebhookSecret: cfg.MPWebhookSecret,
			BaseURL:       cfg.MPBaseURL,
			Timeout:       cfg.PaymentHTTPTimeout,
			MaxAttempts:   cfg.PaymentMaxAttempts,
			Log:           log.With().Str("component", "mercadopago").Logger(),
		}), nil
	case "sandbox", "":
		// The sandbox signs its notifications with the same webhook secret.
		return payment.Sandbox{ResultBaseURL: cfg.FrontendBaseURL, Secret: cfg.MPWebhookSecret}, nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}

// EmailSender selects how delivery mail leaves the process.
func EmailSender(kind string, log zerolog.Logger) common.EmailSender {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "nop", "none":
		return common.NopEmailSender{}
	default:
		return common.LogEmailSender{Logger: log.With().Str("component", "mail").Logger()}
	}
}
