package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-fotoko/internal/app"
	"github.com/noah-isme/backend-fotoko/internal/config"
	"github.com/noah-isme/backend-fotoko/internal/delivery"
	"github.com/noah-isme/backend-fotoko/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "fotoko-worker",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(openCtx, cfg, logger, "fotoko-worker")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue url")
	}

	worker := &delivery.Worker{
		Q:    deps.Queries(),
		Tx:   delivery.PoolTx(deps.DB),
		Mail: app.EmailSender(cfg.DeliveryEmailSender, logger),
		Log:  logger,
	}
	mux := asynq.NewServeMux()
	mux.Handle(delivery.TypeDeliver, worker)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.AsynqConcurrency,
		Queues:          map[string]int{delivery.Queue: 1},
		Logger:          obs.AsynqLogger{Logger: logger},
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(taskCtx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(taskCtx)
			logger.Warn().Err(err).Str("task", task.Type()).Int("retried", retried).Msg("task failed")
		}),
	})

	if cfg.MetricsEnabled {
		go serveMetrics(cfg, deps)
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Int("concurrency", cfg.AsynqConcurrency).Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func serveMetrics(cfg *config.Config, deps *app.Deps) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error().Err(err).Msg("worker metrics server")
	}
}
