package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/noah-isme/backend-fotoko/internal/app"
	"github.com/noah-isme/backend-fotoko/internal/config"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
)

// drainDelay keeps the listener open after readiness flips so load
// balancers observe the change before connections are refused.
const drainDelay = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "fotoko-api",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Open(openCtx, cfg, logger, "fotoko-api")
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	var draining atomic.Bool
	handlers, err := app.BuildHandlers(deps, &draining)
	if err != nil {
		logger.Fatal().Err(err).Msg("build handlers")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           app.NewRouter(cfg, logger, handlers, deps.Registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	logger.Info().Msg("shutdown requested")
	draining.Store(true)
	time.Sleep(drainDelay)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}
