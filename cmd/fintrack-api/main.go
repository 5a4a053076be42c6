package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fintrack/internal/backend"
	"fintrack/internal/cli"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/recurrence"
	"fintrack/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentHTTP)
	logger.Info("Starting fintrack-api", "port", cfg.Port, "backend", cfg.DataBackend)

	loc := cfg.Location()
	res := cli.InitBackend(context.Background(), logger, cfg)
	store := res.Backend

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Transactions:   services.NewTransactionService(store, logger).WithLocation(loc),
		Templates:      services.NewTemplateService(store, recurrence.NewEvaluator(loc), logger),
		Budgets:        services.NewBudgetService(store, logger),
		Health:         store,
		Location:       loc,
		TrustedProxies: cfg.TrustedProxies,
	}, logger)

	// The memory backend lives in this process only, so nothing else can
	// relay its outbox.
	var relay *services.OutboxProcessor
	var dispatch *backend.DispatcherResult
	if cfg.DataBackend == backend.MemoryBackend.String() {
		dispatch = backend.NewChangeDispatcher(cfg, store, loc, logger)
		relay = services.NewOutboxProcessor(store, dispatch.Dispatcher, cli.OutboxConfig(cfg), logger)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", log.FieldError, err)
		}
		if relay != nil {
			if err := relay.Stop(shutdownCtx); err != nil {
				logger.Error("Outbox processor shutdown failed", log.FieldError, err)
			}
		}
		if dispatch != nil && dispatch.Cleanup != nil {
			_ = dispatch.Cleanup()
		}
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Failed to close backend", log.FieldError, err)
			}
		}
	})

	if relay != nil {
		if err := relay.Start(ctx); err != nil {
			logger.Error("Failed to start outbox processor", log.FieldError, err)
		}
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", log.FieldError, err)
		}
	}()
	logger.Info("HTTP server listening", "addr", srv.Addr)

	cli.WaitForShutdown(ctx, done)
}
