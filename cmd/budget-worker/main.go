package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/backend"
	"fintrack/internal/budget"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentWorker)
	logger.Info("Starting budget-worker", "backend", cfg.DataBackend)

	loc := cfg.Location()
	res := cli.InitBackend(context.Background(), logger, cfg)
	store := res.Backend

	dispatch := backend.NewChangeDispatcher(cfg, store, loc, logger)
	relay := services.NewOutboxProcessor(store, dispatch.Dispatcher, cli.OutboxConfig(cfg), logger)
	budgetWorker := worker.NewBudgetWorker(budget.NewAggregator(store, loc, logger), 5*time.Second, logger)

	applied := cache.NewSeenSet(10000, time.Hour)
	budgetWorker.RememberApplied(applied)
	caches := cache.NewManager(logger)
	caches.Register(applied)
	caches.StartCleanup(10 * time.Minute)

	// Consuming gets its own connection so publishes and deliveries do not
	// share a channel.
	var consumer *amqp.Client
	if dispatch.Broker != nil {
		var err error
		consumer, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(log.ComponentAMQP))
		if err != nil {
			logger.Error("Failed to initialize AMQP consumer", log.FieldError, err)
			consumer = nil
		}
	} else {
		logger.Info("AMQP disabled, relayed changes are applied in-process")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := relay.Stop(shutdownCtx); err != nil {
			logger.Error("Outbox processor shutdown failed", log.FieldError, err)
		}
		caches.Stop()
		if consumer != nil {
			_ = consumer.Close()
		}
		if dispatch.Cleanup != nil {
			_ = dispatch.Cleanup()
		}
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Failed to close backend", log.FieldError, err)
			}
		}
	})

	logger.Info("Performing startup relay check")
	if err := budgetWorker.StartupCheck(ctx, relay); err != nil {
		logger.Error("Startup relay check failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Start(gctx)
	})
	if consumer != nil {
		g.Go(func() error {
			return budgetWorker.Run(gctx, consumer)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Budget worker failed", log.FieldError, err)
	}

	cli.WaitForShutdown(ctx, done)
}
