package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/recurrence"
	"fintrack/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentRecurring)
	logger.Info("Starting recurring-worker")

	loc := cfg.Location()
	res := cli.InitBackend(context.Background(), logger, cfg)
	processor := services.NewRecurringProcessor(res.Backend, recurrence.NewEvaluator(loc), cfg.SweepConcurrency, logger)

	sweep := func(ctx context.Context, now time.Time) {
		report, err := processor.ProcessDue(ctx, now)
		if err != nil {
			logger.ErrorContext(ctx, "Recurring sweep failed", log.FieldError, err)
			return
		}
		logger.InfoContext(ctx, "Recurring sweep complete",
			"checked", report.Checked,
			"generated", report.Generated,
			"duplicates", report.Duplicates,
			"invalid", report.Invalid,
			"failed", report.Failed)
	}

	c := cron.New(cron.WithLocation(loc))
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		<-c.Stop().Done()
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Failed to close backend", log.FieldError, err)
			}
		}
	})

	if _, err := c.AddFunc(cfg.RecurringSchedule, func() { sweep(ctx, time.Now()) }); err != nil {
		logger.Error("Failed to schedule recurring sweep", log.FieldError, err, "schedule", cfg.RecurringSchedule)
		return
	}

	logger.Info("Running initial recurring sweep")
	sweep(ctx, time.Now())

	c.Start()
	logger.Info("Recurring sweep scheduled", "schedule", cfg.RecurringSchedule, "timezone", loc.String())

	cli.WaitForShutdown(ctx, done)
}
