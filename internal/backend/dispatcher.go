package backend

import (
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/budget"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/store"
)

// DispatcherResult is where relayed change events go.
type DispatcherResult struct {
	Dispatcher services.ChangeDispatcher
	// Broker is set when changes are published over AMQP.
	Broker  *amqp.Client
	Cleanup CleanupFunc
}

// NewChangeDispatcher publishes to AMQP when a broker is configured and
// reachable, and applies changes to budgets in-process otherwise.
func NewChangeDispatcher(cfg *config.Config, budgets store.BudgetStore, loc *time.Location, logger *log.Logger) *DispatcherResult {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(log.ComponentAMQP))
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, applying changes in-process", log.FieldError, err)
		} else {
			logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
			return &DispatcherResult{Dispatcher: client, Broker: client, Cleanup: client.Close}
		}
	}

	return &DispatcherResult{Dispatcher: budget.NewAggregator(budgets, loc, logger)}
}
