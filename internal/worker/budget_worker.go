// Package worker consumes transaction change messages and keeps budgets current.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

// ChangeHandler applies one change event, typically a budget.Aggregator.
type ChangeHandler interface {
	Handle(ctx context.Context, ev core.ChangeEvent) error
}

// MessageSource delivers change messages until ctx is done or the
// connection drops.
type MessageSource interface {
	ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error
}

// Drainer relays every pending outbox entry.
type Drainer interface {
	Drain(ctx context.Context) (services.BatchResult, error)
}

// BudgetWorker applies change messages to budgets.
type BudgetWorker struct {
	handler    ChangeHandler
	retryDelay time.Duration
	logger     *log.Logger
	applied    *cache.SeenSet
}

func NewBudgetWorker(handler ChangeHandler, retryDelay time.Duration, logger *log.Logger) *BudgetWorker {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &BudgetWorker{
		handler:    handler,
		retryDelay: retryDelay,
		logger:     logger.WithComponent(log.ComponentWorker),
	}
}

// RememberApplied makes the worker skip redeliveries of events it applied
// recently. Events applied by another worker are not detected.
func (w *BudgetWorker) RememberApplied(applied *cache.SeenSet) {
	w.applied = applied
}

// HandleChangeMessage processes a single change message from AMQP
func (w *BudgetWorker) HandleChangeMessage(ctx context.Context, msg *amqp.ChangeMessage) error {
	ev := msg.Event()

	if w.applied != nil && ev.ID != "" && w.applied.Seen(ev.ID) {
		w.logger.InfoContext(ctx, "Skipping redelivered change",
			log.FieldTransactionID, ev.TransactionID(),
			"event_id", ev.ID)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing change message",
		log.FieldTransactionID, ev.TransactionID(),
		log.FieldUserID, ev.UserID,
		log.FieldChangeKind, string(ev.Kind()))

	if err := w.handler.Handle(ctx, ev); err != nil {
		return fmt.Errorf("apply change %s: %w", ev.ID, err)
	}
	if w.applied != nil && ev.ID != "" {
		w.applied.MarkSeen(ev.ID)
	}
	return nil
}

// Run consumes from src until ctx is done, resubscribing after
// connection failures.
func (w *BudgetWorker) Run(ctx context.Context, src MessageSource) error {
	for {
		err := src.ConsumeChanges(ctx, w.HandleChangeMessage)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("consumer stopped")
		}

		w.logger.WarnContext(ctx, "Consumer interrupted, retrying",
			log.FieldError, err,
			"retry_in", w.retryDelay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retryDelay):
		}
	}
}

// StartupCheck relays changes left in the outbox while the worker was down.
func (w *BudgetWorker) StartupCheck(ctx context.Context, relay Drainer) error {
	res, err := relay.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain outbox on startup: %w", err)
	}

	if res.Relayed == 0 && res.Failed == 0 {
		w.logger.InfoContext(ctx, "No pending changes found on startup")
		return nil
	}

	w.logger.InfoContext(ctx, "Startup relay completed",
		"relayed", res.Relayed,
		"failed", res.Failed)
	return nil
}
