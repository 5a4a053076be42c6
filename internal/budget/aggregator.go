package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// ApplyResult describes the outcome of one adjustment.
type ApplyResult struct {
	Adjustment Adjustment
	Found      bool
	Budget     core.Budget // state after the update, when Found
}

// Aggregator applies transaction changes to the matching budgets.
type Aggregator struct {
	store    store.BudgetStore
	location *time.Location
	logger   *log.Logger
}

func NewAggregator(bs store.BudgetStore, loc *time.Location, logger *log.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.Default(log.ComponentBudget)
	}
	return &Aggregator{store: bs, location: loc, logger: logger.WithComponent(log.ComponentBudget)}
}

// Apply adds adj.Delta to the budget's running spend, clamped at zero by the
// store in a single atomic update. A missing budget is not an error. An
// adjustment whose Key the store has already seen is not applied again.
func (a *Aggregator) Apply(ctx context.Context, adj Adjustment) (ApplyResult, error) {
	res := ApplyResult{Adjustment: adj}
	fields := log.NewFields().WithBudget(adj.UserID, adj.Category, adj.Month)
	fields[log.FieldDeltaCents] = adj.Delta.Cents

	b, found, err := a.store.IncrementSpend(ctx, adj.UserID, adj.Category, adj.Month, adj.Delta, adj.Key)
	if err != nil {
		a.logger.ErrorContext(ctx, "Budget update failed", fields.WithError(err).ToSlice()...)
		return res, fmt.Errorf("apply %s/%s: %w", adj.Category, adj.Month, err)
	}
	if !found {
		a.logger.InfoContext(ctx, "No budget for category and month, skipping", fields.ToSlice()...)
		return res, nil
	}

	res.Found = true
	res.Budget = b
	fields[log.FieldSpendCents] = b.CurrentSpend.Cents
	a.logger.InfoContext(ctx, "Budget updated", fields.ToSlice()...)
	return res, nil
}

// Handle plans and applies every adjustment of ev. Adjustments are applied
// independently and their errors joined. Each one is keyed by the event id,
// so a retried event only applies the adjustments that failed before.
func (a *Aggregator) Handle(ctx context.Context, ev core.ChangeEvent) error {
	adjustments := Plan(ev, a.location)
	if len(adjustments) == 0 {
		a.logger.DebugContext(ctx, "Change does not affect any budget",
			log.FieldTransactionID, ev.TransactionID(),
			log.FieldChangeKind, string(ev.Kind()))
		return nil
	}

	var errs []error
	for _, adj := range adjustments {
		adj.Key = adj.keyFor(ev.ID)
		if _, err := a.Apply(ctx, adj); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch lets the aggregator act as an in-process change sink.
func (a *Aggregator) Dispatch(ctx context.Context, ev core.ChangeEvent) error {
	return a.Handle(ctx, ev)
}
