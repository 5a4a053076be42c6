// Package store defines the persistence ports shared by every backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/core"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (idempotency key, budget key) already exists.
	ErrDuplicate = errors.New("duplicate key")
)

// Ports for outbound adapters.
type (
	// Tx is a unit of work. Writes become visible together on Commit and are
	// discarded on Rollback.
	Tx interface {
		InsertTransaction(ctx context.Context, t core.Transaction) error
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id string) error
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		// AdvanceTemplate sets the template's last generated marker.
		AdvanceTemplate(ctx context.Context, templateID string, generatedAt time.Time) error
		// EnqueueChange records a change event for the budget aggregator.
		EnqueueChange(ctx context.Context, ev core.ChangeEvent) error
		Commit(ctx context.Context) error
		Rollback(ctx context.Context) error
	}

	UnitOfWork interface {
		Begin(ctx context.Context) (Tx, error)
	}

	TemplateStore interface {
		CreateTemplate(ctx context.Context, t core.RecurringTemplate) error
		GetTemplate(ctx context.Context, id string) (core.RecurringTemplate, error)
		ListTemplates(ctx context.Context, userID string) ([]core.RecurringTemplate, error)
		// ListActiveTemplates returns active templates of every user, for the daily sweep.
		ListActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error)
	}

	TransactionReader interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		// ListTransactions returns a user's transactions dated in [from, to),
		// oldest first.
		ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error)
	}

	BudgetStore interface {
		CreateBudget(ctx context.Context, b core.Budget) error
		GetBudget(ctx context.Context, userID, category, month string) (core.Budget, error)
		ListBudgets(ctx context.Context, userID, month string) ([]core.Budget, error)
		// IncrementSpend atomically sets CurrentSpend to max(0, CurrentSpend+delta)
		// on the budget keyed by (userID, category, month). found is false when
		// no such budget exists; that is not an error.
		//
		// A non-empty applyKey is recorded together with the update, and a key
		// seen before leaves the spend untouched and returns the current budget.
		IncrementSpend(ctx context.Context, userID, category, month string, delta core.Money, applyKey string) (b core.Budget, found bool, err error)
	}

	Outbox interface {
		// DequeueChanges returns up to limit pending entries, oldest first.
		DequeueChanges(ctx context.Context, limit int) ([]core.OutboxEntry, error)
		MarkChangeDone(ctx context.Context, id string) error
		// MarkChangeFailed records a failed attempt; the entry is parked once
		// its attempts reach maxAttempts.
		MarkChangeFailed(ctx context.Context, id string, cause error, maxAttempts int) error
	}

	// Store is the full backend handle owned by a process.
	Store interface {
		UnitOfWork
		TemplateStore
		TransactionReader
		BudgetStore
		Outbox
		Close(ctx context.Context) error
	}
)

// RunInTx runs fn inside a unit of work, committing on success and rolling
// back on error or panic.
func RunInTx(ctx context.Context, uow UnitOfWork, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MonthRange returns the [start, end) instants of a YYYY-MM key in loc, UTC
// when nil. The bounds match the month buckets budgets are kept in.
func MonthRange(month string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01", month, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidMonth, month)
	}
	return start, start.AddDate(0, 1, 0), nil
}
