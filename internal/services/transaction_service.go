package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// ErrInvalidInput marks errors caused by caller-supplied data.
var ErrInvalidInput = errors.New("invalid input")

// TransactionInput carries the user-editable fields of a transaction.
type TransactionInput struct {
	Title       string      `json:"title"`
	Source      string      `json:"source,omitempty"`
	Category    string      `json:"category"`
	Type        core.TxType `json:"type"`
	Amount      core.Money  `json:"amount"`
	Date        time.Time   `json:"date"`
	TripID      string      `json:"tripId,omitempty"`
	ChecklistID string      `json:"checklistId,omitempty"`
}

// TransactionStore is what the service needs from a backend.
type TransactionStore interface {
	store.UnitOfWork
	store.TransactionReader
}

// TransactionService writes transactions together with their change events.
type TransactionService struct {
	store    TransactionStore
	now      func() time.Time
	location *time.Location
	logger   *log.StructuredLogger
}

func NewTransactionService(s TransactionStore, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Default(log.ComponentTransaction)
	}
	return &TransactionService{
		store:    s,
		now:      time.Now,
		location: time.UTC,
		logger:   log.NewStructuredLogger(logger),
	}
}

// WithLocation sets the timezone List buckets months in. It should match the
// budget aggregator's, so a month lists the transactions its budgets count.
func (s *TransactionService) WithLocation(loc *time.Location) *TransactionService {
	if loc != nil {
		s.location = loc
	}
	return s
}

// Create validates in, stores a new transaction and enqueues a create event.
func (s *TransactionService) Create(ctx context.Context, userID string, in TransactionInput) (core.Transaction, error) {
	now := s.now().UTC()
	tx := applyInput(core.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
	}, in, now)
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	err := store.RunInTx(ctx, s.store, func(ctx context.Context, t store.Tx) error {
		if err := t.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return t.EnqueueChange(ctx, changeEvent(userID, nil, &tx, now))
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	s.logger.LogTransactionWritten(ctx, log.OpCreate, tx.ID, userID, tx.Category, tx.Amount.Cents)
	return tx, nil
}

// Update replaces the editable fields of transaction id. Recurrence linkage
// is preserved.
func (s *TransactionService) Update(ctx context.Context, userID, id string, in TransactionInput) (core.Transaction, error) {
	now := s.now().UTC()
	var after core.Transaction

	err := store.RunInTx(ctx, s.store, func(ctx context.Context, t store.Tx) error {
		before, err := t.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if before.UserID != userID {
			return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
		}

		after = applyInput(before, in, now)
		if err := after.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if err := t.UpdateTransaction(ctx, after); err != nil {
			return err
		}
		return t.EnqueueChange(ctx, changeEvent(userID, &before, &after, now))
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	s.logger.LogTransactionWritten(ctx, log.OpUpdate, after.ID, userID, after.Category, after.Amount.Cents)
	return after, nil
}

// Delete removes transaction id and enqueues a delete event.
func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	now := s.now().UTC()
	var before core.Transaction

	err := store.RunInTx(ctx, s.store, func(ctx context.Context, t store.Tx) error {
		var err error
		before, err = t.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if before.UserID != userID {
			return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
		}
		if err := t.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		return t.EnqueueChange(ctx, changeEvent(userID, &before, nil, now))
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.logger.LogTransactionWritten(ctx, log.OpDelete, id, userID, before.Category, before.Amount.Cents)
	return nil
}

// Get returns a transaction owned by userID.
func (s *TransactionService) Get(ctx context.Context, userID, id string) (core.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx.UserID != userID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return tx, nil
}

// List returns the user's transactions dated within month (YYYY-MM) in the
// service's location.
func (s *TransactionService) List(ctx context.Context, userID, month string) ([]core.Transaction, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	from, to, err := store.MonthRange(month, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.store.ListTransactions(ctx, userID, from, to)
}

func applyInput(tx core.Transaction, in TransactionInput, now time.Time) core.Transaction {
	tx.Title = strings.TrimSpace(in.Title)
	tx.Source = strings.TrimSpace(in.Source)
	tx.Category = strings.TrimSpace(in.Category)
	tx.Type = in.Type
	tx.Amount = in.Amount
	tx.Date = in.Date
	tx.TripID = in.TripID
	tx.ChecklistID = in.ChecklistID
	tx.UpdatedAt = now
	return tx
}

func changeEvent(userID string, before, after *core.Transaction, now time.Time) core.ChangeEvent {
	return core.ChangeEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Before:     before,
		After:      after,
		OccurredAt: now,
	}
}
