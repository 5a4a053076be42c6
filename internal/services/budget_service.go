package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// BudgetInput carries the fields of a new budget.
type BudgetInput struct {
	Category string     `json:"category"`
	Month    string     `json:"month"`
	Limit    core.Money `json:"limit"`
}

// BudgetView is a budget with its usage against the limit.
type BudgetView struct {
	core.Budget
	Remaining core.Money `json:"remaining"`
	Percent   float64    `json:"percent"`
	Exceeded  bool       `json:"exceeded"`
}

func newBudgetView(b core.Budget) BudgetView {
	p := b.Progress()
	return BudgetView{Budget: b, Remaining: p.Remaining, Percent: p.Percent, Exceeded: p.Exceeded}
}

// BudgetService creates and reads budgets. Running spend is only ever
// changed by the aggregator.
type BudgetService struct {
	store  store.BudgetStore
	now    func() time.Time
	logger *log.Logger
}

func NewBudgetService(s store.BudgetStore, logger *log.Logger) *BudgetService {
	if logger == nil {
		logger = log.Default(log.ComponentBudget)
	}
	return &BudgetService{
		store:  s,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentBudget),
	}
}

// Create stores a budget with zero spend. A second budget for the same
// category and month fails with store.ErrDuplicate.
func (s *BudgetService) Create(ctx context.Context, userID string, in BudgetInput) (BudgetView, error) {
	b := core.Budget{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  strings.TrimSpace(in.Category),
		Month:     strings.TrimSpace(in.Month),
		Limit:     in.Limit,
		UpdatedAt: s.now().UTC(),
	}
	if err := b.Validate(); err != nil {
		return BudgetView{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := s.store.CreateBudget(ctx, b); err != nil {
		return BudgetView{}, fmt.Errorf("create budget: %w", err)
	}

	s.logger.InfoContext(ctx, "Budget created",
		log.NewFields().WithBudget(userID, b.Category, b.Month).ToSlice()...)
	return newBudgetView(b), nil
}

// Get returns the budget for category and month.
func (s *BudgetService) Get(ctx context.Context, userID, category, month string) (BudgetView, error) {
	if err := core.ValidateMonthKey(month); err != nil {
		return BudgetView{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	b, err := s.store.GetBudget(ctx, userID, category, month)
	if err != nil {
		return BudgetView{}, err
	}
	return newBudgetView(b), nil
}

// List returns the user's budgets, restricted to month when it is set.
func (s *BudgetService) List(ctx context.Context, userID, month string) ([]BudgetView, error) {
	if month != "" {
		if err := core.ValidateMonthKey(month); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	budgets, err := s.store.ListBudgets(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	views := make([]BudgetView, 0, len(budgets))
	for _, b := range budgets {
		views = append(views, newBudgetView(b))
	}
	return views, nil
}
