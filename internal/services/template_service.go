package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/recurrence"
	"fintrack/internal/store"
)

// TemplateInput carries the fields of a new recurring template.
type TemplateInput struct {
	Title     string         `json:"title"`
	Source    string         `json:"source,omitempty"`
	Category  string         `json:"category"`
	Type      core.TxType    `json:"type"`
	Amount    core.Money     `json:"amount"`
	Frequency core.Frequency `json:"frequency"`
	StartDate time.Time      `json:"startDate"`
}

// TemplateView is a template together with its next eligible day.
type TemplateView struct {
	core.RecurringTemplate
	NextDate *time.Time `json:"nextDate,omitempty"`
}

// TemplateService creates and lists recurring templates.
type TemplateService struct {
	store     store.TemplateStore
	evaluator recurrence.Evaluator
	now       func() time.Time
	logger    *log.Logger
}

func NewTemplateService(s store.TemplateStore, evaluator recurrence.Evaluator, logger *log.Logger) *TemplateService {
	if logger == nil {
		logger = log.Default(log.ComponentRecurring)
	}
	return &TemplateService{
		store:     s,
		evaluator: evaluator,
		now:       time.Now,
		logger:    logger.WithComponent(log.ComponentRecurring),
	}
}

// Create validates in and stores an active template. Templates the
// evaluator could never fire are rejected here.
func (s *TemplateService) Create(ctx context.Context, userID string, in TemplateInput) (core.RecurringTemplate, error) {
	tpl := core.RecurringTemplate{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(in.Title),
		Source:    strings.TrimSpace(in.Source),
		Category:  strings.TrimSpace(in.Category),
		Type:      in.Type,
		Amount:    in.Amount,
		Frequency: core.Frequency(strings.ToLower(string(in.Frequency))),
		StartDate: in.StartDate,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := tpl.Validate(); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("create template: %w", err)
	}

	s.logger.InfoContext(ctx, "Recurring template created",
		log.FieldTemplateID, tpl.ID,
		log.FieldUserID, userID,
		log.FieldCategory, tpl.Category,
		log.FieldFrequency, string(tpl.Frequency))
	return tpl, nil
}

// List returns the user's templates with their next eligible day.
func (s *TemplateService) List(ctx context.Context, userID string) ([]TemplateView, error) {
	tpls, err := s.store.ListTemplates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	views := make([]TemplateView, 0, len(tpls))
	for _, tpl := range tpls {
		v := TemplateView{RecurringTemplate: tpl}
		if next, ok := s.evaluator.NextDate(tpl); ok && tpl.IsActive {
			v.NextDate = &next
		}
		views = append(views, v)
	}
	return views, nil
}
