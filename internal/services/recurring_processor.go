package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/recurrence"
	"fintrack/internal/store"
)

// DefaultSweepConcurrency bounds how many templates are generated at once.
const DefaultSweepConcurrency = 4

// SweepReport summarises one pass over the active templates.
type SweepReport struct {
	Checked    int `json:"checked"`
	Due        int `json:"due"`
	Generated  int `json:"generated"`
	NotDue     int `json:"notDue"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// RecurringStore is what the processor needs from a backend.
type RecurringStore interface {
	store.TemplateStore
	store.UnitOfWork
}

// RecurringProcessor creates transactions from due recurring templates.
type RecurringProcessor struct {
	store       RecurringStore
	evaluator   recurrence.Evaluator
	concurrency int
	logger      *log.Logger
}

// NewRecurringProcessor creates a processor. concurrency <= 0 uses
// DefaultSweepConcurrency.
func NewRecurringProcessor(s RecurringStore, evaluator recurrence.Evaluator, concurrency int, logger *log.Logger) *RecurringProcessor {
	if concurrency <= 0 {
		concurrency = DefaultSweepConcurrency
	}
	if logger == nil {
		logger = log.Default(log.ComponentRecurring)
	}
	return &RecurringProcessor{
		store:       s,
		evaluator:   evaluator,
		concurrency: concurrency,
		logger:      logger.WithComponent(log.ComponentRecurring),
	}
}

type outcome int

const (
	outcomeGenerated outcome = iota
	outcomeDuplicate
	outcomeFailed
)

// ProcessDue generates one transaction for every template due at now.
// A failing template is logged and counted; only listing the templates can
// fail the sweep as a whole.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	if p.store == nil {
		return report, fmt.Errorf("processor not properly initialized")
	}

	templates, err := p.store.ListActiveTemplates(ctx)
	if err != nil {
		return report, fmt.Errorf("list active templates: %w", err)
	}
	report.Checked = len(templates)

	p.logger.InfoContext(ctx, "Processing recurring templates",
		"total_active", len(templates),
		"processing_date", now.Format(time.DateOnly))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.concurrency)

	for _, tpl := range templates {
		res := p.evaluator.Evaluate(tpl, now)
		switch res.Status {
		case recurrence.NotDue:
			report.NotDue++
			p.logger.DebugContext(ctx, "Template not due",
				log.FieldTemplateID, tpl.ID,
				log.FieldReason, res.Reason,
				"next_date", res.NextDate.Format(time.DateOnly))
			continue
		case recurrence.Invalid:
			report.Invalid++
			p.logger.WarnContext(ctx, "Skipping unusable template",
				log.FieldTemplateID, tpl.ID,
				log.FieldReason, res.Reason)
			continue
		}

		report.Due++
		g.Go(func() error {
			o := p.generateIsolated(ctx, tpl, res, now)
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeGenerated:
				report.Generated++
			case outcomeDuplicate:
				report.Duplicates++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.InfoContext(ctx, "Recurring template processing complete",
		"checked", report.Checked,
		"generated", report.Generated,
		"duplicates", report.Duplicates,
		"failed", report.Failed)

	return report, nil
}

// generateIsolated runs generate and turns panics into failures.
func (p *RecurringProcessor) generateIsolated(ctx context.Context, tpl core.RecurringTemplate, res recurrence.Result, now time.Time) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "Panic while generating from template",
				log.FieldTemplateID, tpl.ID,
				"panic", fmt.Sprint(r))
			o = outcomeFailed
		}
	}()

	err := p.generate(ctx, tpl, res, now)
	switch {
	case err == nil:
		return outcomeGenerated
	case errors.Is(err, store.ErrDuplicate):
		p.logger.InfoContext(ctx, "Occurrence already generated, skipping",
			log.FieldTemplateID, tpl.ID,
			"occurrence", res.Occurrence.Format(time.DateOnly))
		return outcomeDuplicate
	default:
		p.logger.ErrorContext(ctx, "Failed to create transaction from recurring template",
			log.FieldTemplateID, tpl.ID,
			log.FieldError, err)
		return outcomeFailed
	}
}

// generate inserts the transaction, advances the marker and enqueues the
// change event in one unit of work.
func (p *RecurringProcessor) generate(ctx context.Context, tpl core.RecurringTemplate, res recurrence.Result, now time.Time) error {
	tx := TransactionFromTemplate(tpl, res.Occurrence, now)
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	err := store.RunInTx(ctx, p.store, func(ctx context.Context, t store.Tx) error {
		if err := t.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		if err := t.AdvanceTemplate(ctx, tpl.ID, now); err != nil {
			return err
		}
		return t.EnqueueChange(ctx, core.ChangeEvent{
			ID:         uuid.NewString(),
			UserID:     tx.UserID,
			After:      &tx,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Created transaction from recurring template",
		log.FieldTemplateID, tpl.ID,
		log.FieldTransactionID, tx.ID,
		log.FieldAmountCents, tx.Amount.Cents,
		log.FieldFrequency, string(tpl.Frequency))
	return nil
}

// TransactionFromTemplate builds the transaction a template generates at now
// for the given occurrence day.
func TransactionFromTemplate(tpl core.RecurringTemplate, occurrence, now time.Time) core.Transaction {
	return core.Transaction{
		ID:             uuid.NewString(),
		UserID:         tpl.UserID,
		Title:          tpl.Title,
		Source:         tpl.Source,
		Category:       tpl.Category,
		Type:           tpl.Type,
		Amount:         tpl.Amount,
		Date:           now,
		IsRecurring:    true,
		TemplateID:     tpl.ID,
		IdempotencyKey: recurrence.OccurrenceKey(tpl.ID, occurrence),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
