package mongodb

import (
	"time"

	"fintrack/internal/core"
)

// Document shapes stored in MongoDB. Amounts are integer cents.

type templateDoc struct {
	ID                string     `bson:"_id"`
	UserID            string     `bson:"userId"`
	Title             string     `bson:"title"`
	Source            string     `bson:"source,omitempty"`
	Category          string     `bson:"category"`
	Type              string     `bson:"type"`
	AmountCents       int64      `bson:"amountCents"`
	Frequency         string     `bson:"frequency"`
	StartDate         time.Time  `bson:"startDate"`
	LastGeneratedDate *time.Time `bson:"lastGeneratedDate,omitempty"`
	IsActive          bool       `bson:"isActive"`
	CreatedAt         time.Time  `bson:"createdAt"`
}

type transactionDoc struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"userId"`
	Title          string    `bson:"title"`
	Source         string    `bson:"source,omitempty"`
	Category       string    `bson:"category"`
	Type           string    `bson:"type"`
	AmountCents    int64     `bson:"amountCents"`
	Date           time.Time `bson:"date"`
	TripID         string    `bson:"tripId,omitempty"`
	ChecklistID    string    `bson:"checklistId,omitempty"`
	IsRecurring    bool      `bson:"isRecurring"`
	TemplateID     string    `bson:"templateId,omitempty"`
	IdempotencyKey string    `bson:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

type budgetDoc struct {
	ID                string    `bson:"_id"`
	UserID            string    `bson:"userId"`
	Category          string    `bson:"category"`
	Month             string    `bson:"month"`
	LimitCents        int64     `bson:"limitCents"`
	CurrentSpendCents int64     `bson:"currentSpendCents"`
	AppliedKeys       []string  `bson:"appliedKeys,omitempty"`
	UpdatedAt         time.Time `bson:"updatedAt"`
}

type outboxDoc struct {
	ID         string          `bson:"_id"`
	Seq        int64           `bson:"seq"`
	EventID    string          `bson:"eventId,omitempty"`
	UserID     string          `bson:"userId"`
	Before     *transactionDoc `bson:"before,omitempty"`
	After      *transactionDoc `bson:"after,omitempty"`
	OccurredAt time.Time       `bson:"occurredAt"`
	Status     string          `bson:"status"`
	Attempts   int             `bson:"attempts"`
	LastError  string          `bson:"lastError,omitempty"`
	CreatedAt  time.Time       `bson:"createdAt"`
}

const (
	statusPending = "pending"
	statusDone    = "done"
	statusParked  = "parked"
)

func toTemplateDoc(t core.RecurringTemplate) templateDoc {
	return templateDoc{
		ID:                t.ID,
		UserID:            t.UserID,
		Title:             t.Title,
		Source:            t.Source,
		Category:          t.Category,
		Type:              string(t.Type),
		AmountCents:       t.Amount.Cents,
		Frequency:         string(t.Frequency),
		StartDate:         t.StartDate,
		LastGeneratedDate: t.LastGeneratedDate,
		IsActive:          t.IsActive,
		CreatedAt:         t.CreatedAt,
	}
}

func (d templateDoc) model() core.RecurringTemplate {
	return core.RecurringTemplate{
		ID:                d.ID,
		UserID:            d.UserID,
		Title:             d.Title,
		Source:            d.Source,
		Category:          d.Category,
		Type:              core.TxType(d.Type),
		Amount:            core.Money{Cents: d.AmountCents},
		Frequency:         core.Frequency(d.Frequency),
		StartDate:         d.StartDate.UTC(),
		LastGeneratedDate: utcPtr(d.LastGeneratedDate),
		IsActive:          d.IsActive,
		CreatedAt:         d.CreatedAt.UTC(),
	}
}

func toTransactionDoc(t core.Transaction) transactionDoc {
	return transactionDoc{
		ID:             t.ID,
		UserID:         t.UserID,
		Title:          t.Title,
		Source:         t.Source,
		Category:       t.Category,
		Type:           string(t.Type),
		AmountCents:    t.Amount.Cents,
		Date:           t.Date,
		TripID:         t.TripID,
		ChecklistID:    t.ChecklistID,
		IsRecurring:    t.IsRecurring,
		TemplateID:     t.TemplateID,
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (d transactionDoc) model() core.Transaction {
	return core.Transaction{
		ID:             d.ID,
		UserID:         d.UserID,
		Title:          d.Title,
		Source:         d.Source,
		Category:       d.Category,
		Type:           core.TxType(d.Type),
		Amount:         core.Money{Cents: d.AmountCents},
		Date:           d.Date.UTC(),
		TripID:         d.TripID,
		ChecklistID:    d.ChecklistID,
		IsRecurring:    d.IsRecurring,
		TemplateID:     d.TemplateID,
		IdempotencyKey: d.IdempotencyKey,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

func toBudgetDoc(b core.Budget) budgetDoc {
	return budgetDoc{
		ID:                b.ID,
		UserID:            b.UserID,
		Category:          b.Category,
		Month:             b.Month,
		LimitCents:        b.Limit.Cents,
		CurrentSpendCents: b.CurrentSpend.Cents,
		UpdatedAt:         b.UpdatedAt,
	}
}

func (d budgetDoc) model() core.Budget {
	return core.Budget{
		ID:           d.ID,
		UserID:       d.UserID,
		Category:     d.Category,
		Month:        d.Month,
		Limit:        core.Money{Cents: d.LimitCents},
		CurrentSpend: core.Money{Cents: d.CurrentSpendCents},
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (d outboxDoc) model() core.OutboxEntry {
	ev := core.ChangeEvent{
		ID:         d.EventID,
		UserID:     d.UserID,
		OccurredAt: d.OccurredAt.UTC(),
	}
	if d.Before != nil {
		b := d.Before.model()
		ev.Before = &b
	}
	if d.After != nil {
		a := d.After.model()
		ev.After = &a
	}
	return core.OutboxEntry{
		ID:        d.ID,
		Event:     ev,
		Attempts:  d.Attempts,
		LastError: d.LastError,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func txDocPtr(t *core.Transaction) *transactionDoc {
	if t == nil {
		return nil
	}
	d := toTransactionDoc(*t)
	return &d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
