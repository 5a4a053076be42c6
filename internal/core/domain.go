package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Income  TxType = "income"
	Expense TxType = "expense"
)

type (
	Frequency string

	TxType string

	Money struct {
		Cents int64
	}

	// RecurringTemplate is a user-defined rule that produces a Transaction every period.
	RecurringTemplate struct {
		ID                string     `json:"id"`
		UserID            string     `json:"userId"`
		Title             string     `json:"title"`
		Source            string     `json:"source,omitempty"`
		Category          string     `json:"category"`
		Type              TxType     `json:"type"`
		Amount            Money      `json:"amount"`
		Frequency         Frequency  `json:"frequency"`
		StartDate         time.Time  `json:"startDate"`
		LastGeneratedDate *time.Time `json:"lastGeneratedDate,omitempty"`
		IsActive          bool       `json:"isActive"`
		CreatedAt         time.Time  `json:"createdAt"`
	}

	Transaction struct {
		ID             string    `json:"id"`
		UserID         string    `json:"userId"`
		Title          string    `json:"title"`
		Source         string    `json:"source,omitempty"`
		Category       string    `json:"category"`
		Type           TxType    `json:"type"`
		Amount         Money     `json:"amount"`
		Date           time.Time `json:"date"`
		TripID         string    `json:"tripId,omitempty"`
		ChecklistID    string    `json:"checklistId,omitempty"`
		IsRecurring    bool      `json:"isRecurring"`
		TemplateID     string    `json:"templateId,omitempty"`
		IdempotencyKey string    `json:"idempotencyKey,omitempty"`
		CreatedAt      time.Time `json:"createdAt"`
		UpdatedAt      time.Time `json:"updatedAt"`
	}

	// Budget is a per-category, per-month spending cap with a running total.
	Budget struct {
		ID           string    `json:"id"`
		UserID       string    `json:"userId"`
		Category     string    `json:"category"`
		Month        string    `json:"month"` // YYYY-MM
		Limit        Money     `json:"limit"`
		CurrentSpend Money     `json:"currentSpend"`
		UpdatedAt    time.Time `json:"updatedAt"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyCategory    = errors.New("empty category")
	ErrEmptyUser        = errors.New("empty user id")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidMonth     = errors.New("invalid month key")
	ErrZeroDate         = errors.New("date cannot be zero")
)

var monthKeyPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

func (m Money) Neg() Money { return Money{Cents: -m.Cents} }

// StartOfDay truncates t to midnight of its calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// MonthKey returns the YYYY-MM bucket of t in loc.
func MonthKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}

// ValidateMonthKey checks the YYYY-MM format.
func ValidateMonthKey(month string) error {
	if !monthKeyPattern.MatchString(month) {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	return nil
}

func (t RecurringTemplate) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if t.StartDate.IsZero() {
		return errors.New("invalid start date: " + ErrZeroDate.Error())
	}
	if t.LastGeneratedDate != nil && t.LastGeneratedDate.Before(t.StartDate) {
		return errors.New("last generated date must not precede start date")
	}
	if !t.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, t.Frequency)
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	return t.Amount.Validate()
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Title) > 200 {
		return errors.New("title too long (max 200 characters)")
	}
	if t.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if err := ValidateMonthKey(b.Month); err != nil {
		return err
	}
	if b.Limit.Cents < 0 || b.CurrentSpend.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}
