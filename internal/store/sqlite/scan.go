package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fintrack/internal/core"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id, user_id, title, source, category, type, amount_cents, date,
	trip_id, checklist_id, is_recurring, template_id, idempotency_key, created_at, updated_at`

func getTransaction(ctx context.Context, q querier, id string) (core.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, mapError(err))
	}
	return t, nil
}

func scanTransaction(sc scanner) (core.Transaction, error) {
	var (
		t                      core.Transaction
		txType                 string
		date, created, updated string
		key                    sql.NullString
	)
	err := sc.Scan(&t.ID, &t.UserID, &t.Title, &t.Source, &t.Category, &txType, &t.Amount.Cents, &date,
		&t.TripID, &t.ChecklistID, &t.IsRecurring, &t.TemplateID, &key, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TxType(txType)
	t.IdempotencyKey = key.String
	if t.Date, err = parseTime(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse date: %w", err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Transaction{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return t, nil
}

func scanTemplate(sc scanner) (core.RecurringTemplate, error) {
	var (
		t              core.RecurringTemplate
		txType, freq   string
		start, created string
		last           sql.NullString
	)
	err := sc.Scan(&t.ID, &t.UserID, &t.Title, &t.Source, &t.Category, &txType, &t.Amount.Cents, &freq,
		&start, &last, &t.IsActive, &created)
	if err != nil {
		return core.RecurringTemplate{}, err
	}
	t.Type = core.TxType(txType)
	t.Frequency = core.Frequency(freq)
	if t.StartDate, err = parseTime(start); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse start_date: %w", err)
	}
	if last.Valid {
		marker, err := parseTime(last.String)
		if err != nil {
			return core.RecurringTemplate{}, fmt.Errorf("parse last_generated_date: %w", err)
		}
		t.LastGeneratedDate = &marker
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}

func scanBudget(sc scanner) (core.Budget, error) {
	var (
		b       core.Budget
		updated string
	)
	if err := sc.Scan(&b.ID, &b.UserID, &b.Category, &b.Month, &b.Limit.Cents, &b.CurrentSpend.Cents, &updated); err != nil {
		return core.Budget{}, err
	}
	var err error
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Budget{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return b, nil
}

func scanOutboxEntry(sc scanner) (core.OutboxEntry, error) {
	var (
		e                core.OutboxEntry
		payload, created string
	)
	if err := sc.Scan(&e.ID, &payload, &e.Attempts, &e.LastError, &created); err != nil {
		return core.OutboxEntry{}, err
	}
	if err := json.Unmarshal([]byte(payload), &e.Event); err != nil {
		return core.OutboxEntry{}, fmt.Errorf("decode payload: %w", err)
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return core.OutboxEntry{}, fmt.Errorf("parse created_at: %w", err)
	}
	return e, nil
}
