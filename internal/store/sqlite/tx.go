package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
)

// tx wraps a database transaction as a store.Tx.
type tx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *tx) InsertTransaction(ctx context.Context, tr core.Transaction) error {
	var key sql.NullString
	if tr.IdempotencyKey != "" {
		key = sql.NullString{String: tr.IdempotencyKey, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.UserID, tr.Title, tr.Source, tr.Category, string(tr.Type), tr.Amount.Cents,
		formatTime(tr.Date), tr.TripID, tr.ChecklistID, tr.IsRecurring, tr.TemplateID, key,
		formatTime(tr.CreatedAt), formatTime(tr.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tr.ID, mapError(err))
	}
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, tr core.Transaction) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE transactions
		SET title = ?, source = ?, category = ?, type = ?, amount_cents = ?, date = ?,
		    trip_id = ?, checklist_id = ?, is_recurring = ?, template_id = ?, updated_at = ?
		WHERE id = ?`,
		tr.Title, tr.Source, tr.Category, string(tr.Type), tr.Amount.Cents, formatTime(tr.Date),
		tr.TripID, tr.ChecklistID, tr.IsRecurring, tr.TemplateID, formatTime(tr.UpdatedAt), tr.ID)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tr.ID, mapError(err))
	}
	return expectOne(res, "transaction", tr.ID)
}

func (t *tx) DeleteTransaction(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return expectOne(res, "transaction", id)
}

func (t *tx) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *tx) AdvanceTemplate(ctx context.Context, templateID string, generatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE templates SET last_generated_date = ? WHERE id = ?`,
		formatTime(generatedAt), templateID)
	if err != nil {
		return fmt.Errorf("advance template %s: %w", templateID, err)
	}
	return expectOne(res, "template", templateID)
}

func (t *tx) EnqueueChange(ctx context.Context, ev core.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO change_outbox (id, user_id, payload, created_at)
		VALUES (?, ?, ?, ?)`, uuid.NewString(), ev.UserID, string(payload), formatTime(t.now()))
	if err != nil {
		return fmt.Errorf("enqueue change: %w", err)
	}
	return nil
}

func (t *tx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
