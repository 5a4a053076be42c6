package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

var errTxDone = errors.New("unit of work already finished")

// tx applies writes directly while holding the store lock and keeps an
// undo log for Rollback.
type tx struct {
	s    *Store
	undo []func()
	done bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	return ctx.Err()
}

func (t *tx) InsertTransaction(ctx context.Context, tr core.Transaction) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	s := t.s
	if _, ok := s.txs[tr.ID]; ok {
		return fmt.Errorf("transaction %s: %w", tr.ID, store.ErrDuplicate)
	}
	if tr.IdempotencyKey != "" {
		if _, ok := s.txKeys[tr.IdempotencyKey]; ok {
			return fmt.Errorf("idempotency key %s: %w", tr.IdempotencyKey, store.ErrDuplicate)
		}
		s.txKeys[tr.IdempotencyKey] = tr.ID
	}
	s.txs[tr.ID] = tr
	t.undo = append(t.undo, func() {
		delete(s.txs, tr.ID)
		if tr.IdempotencyKey != "" {
			delete(s.txKeys, tr.IdempotencyKey)
		}
	})
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, tr core.Transaction) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	s := t.s
	prev, err := s.getTransaction(tr.ID)
	if err != nil {
		return err
	}
	// The idempotency key belongs to the generation and never changes.
	tr.IdempotencyKey = prev.IdempotencyKey
	s.txs[tr.ID] = tr
	t.undo = append(t.undo, func() { s.txs[prev.ID] = prev })
	return nil
}

func (t *tx) DeleteTransaction(ctx context.Context, id string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	s := t.s
	prev, err := s.getTransaction(id)
	if err != nil {
		return err
	}
	delete(s.txs, id)
	if prev.IdempotencyKey != "" {
		delete(s.txKeys, prev.IdempotencyKey)
	}
	t.undo = append(t.undo, func() {
		s.txs[id] = prev
		if prev.IdempotencyKey != "" {
			s.txKeys[prev.IdempotencyKey] = id
		}
	})
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	if err := t.check(ctx); err != nil {
		return core.Transaction{}, err
	}
	return t.s.getTransaction(id)
}

func (t *tx) AdvanceTemplate(ctx context.Context, templateID string, generatedAt time.Time) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	s := t.s
	prev, ok := s.templates[templateID]
	if !ok {
		return fmt.Errorf("template %s: %w", templateID, store.ErrNotFound)
	}
	next := cloneTemplate(prev)
	marker := generatedAt
	next.LastGeneratedDate = &marker
	s.templates[templateID] = next
	t.undo = append(t.undo, func() { s.templates[templateID] = prev })
	return nil
}

func (t *tx) EnqueueChange(ctx context.Context, ev core.ChangeEvent) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	s := t.s
	ev.Before = cloneTx(ev.Before)
	ev.After = cloneTx(ev.After)
	row := &outboxRow{entry: core.OutboxEntry{
		ID:        uuid.NewString(),
		Event:     ev,
		CreatedAt: s.now().UTC(),
	}}
	s.outbox = append(s.outbox, row)
	t.undo = append(t.undo, func() { s.outbox = s.outbox[:len(s.outbox)-1] })
	return nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errTxDone
	}
	t.finish()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.undo = nil
	t.s.mu.Unlock()
}
