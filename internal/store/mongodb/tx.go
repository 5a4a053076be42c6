package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// tx binds every operation to a session with an open transaction.
type tx struct {
	s    *Store
	sess mongo.Session
}

func (t *tx) ctx(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

func (t *tx) InsertTransaction(ctx context.Context, tr core.Transaction) error {
	if _, err := t.s.transactions.InsertOne(t.ctx(ctx), toTransactionDoc(tr)); err != nil {
		return fmt.Errorf("insert transaction %s: %w", tr.ID, mapError(err))
	}
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, tr core.Transaction) error {
	set := bson.M{
		"title":       tr.Title,
		"source":      tr.Source,
		"category":    tr.Category,
		"type":        string(tr.Type),
		"amountCents": tr.Amount.Cents,
		"date":        tr.Date,
		"tripId":      tr.TripID,
		"checklistId": tr.ChecklistID,
		"isRecurring": tr.IsRecurring,
		"templateId":  tr.TemplateID,
		"updatedAt":   tr.UpdatedAt,
	}
	res, err := t.s.transactions.UpdateOne(t.ctx(ctx), bson.M{"_id": tr.ID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tr.ID, mapError(err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("transaction %s: %w", tr.ID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) DeleteTransaction(ctx context.Context, id string) error {
	res, err := t.s.transactions.DeleteOne(t.ctx(ctx), bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return getTransaction(t.ctx(ctx), t.s.transactions, id)
}

func (t *tx) AdvanceTemplate(ctx context.Context, templateID string, generatedAt time.Time) error {
	res, err := t.s.templates.UpdateOne(t.ctx(ctx),
		bson.M{"_id": templateID},
		bson.M{"$set": bson.M{"lastGeneratedDate": generatedAt}})
	if err != nil {
		return fmt.Errorf("advance template %s: %w", templateID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("template %s: %w", templateID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) EnqueueChange(ctx context.Context, ev core.ChangeEvent) error {
	seq, err := t.s.nextSeq(t.ctx(ctx), outboxCounter)
	if err != nil {
		return fmt.Errorf("enqueue change: %w", err)
	}
	doc := outboxDoc{
		ID:         uuid.NewString(),
		Seq:        seq,
		EventID:    ev.ID,
		UserID:     ev.UserID,
		Before:     txDocPtr(ev.Before),
		After:      txDocPtr(ev.After),
		OccurredAt: ev.OccurredAt,
		Status:     statusPending,
		CreatedAt:  t.s.now().UTC(),
	}
	if _, err := t.s.outbox.InsertOne(t.ctx(ctx), doc); err != nil {
		return fmt.Errorf("enqueue change: %w", err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	return t.sess.CommitTransaction(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	return t.sess.AbortTransaction(ctx)
}
