// Package mongodb implements the store ports on MongoDB. Units of work use
// multi-document transactions, so the server must run as a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

const (
	collTemplates    = "recurringTemplates"
	collTransactions = "transactions"
	collBudgets      = "budgets"
	collOutbox       = "changeOutbox"
	collCounters     = "counters"

	outboxCounter = "changeOutbox"
)

type Store struct {
	client       *mongo.Client
	templates    *mongo.Collection
	transactions *mongo.Collection
	budgets      *mongo.Collection
	outbox       *mongo.Collection
	counters     *mongo.Collection
	now          func() time.Time
}

var _ store.Store = (*Store)(nil)

// New connects to uri, pings the server and ensures indexes on dbName.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:       client,
		templates:    db.Collection(collTemplates),
		transactions: db.Collection(collTransactions),
		budgets:      db.Collection(collBudgets),
		outbox:       db.Collection(collOutbox),
		counters:     db.Collection(collCounters),
		now:          time.Now,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if err := s.ensureCounter(ctx, outboxCounter); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	slog.InfoContext(ctx, "Connected to MongoDB", "database", dbName)
	return s, nil
}

// EnsureIndexes creates the unique and lookup indexes every operation relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.transactions, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "idempotencyKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: 1}}},
		}},
		{s.budgets, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "category", Value: 1}, {Key: "month", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
		{s.templates, []mongo.IndexModel{
			{Keys: bson.D{{Key: "isActive", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}}},
		}},
		{s.outbox, []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "seq", Value: 1}}},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Begin implements store.UnitOfWork.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	return &tx{s: s, sess: sess}, nil
}

// Templates

func (s *Store) CreateTemplate(ctx context.Context, t core.RecurringTemplate) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	if _, err := s.templates.InsertOne(ctx, toTemplateDoc(t)); err != nil {
		return fmt.Errorf("insert template %s: %w", t.ID, mapError(err))
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (core.RecurringTemplate, error) {
	var d templateDoc
	if err := s.templates.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("get template %s: %w", id, mapError(err))
	}
	return d.model(), nil
}

func (s *Store) ListTemplates(ctx context.Context, userID string) ([]core.RecurringTemplate, error) {
	return s.findTemplates(ctx, bson.M{"userId": userID})
}

func (s *Store) ListActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	return s.findTemplates(ctx, bson.M{"isActive": true})
}

func (s *Store) findTemplates(ctx context.Context, filter bson.M) ([]core.RecurringTemplate, error) {
	cursor, err := s.templates.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find templates: %w", err)
	}
	var docs []templateDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	out := make([]core.RecurringTemplate, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

// Transactions

func (s *Store) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return getTransaction(ctx, s.transactions, id)
}

func getTransaction(ctx context.Context, coll *mongo.Collection, id string) (core.Transaction, error) {
	var d transactionDoc
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, mapError(err))
	}
	return d.model(), nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	filter := bson.M{"userId": userID, "date": bson.M{"$gte": from, "$lt": to}}
	cursor, err := s.transactions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	out := make([]core.Transaction, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

// Budgets

func (s *Store) CreateBudget(ctx context.Context, b core.Budget) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.now().UTC()
	}
	if _, err := s.budgets.InsertOne(ctx, toBudgetDoc(b)); err != nil {
		return fmt.Errorf("insert budget %s/%s: %w", b.Category, b.Month, mapError(err))
	}
	return nil
}

func budgetFilter(userID, category, month string) bson.M {
	return bson.M{"userId": userID, "category": category, "month": month}
}

func (s *Store) GetBudget(ctx context.Context, userID, category, month string) (core.Budget, error) {
	var d budgetDoc
	if err := s.budgets.FindOne(ctx, budgetFilter(userID, category, month)).Decode(&d); err != nil {
		return core.Budget{}, fmt.Errorf("get budget %s/%s: %w", category, month, mapError(err))
	}
	return d.model(), nil
}

func (s *Store) ListBudgets(ctx context.Context, userID, month string) ([]core.Budget, error) {
	filter := bson.M{"userId": userID}
	if month != "" {
		filter["month"] = month
	}
	opts := options.Find().SetSort(bson.D{{Key: "month", Value: 1}, {Key: "category", Value: 1}})
	cursor, err := s.budgets.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find budgets: %w", err)
	}
	var docs []budgetDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode budgets: %w", err)
	}
	out := make([]core.Budget, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

// IncrementSpend implements store.BudgetStore with a pipeline update, so the
// clamp is evaluated by the server against the current value. An applyKey is
// appended to the budget's appliedKeys in the same update, and the filter
// skips budgets that already hold it.
func (s *Store) IncrementSpend(ctx context.Context, userID, category, month string, delta core.Money, applyKey string) (core.Budget, bool, error) {
	set := bson.D{
		{Key: "currentSpendCents", Value: bson.D{{Key: "$max", Value: bson.A{
			int64(0),
			bson.D{{Key: "$add", Value: bson.A{"$currentSpendCents", delta.Cents}}},
		}}}},
		{Key: "updatedAt", Value: s.now().UTC()},
	}
	filter := budgetFilter(userID, category, month)
	if applyKey != "" {
		filter["appliedKeys"] = bson.M{"$ne": applyKey}
		set = append(set, bson.E{Key: "appliedKeys", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$appliedKeys", bson.A{}}}},
			bson.A{applyKey},
		}}}})
	}
	update := mongo.Pipeline{{{Key: "$set", Value: set}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var d budgetDoc
	err := s.budgets.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if applyKey == "" {
			return core.Budget{}, false, nil
		}
		// Either the budget is missing or the key was already applied.
		b, err := s.GetBudget(ctx, userID, category, month)
		if errors.Is(err, store.ErrNotFound) {
			return core.Budget{}, false, nil
		}
		if err != nil {
			return core.Budget{}, false, err
		}
		return b, true, nil
	}
	if err != nil {
		return core.Budget{}, false, fmt.Errorf("increment budget %s/%s: %w", category, month, err)
	}
	return d.model(), true, nil
}

// Outbox

// ensureCounter creates the counter document outside any transaction, so the
// first EnqueueChange does not have to create the collection.
func (s *Store) ensureCounter(ctx context.Context, name string) error {
	_, err := s.counters.UpdateOne(ctx, bson.M{"_id": name},
		bson.M{"$setOnInsert": bson.M{"seq": int64(0)}}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("create %s counter: %w", name, err)
	}
	return nil
}

// nextSeq returns the next value of the named counter. Called inside a unit
// of work, the increment commits or aborts with the entry it numbers.
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s sequence: %w", name, err)
	}
	return doc.Seq, nil
}

func (s *Store) DequeueChanges(ctx context.Context, limit int) ([]core.OutboxEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := s.outbox.Find(ctx, bson.M{"status": statusPending}, opts)
	if err != nil {
		return nil, fmt.Errorf("find outbox entries: %w", err)
	}
	var docs []outboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode outbox entries: %w", err)
	}
	out := make([]core.OutboxEntry, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

func (s *Store) MarkChangeDone(ctx context.Context, id string) error {
	res, err := s.outbox.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": statusDone}})
	if err != nil {
		return fmt.Errorf("mark change done: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("outbox entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkChangeFailed(ctx context.Context, id string, cause error, maxAttempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	next := bson.D{{Key: "$add", Value: bson.A{"$attempts", 1}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "attempts", Value: next},
			{Key: "lastError", Value: msg},
			{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{next, maxAttempts}}},
				statusParked,
				statusPending,
			}}}},
		}}},
	}
	res, err := s.outbox.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mark change failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("outbox entry %s: %w", id, store.ErrNotFound)
	}
	slog.WarnContext(ctx, "Outbox entry failed", "outbox_id", id, "error", msg)
	return nil
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	default:
		return err
	}
}
