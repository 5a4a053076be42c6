package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

type budgetKey struct {
	userID, category, month string
}

type outboxRow struct {
	entry  core.OutboxEntry
	done   bool
	parked bool
}

// Store keeps every document in process memory. A unit of work holds the
// store lock until it commits or rolls back, so units of work are serialized.
type Store struct {
	mu        sync.Mutex
	templates map[string]core.RecurringTemplate
	txs       map[string]core.Transaction
	txKeys    map[string]string // idempotency key -> transaction id
	budgets   map[budgetKey]core.Budget
	applied   map[string]struct{} // adjustment keys already counted
	outbox    []*outboxRow
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		templates: map[string]core.RecurringTemplate{},
		txs:       map[string]core.Transaction{},
		txKeys:    map[string]string{},
		budgets:   map[budgetKey]core.Budget{},
		applied:   map[string]struct{}{},
		now:       time.Now,
	}
}

// Seed is the on-disk format accepted by NewFromFile.
type Seed struct {
	Templates []core.RecurringTemplate `json:"templates"`
	Budgets   []core.Budget            `json:"budgets"`
}

// NewFromFile creates a store seeded from base/seed.json. A missing file
// yields an empty store.
func NewFromFile(base string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(filepath.Join(base, "seed.json"))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	ctx := context.Background()
	for _, t := range seed.Templates {
		if err := s.CreateTemplate(ctx, t); err != nil {
			return nil, fmt.Errorf("seed template %s: %w", t.ID, err)
		}
	}
	for _, b := range seed.Budgets {
		if err := s.CreateBudget(ctx, b); err != nil {
			return nil, fmt.Errorf("seed budget %s/%s: %w", b.Category, b.Month, err)
		}
	}
	return s, nil
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

// Begin implements store.UnitOfWork.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &tx{s: s}, nil
}

func (s *Store) CreateTemplate(_ context.Context, t core.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; ok {
		return fmt.Errorf("template %s: %w", t.ID, store.ErrDuplicate)
	}
	s.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return core.RecurringTemplate{}, fmt.Errorf("template %s: %w", id, store.ErrNotFound)
	}
	return cloneTemplate(t), nil
}

func (s *Store) ListTemplates(_ context.Context, userID string) ([]core.RecurringTemplate, error) {
	return s.filterTemplates(func(t core.RecurringTemplate) bool { return t.UserID == userID }), nil
}

func (s *Store) ListActiveTemplates(_ context.Context) ([]core.RecurringTemplate, error) {
	return s.filterTemplates(func(t core.RecurringTemplate) bool { return t.IsActive }), nil
}

func (s *Store) filterTemplates(keep func(core.RecurringTemplate) bool) []core.RecurringTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RecurringTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		if keep(t) {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTransaction(id)
}

func (s *Store) getTransaction(id string) (core.Transaction, error) {
	t, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return t, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.txs {
		if t.UserID == userID && !t.Date.Before(from) && t.Date.Before(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) CreateBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := budgetKey{b.UserID, b.Category, b.Month}
	if _, ok := s.budgets[k]; ok {
		return fmt.Errorf("budget %s/%s: %w", b.Category, b.Month, store.ErrDuplicate)
	}
	s.budgets[k] = b
	return nil
}

func (s *Store) GetBudget(_ context.Context, userID, category, month string) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[budgetKey{userID, category, month}]
	if !ok {
		return core.Budget{}, fmt.Errorf("budget %s/%s: %w", category, month, store.ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListBudgets(_ context.Context, userID, month string) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Budget
	for k, b := range s.budgets {
		if k.userID == userID && (month == "" || k.month == month) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// IncrementSpend implements store.BudgetStore. The key check, read and write
// happen under one lock acquisition.
func (s *Store) IncrementSpend(_ context.Context, userID, category, month string, delta core.Money, applyKey string) (core.Budget, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := budgetKey{userID, category, month}
	b, ok := s.budgets[k]
	if !ok {
		return core.Budget{}, false, nil
	}
	if applyKey != "" {
		if _, done := s.applied[applyKey]; done {
			return b, true, nil
		}
		s.applied[applyKey] = struct{}{}
	}
	b.CurrentSpend = b.CurrentSpend.Add(delta)
	if b.CurrentSpend.Cents < 0 {
		b.CurrentSpend = core.Money{}
	}
	b.UpdatedAt = s.now().UTC()
	s.budgets[k] = b
	return b, true, nil
}

func (s *Store) DequeueChanges(_ context.Context, limit int) ([]core.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.OutboxEntry
	for _, row := range s.outbox {
		if len(out) >= limit {
			break
		}
		if row.done || row.parked {
			continue
		}
		out = append(out, row.entry)
	}
	return out, nil
}

func (s *Store) MarkChangeDone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.outboxRow(id)
	if err != nil {
		return err
	}
	row.done = true
	return nil
}

func (s *Store) MarkChangeFailed(_ context.Context, id string, cause error, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.outboxRow(id)
	if err != nil {
		return err
	}
	row.entry.Attempts++
	if cause != nil {
		row.entry.LastError = cause.Error()
	}
	if row.entry.Attempts >= maxAttempts {
		row.parked = true
	}
	return nil
}

// PendingChanges returns the number of entries not yet relayed.
func (s *Store) PendingChanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.outbox {
		if !row.done && !row.parked {
			n++
		}
	}
	return n
}

func (s *Store) outboxRow(id string) (*outboxRow, error) {
	for _, row := range s.outbox {
		if row.entry.ID == id {
			return row, nil
		}
	}
	return nil, fmt.Errorf("outbox entry %s: %w", id, store.ErrNotFound)
}

func cloneTemplate(t core.RecurringTemplate) core.RecurringTemplate {
	if t.LastGeneratedDate != nil {
		v := *t.LastGeneratedDate
		t.LastGeneratedDate = &v
	}
	return t
}

func cloneTx(t *core.Transaction) *core.Transaction {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
