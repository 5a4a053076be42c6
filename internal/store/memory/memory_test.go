package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

func sampleTx(id, key string) core.Transaction {
	return core.Transaction{
		ID:             id,
		UserID:         "u1",
		Category:       "Food",
		Type:           core.Expense,
		Amount:         core.Money{Cents: 1500},
		Date:           time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		IdempotencyKey: key,
	}
}

func TestRunInTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, sampleTx("t1", "k1")); err != nil {
			return err
		}
		return tx.EnqueueChange(ctx, core.ChangeEvent{UserID: "u1", After: &core.Transaction{ID: "t1"}})
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	boom := errors.New("boom")
	err = store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, sampleTx("t2", "k2")); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, "t1"); err != nil {
			return err
		}
		if err := tx.EnqueueChange(ctx, core.ChangeEvent{UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.GetTransaction(ctx, "t1"); err != nil {
		t.Errorf("t1 should survive rollback: %v", err)
	}
	if _, err := s.GetTransaction(ctx, "t2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("t2 should be rolled back, got %v", err)
	}
	if n := s.PendingChanges(); n != 1 {
		t.Errorf("PendingChanges = %d, want 1", n)
	}
}

func TestRunInTx_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()

	func() {
		defer func() { _ = recover() }()
		_ = store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
			_ = tx.InsertTransaction(ctx, sampleTx("t1", ""))
			panic("kaboom")
		})
	}()

	// The lock must have been released.
	if _, err := s.GetTransaction(ctx, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected rollback after panic, got %v", err)
	}
}

func TestInsertTransaction_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	insert := func(id string) error {
		return store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertTransaction(ctx, sampleTx(id, "tpl-1:2024-03-05"))
		})
	}
	if err := insert("t1"); err != nil {
		t.Fatal(err)
	}
	if err := insert("t2"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAdvanceTemplate(t *testing.T) {
	ctx := context.Background()
	s := New()
	tpl := core.RecurringTemplate{ID: "tpl-1", UserID: "u1", IsActive: true}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)
	err := store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
		return tx.AdvanceTemplate(ctx, "tpl-1", at)
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTemplate(ctx, "tpl-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastGeneratedDate == nil || !got.LastGeneratedDate.Equal(at) {
		t.Fatalf("marker = %v, want %v", got.LastGeneratedDate, at)
	}

	err = store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
		return tx.AdvanceTemplate(ctx, "missing", at)
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementSpend(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateBudget(ctx, core.Budget{ID: "b1", UserID: "u1", Category: "Food", Month: "2024-03", Limit: core.Money{Cents: 10000}}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateBudget(ctx, core.Budget{ID: "b2", UserID: "u1", Category: "Food", Month: "2024-03"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	tests := []struct {
		name  string
		delta int64
		want  int64
	}{
		{"add", 2500, 2500},
		{"add more", 1000, 3500},
		{"subtract", -500, 3000},
		{"clamped at zero", -10000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, found, err := s.IncrementSpend(ctx, "u1", "Food", "2024-03", core.Money{Cents: tt.delta}, "")
			if err != nil || !found {
				t.Fatalf("IncrementSpend: found=%v err=%v", found, err)
			}
			if b.CurrentSpend.Cents != tt.want {
				t.Errorf("CurrentSpend = %d, want %d", b.CurrentSpend.Cents, tt.want)
			}
		})
	}

	if _, found, err := s.IncrementSpend(ctx, "u1", "Food", "2024-04", core.Money{Cents: 1}, ""); found || err != nil {
		t.Fatalf("missing budget: found=%v err=%v", found, err)
	}
}

func TestIncrementSpend_ApplyKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateBudget(ctx, core.Budget{ID: "b1", UserID: "u1", Category: "Food", Month: "2024-03"})

	tests := []struct {
		name string
		key  string
		want int64
	}{
		{"first use", "ev-1:Food:2024-03:+", 700},
		{"same key again", "ev-1:Food:2024-03:+", 700},
		{"other key", "ev-2:Food:2024-03:+", 1400},
		{"no key", "", 2100},
		{"no key again", "", 2800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, found, err := s.IncrementSpend(ctx, "u1", "Food", "2024-03", core.Money{Cents: 700}, tt.key)
			if err != nil || !found {
				t.Fatalf("IncrementSpend: found=%v err=%v", found, err)
			}
			if b.CurrentSpend.Cents != tt.want {
				t.Errorf("CurrentSpend = %d, want %d", b.CurrentSpend.Cents, tt.want)
			}
		})
	}

	// A key tried against a missing budget is not consumed.
	if _, found, _ := s.IncrementSpend(ctx, "u1", "Food", "2024-04", core.Money{Cents: 1}, "ev-3:Food:2024-04:+"); found {
		t.Fatal("expected missing budget")
	}
	_ = s.CreateBudget(ctx, core.Budget{ID: "b2", UserID: "u1", Category: "Food", Month: "2024-04"})
	b, _, _ := s.IncrementSpend(ctx, "u1", "Food", "2024-04", core.Money{Cents: 1}, "ev-3:Food:2024-04:+")
	if b.CurrentSpend.Cents != 1 {
		t.Fatalf("CurrentSpend = %d, want 1", b.CurrentSpend.Cents)
	}
}

func TestIncrementSpend_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateBudget(ctx, core.Budget{ID: "b1", UserID: "u1", Category: "Food", Month: "2024-03"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.IncrementSpend(ctx, "u1", "Food", "2024-03", core.Money{Cents: 100}, "")
		}()
	}
	wg.Wait()

	b, _ := s.GetBudget(ctx, "u1", "Food", "2024-03")
	if b.CurrentSpend.Cents != 5000 {
		t.Fatalf("CurrentSpend = %d, want 5000", b.CurrentSpend.Cents)
	}
}

func TestOutbox_FailAndPark(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 3; i++ {
		_ = store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
			return tx.EnqueueChange(ctx, core.ChangeEvent{UserID: "u1"})
		})
	}

	entries, err := s.DequeueChanges(ctx, 2)
	if err != nil || len(entries) != 2 {
		t.Fatalf("DequeueChanges = %d entries, err %v", len(entries), err)
	}
	if err := s.MarkChangeDone(ctx, entries[0].ID); err != nil {
		t.Fatal(err)
	}
	cause := errors.New("broker down")
	for i := 0; i < 2; i++ {
		if err := s.MarkChangeFailed(ctx, entries[1].ID, cause, 2); err != nil {
			t.Fatal(err)
		}
	}

	rest, _ := s.DequeueChanges(ctx, 10)
	if len(rest) != 1 || rest[0].ID == entries[0].ID || rest[0].ID == entries[1].ID {
		t.Fatalf("expected only the third entry, got %+v", rest)
	}
	if err := s.MarkChangeDone(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTransactions_MonthFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	march := sampleTx("t1", "")
	april := sampleTx("t2", "")
	april.Date = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	other := sampleTx("t3", "")
	other.UserID = "u2"
	_ = store.RunInTx(ctx, s, func(ctx context.Context, tx store.Tx) error {
		for _, tr := range []core.Transaction{march, april, other} {
			if err := tx.InsertTransaction(ctx, tr); err != nil {
				return err
			}
		}
		return nil
	})

	from, to, _ := store.MonthRange("2024-03", time.UTC)
	got, err := s.ListTransactions(ctx, "u1", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("ListTransactions = %+v", got)
	}
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	seed := `{
  "templates": [{"id": "tpl-1", "userId": "u1", "category": "Rent", "type": "expense",
    "amount": "1200.00", "frequency": "monthly", "startDate": "2024-01-01T00:00:00Z", "isActive": true}],
  "budgets": [{"id": "b1", "userId": "u1", "category": "Rent", "month": "2024-01", "limit": "1500", "currentSpend": "0"}]
}`
	if err := os.WriteFile(filepath.Join(dir, "seed.json"), []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFromFile(dir)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}
	tpl, err := s.GetTemplate(context.Background(), "tpl-1")
	if err != nil || tpl.Amount.Cents != 120000 {
		t.Fatalf("template = %+v, err %v", tpl, err)
	}
	if _, err := s.GetBudget(context.Background(), "u1", "Rent", "2024-01"); err != nil {
		t.Fatal(err)
	}

	empty, err := NewFromFile(t.TempDir())
	if err != nil || len(empty.templates) != 0 {
		t.Fatalf("missing seed should give an empty store, err %v", err)
	}
}
