package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/recurrence"
	"fintrack/internal/store"
	"fintrack/internal/store/memory"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rentTemplate(id string) core.RecurringTemplate {
	return core.RecurringTemplate{
		ID:        id,
		UserID:    "u1",
		Title:     "Rent",
		Category:  "Rent",
		Type:      core.Expense,
		Amount:    core.Money{Cents: 120000},
		Frequency: core.Monthly,
		StartDate: day(2024, 1, 1),
		IsActive:  true,
	}
}

func newProcessor(s RecurringStore) *RecurringProcessor {
	return NewRecurringProcessor(s, recurrence.Evaluator{}, 4, log.Discard())
}

func TestProcessDue_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	if err := s.CreateTemplate(ctx, rentTemplate("tpl-rent")); err != nil {
		t.Fatal(err)
	}
	p := newProcessor(s)

	// First sweep on the start day generates and sets the marker.
	report, err := p.ProcessDue(ctx, day(2024, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if report.Generated != 1 {
		t.Fatalf("sweep 1: %+v", report)
	}
	jan := listMonth(t, s, "u1", "2024-01")
	if len(jan) != 1 || !jan[0].Date.Equal(day(2024, 1, 1)) || jan[0].Amount.Cents != 120000 {
		t.Fatalf("sweep 1 transactions: %+v", jan)
	}
	if !jan[0].IsRecurring || jan[0].TemplateID != "tpl-rent" || jan[0].IdempotencyKey != "tpl-rent:2024-01-01" {
		t.Fatalf("recurrence linkage missing: %+v", jan[0])
	}
	tpl, _ := s.GetTemplate(ctx, "tpl-rent")
	if tpl.LastGeneratedDate == nil || !tpl.LastGeneratedDate.Equal(day(2024, 1, 1)) {
		t.Fatalf("marker after sweep 1 = %v", tpl.LastGeneratedDate)
	}

	// Mid-month sweep: not due yet.
	report, _ = p.ProcessDue(ctx, day(2024, 1, 15))
	if report.Generated != 0 || report.NotDue != 1 {
		t.Fatalf("sweep 2: %+v", report)
	}

	// Past the next period: generates again and advances the marker.
	report, _ = p.ProcessDue(ctx, day(2024, 2, 2))
	if report.Generated != 1 {
		t.Fatalf("sweep 3: %+v", report)
	}
	feb := listMonth(t, s, "u1", "2024-02")
	if len(feb) != 1 || !feb[0].Date.Equal(day(2024, 2, 2)) {
		t.Fatalf("sweep 3 transactions: %+v", feb)
	}
	tpl, _ = s.GetTemplate(ctx, "tpl-rent")
	if !tpl.LastGeneratedDate.Equal(day(2024, 2, 2)) {
		t.Fatalf("marker after sweep 3 = %v", tpl.LastGeneratedDate)
	}

	// Every generation enqueued exactly one change event.
	if n := s.PendingChanges(); n != 2 {
		t.Fatalf("pending change events = %d, want 2", n)
	}
}

func TestProcessDue_RepeatedSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_ = s.CreateTemplate(ctx, rentTemplate("tpl-rent"))
	p := newProcessor(s)

	now := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	if _, err := p.ProcessDue(ctx, now); err != nil {
		t.Fatal(err)
	}
	report, _ := p.ProcessDue(ctx, now.Add(time.Minute))
	if report.Generated != 0 {
		t.Fatalf("retried sweep generated again: %+v", report)
	}
	txs := listMonth(t, s, "u1", "2024-01")
	if len(txs) != 1 {
		t.Fatalf("expected one transaction, got %d", len(txs))
	}
}

// staleStore hands out the template state from before the first
// generation, simulating two sweeps racing on the same snapshot.
type staleStore struct {
	*memory.Store
	snapshot []core.RecurringTemplate
}

func (s *staleStore) ListActiveTemplates(context.Context) ([]core.RecurringTemplate, error) {
	return s.snapshot, nil
}

func TestProcessDue_DuplicateOccurrenceIsCounted(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	tpl := rentTemplate("tpl-rent")
	_ = mem.CreateTemplate(ctx, tpl)
	s := &staleStore{Store: mem, snapshot: []core.RecurringTemplate{tpl}}
	p := newProcessor(s)

	first, _ := p.ProcessDue(ctx, day(2024, 1, 1))
	second, _ := p.ProcessDue(ctx, day(2024, 1, 1))
	if first.Generated != 1 || second.Duplicates != 1 || second.Failed != 0 {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if n := mem.PendingChanges(); n != 1 {
		t.Fatalf("duplicate must not enqueue an event, pending = %d", n)
	}
}

// flakyStore fails or panics while advancing selected templates.
type flakyStore struct {
	*memory.Store
	failFor  string
	panicFor string
}

func (s *flakyStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, s: s}, nil
}

type flakyTx struct {
	store.Tx
	s *flakyStore
}

func (t *flakyTx) AdvanceTemplate(ctx context.Context, id string, at time.Time) error {
	switch id {
	case t.s.failFor:
		return errors.New("disk full")
	case t.s.panicFor:
		panic("corrupted template")
	}
	return t.Tx.AdvanceTemplate(ctx, id, at)
}

func TestProcessDue_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	for _, id := range []string{"tpl-a", "tpl-b", "tpl-c"} {
		_ = mem.CreateTemplate(ctx, rentTemplate(id))
	}
	bad := rentTemplate("tpl-bad")
	bad.Frequency = "fortnightly"
	_ = mem.CreateTemplate(ctx, bad)

	p := newProcessor(&flakyStore{Store: mem, failFor: "tpl-a", panicFor: "tpl-b"})
	report, err := p.ProcessDue(ctx, day(2024, 1, 1))
	if err != nil {
		t.Fatal(err)
	}

	want := SweepReport{Checked: 4, Due: 3, Generated: 1, Invalid: 1, Failed: 2}
	if report != want {
		t.Fatalf("report = %+v, want %+v", report, want)
	}

	txs := listMonth(t, mem, "u1", "2024-01")
	if len(txs) != 1 || txs[0].TemplateID != "tpl-c" {
		t.Fatalf("only tpl-c should have generated: %+v", txs)
	}
	// Failed units of work were rolled back entirely.
	if n := mem.PendingChanges(); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	a, _ := mem.GetTemplate(ctx, "tpl-a")
	if a.LastGeneratedDate != nil {
		t.Fatalf("tpl-a marker should be untouched, got %v", a.LastGeneratedDate)
	}
}

func TestProcessDue_ManyTemplatesConcurrently(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for i := 0; i < 40; i++ {
		tpl := rentTemplate("tpl-" + string(rune('A'+i%26)) + string(rune('a'+i/26)))
		_ = s.CreateTemplate(ctx, tpl)
	}
	report, err := NewRecurringProcessor(s, recurrence.Evaluator{}, 8, log.Discard()).ProcessDue(ctx, day(2024, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if report.Generated != 40 {
		t.Fatalf("report = %+v", report)
	}
}

type failingList struct{ *memory.Store }

func (failingList) ListActiveTemplates(context.Context) ([]core.RecurringTemplate, error) {
	return nil, errors.New("connection refused")
}

func TestProcessDue_ListFailure(t *testing.T) {
	p := newProcessor(failingList{memory.New()})
	if _, err := p.ProcessDue(context.Background(), day(2024, 1, 1)); err == nil {
		t.Fatal("expected error when templates cannot be listed")
	}
}

func TestTransactionFromTemplate(t *testing.T) {
	tpl := rentTemplate("tpl-rent")
	tpl.Source = "bank"
	now := time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC)
	tx := TransactionFromTemplate(tpl, day(2024, 3, 1), now)

	if tx.ID == "" || tx.UserID != "u1" || tx.Source != "bank" || tx.Category != "Rent" || tx.Type != core.Expense {
		t.Fatalf("payload not copied: %+v", tx)
	}
	if !tx.Date.Equal(now) || tx.IdempotencyKey != "tpl-rent:2024-03-01" {
		t.Fatalf("date=%v key=%q", tx.Date, tx.IdempotencyKey)
	}
}
