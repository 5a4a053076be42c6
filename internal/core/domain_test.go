package core

import (
	"errors"
	"testing"
	"time"
)

func TestMonthKey(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	instant := time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC)

	if got := MonthKey(instant, nil); got != "2024-02" {
		t.Errorf("MonthKey UTC = %q, want 2024-02", got)
	}
	// 23:30 UTC is already March 1st in Rome
	if got := MonthKey(instant, rome); got != "2024-03" {
		t.Errorf("MonthKey Rome = %q, want 2024-03", got)
	}
}

func TestStartOfDay(t *testing.T) {
	got := StartOfDay(time.Date(2024, 1, 15, 17, 45, 12, 99, time.UTC), nil)
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("StartOfDay = %v, want %v", got, want)
	}
}

func TestValidateMonthKey(t *testing.T) {
	for _, ok := range []string{"2024-01", "1999-12"} {
		if err := ValidateMonthKey(ok); err != nil {
			t.Errorf("%q expected ok, got %v", ok, err)
		}
	}
	for _, bad := range []string{"", "2024-1", "2024-13", "2024-00", "24-01", "2024/01"} {
		if err := ValidateMonthKey(bad); !errors.Is(err, ErrInvalidMonth) {
			t.Errorf("%q expected ErrInvalidMonth, got %v", bad, err)
		}
	}
}

func TestRecurringTemplateValidate(t *testing.T) {
	good := RecurringTemplate{
		UserID:    "u1",
		Title:     "Rent",
		Category:  "Rent",
		Type:      Expense,
		Amount:    Money{Cents: 120000},
		Frequency: Monthly,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	before := good.StartDate.AddDate(0, 0, -1)
	bads := map[string]func(*RecurringTemplate){
		"no user":             func(r *RecurringTemplate) { r.UserID = "" },
		"zero start":          func(r *RecurringTemplate) { r.StartDate = time.Time{} },
		"unknown frequency":   func(r *RecurringTemplate) { r.Frequency = "biweekly" },
		"bad type":            func(r *RecurringTemplate) { r.Type = "transfer" },
		"empty category":      func(r *RecurringTemplate) { r.Category = " " },
		"zero amount":         func(r *RecurringTemplate) { r.Amount = Money{} },
		"marker before start": func(r *RecurringTemplate) { r.LastGeneratedDate = &before },
	}
	for name, mutate := range bads {
		t.Run(name, func(t *testing.T) {
			tpl := good
			mutate(&tpl)
			if err := tpl.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTransactionValidate(t *testing.T) {
	good := Transaction{
		UserID:   "u1",
		Category: "Food",
		Type:     Expense,
		Amount:   Money{Cents: 0},
		Date:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("zero amount should be accepted, got %v", err)
	}

	bads := []Transaction{
		{UserID: "", Category: "c", Type: Expense, Date: good.Date},
		{UserID: "u", Category: "", Type: Expense, Date: good.Date},
		{UserID: "u", Category: "c", Type: "x", Date: good.Date},
		{UserID: "u", Category: "c", Type: Expense},
		{UserID: "u", Category: "c", Type: Expense, Date: good.Date, Amount: Money{Cents: -1}},
	}
	for i, tx := range bads {
		if err := tx.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestChangeEventKind(t *testing.T) {
	tx := &Transaction{ID: "t1"}
	cases := []struct {
		ev   ChangeEvent
		want ChangeKind
	}{
		{ChangeEvent{After: tx}, ChangeCreate},
		{ChangeEvent{Before: tx, After: tx}, ChangeUpdate},
		{ChangeEvent{Before: tx}, ChangeDelete},
		{ChangeEvent{}, ChangeNone},
	}
	for _, tc := range cases {
		if got := tc.ev.Kind(); got != tc.want {
			t.Errorf("Kind() = %s, want %s", got, tc.want)
		}
	}
}

func TestBudgetProgress(t *testing.T) {
	b := Budget{Limit: Money{Cents: 10000}, CurrentSpend: Money{Cents: 12500}}
	p := b.Progress()
	if !p.Exceeded || p.Remaining.Cents != -2500 || p.Percent != 125 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p := (Budget{CurrentSpend: Money{Cents: 1}}).Progress(); p.Percent != 0 || p.Exceeded {
		t.Fatalf("no-limit budget should not report usage: %+v", p)
	}
}
