// Package budget keeps per-category monthly budgets in step with
// transaction writes.
package budget

import (
	"strings"
	"time"

	"fintrack/internal/core"
)

// Adjustment is a signed change to one budget's running spend.
type Adjustment struct {
	UserID   string
	Category string
	Month    string // YYYY-MM
	Delta    core.Money
	// Key identifies the adjustment across redeliveries of its event; empty
	// means the store applies it unconditionally.
	Key string
}

// Eligible reports whether tx counts toward a budget: a dated, categorised
// expense with a positive amount that belongs to no trip or checklist.
func Eligible(tx *core.Transaction) bool {
	if tx == nil {
		return false
	}
	return tx.Type == core.Expense &&
		tx.Amount.Cents > 0 &&
		tx.TripID == "" &&
		tx.ChecklistID == "" &&
		strings.TrimSpace(tx.Category) != "" &&
		!tx.Date.IsZero()
}

// Plan computes the adjustments a change event implies. Month buckets are
// taken in loc, UTC when nil. The result is empty when nothing changes.
func Plan(ev core.ChangeEvent, loc *time.Location) []Adjustment {
	before, after := ev.Before, ev.After
	beforeOK, afterOK := Eligible(before), Eligible(after)

	if beforeOK && afterOK {
		b, a := key(before, loc), key(after, loc)
		if b.same(a) {
			delta := after.Amount.Sub(before.Amount)
			if delta.IsZero() {
				return nil
			}
			b.Delta = delta
			return []Adjustment{b}
		}
	}

	var out []Adjustment
	if beforeOK {
		adj := key(before, loc)
		adj.Delta = before.Amount.Neg()
		out = append(out, adj)
	}
	if afterOK {
		adj := key(after, loc)
		adj.Delta = after.Amount
		out = append(out, adj)
	}
	return out
}

func key(tx *core.Transaction, loc *time.Location) Adjustment {
	return Adjustment{
		UserID:   tx.UserID,
		Category: tx.Category,
		Month:    core.MonthKey(tx.Date, loc),
	}
}

// keyFor derives the adjustment key from the event id. An event moves money
// out of and into a given budget at most once each, so the sign completes it.
func (a Adjustment) keyFor(eventID string) string {
	if eventID == "" {
		return ""
	}
	sign := "+"
	if a.Delta.Cents < 0 {
		sign = "-"
	}
	return eventID + ":" + a.UserID + ":" + a.Category + ":" + a.Month + ":" + sign
}

func (a Adjustment) same(o Adjustment) bool {
	return a.UserID == o.UserID && a.Category == o.Category && a.Month == o.Month
}
