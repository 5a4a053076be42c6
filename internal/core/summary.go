package core

// BudgetProgress is a display view of a Budget against its limit.
type BudgetProgress struct {
	Budget    Budget
	Remaining Money
	Percent   float64 // 0 when the budget has no limit
	Exceeded  bool
}

// Progress computes the remaining allowance and usage percentage.
func (b Budget) Progress() BudgetProgress {
	p := BudgetProgress{
		Budget:    b,
		Remaining: b.Limit.Sub(b.CurrentSpend),
	}
	if b.Limit.Cents > 0 {
		p.Percent = float64(b.CurrentSpend.Cents) / float64(b.Limit.Cents) * 100
		p.Exceeded = b.CurrentSpend.Cents > b.Limit.Cents
	}
	return p
}
