// Package recurrence decides when a recurring template is due.
//
// This file implements the Strategy Pattern for period arithmetic. Each
// frequency (daily, weekly, monthly, yearly) has its own advancer that
// encapsulates how one period is added to a reference date.
package recurrence

import (
	"fmt"
	"time"

	"fintrack/internal/core"
)

// PeriodAdvancer adds one period to a reference date.
type PeriodAdvancer interface {
	// Advance returns the date one period after reference, in reference's location.
	Advance(reference time.Time) time.Time
}

// DailyAdvancer implements PeriodAdvancer for daily templates.
type DailyAdvancer struct{}

func (DailyAdvancer) Advance(reference time.Time) time.Time {
	return reference.AddDate(0, 0, 1)
}

// WeeklyAdvancer implements PeriodAdvancer for weekly templates.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Advance(reference time.Time) time.Time {
	return reference.AddDate(0, 0, 7)
}

// MonthlyAdvancer implements PeriodAdvancer for monthly templates.
// A day that does not exist in the next month is clamped to its last day,
// so Jan 31 advances to Feb 28/29 instead of overflowing into March.
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Advance(reference time.Time) time.Time {
	return addMonthsClamped(reference, 1)
}

// YearlyAdvancer implements PeriodAdvancer for yearly templates.
// Feb 29 advances to Feb 28 in non-leap years.
type YearlyAdvancer struct{}

func (YearlyAdvancer) Advance(reference time.Time) time.Time {
	return addMonthsClamped(reference, 12)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	first := time.Date(y, m+time.Month(months), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// advancers maps frequencies to their period strategy.
var advancers = map[core.Frequency]PeriodAdvancer{
	core.Daily:   DailyAdvancer{},
	core.Weekly:  WeeklyAdvancer{},
	core.Monthly: MonthlyAdvancer{},
	core.Yearly:  YearlyAdvancer{},
}

// GetAdvancer returns the period strategy for a frequency.
// Returns an error if the frequency is not supported.
func GetAdvancer(frequency core.Frequency) (PeriodAdvancer, error) {
	a, ok := advancers[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return a, nil
}
