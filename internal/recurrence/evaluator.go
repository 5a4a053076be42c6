package recurrence

import (
	"time"

	"fintrack/internal/core"
)

// Status is the outcome of evaluating a template at an instant.
type Status int

const (
	NotDue Status = iota
	Due
	Invalid
)

func (s Status) String() string {
	switch s {
	case Due:
		return "due"
	case NotDue:
		return "not_due"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Reasons attached to NotDue and Invalid results.
const (
	ReasonInactive         = "inactive"
	ReasonNotStarted       = "not started"
	ReasonWaitingForPeriod = "waiting for next period"
	ReasonMissingStart     = "missing start date"
	ReasonUnknownFrequency = "unknown frequency"
)

// Result is the tagged outcome of Evaluate.
type Result struct {
	Status Status
	Reason string
	// Occurrence is the calendar day this generation stands for: the start
	// day on the first run, the next eligible day afterwards. Zero when Invalid.
	Occurrence time.Time
	// NextDate is the first day after Occurrence on which the template fires
	// again if generated now. Zero when Invalid.
	NextDate time.Time
}

// Evaluator decides whether templates are due. Calendar days are taken in
// Location, UTC when nil.
type Evaluator struct {
	Location *time.Location
}

// NewEvaluator creates an evaluator working in loc.
func NewEvaluator(loc *time.Location) Evaluator {
	return Evaluator{Location: loc}
}

func (e Evaluator) loc() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// Evaluate reports whether tpl should generate a transaction at now.
func (e Evaluator) Evaluate(tpl core.RecurringTemplate, now time.Time) Result {
	if !tpl.IsActive {
		return Result{Status: NotDue, Reason: ReasonInactive}
	}
	if tpl.StartDate.IsZero() {
		return Result{Status: Invalid, Reason: ReasonMissingStart}
	}
	advancer, err := GetAdvancer(tpl.Frequency)
	if err != nil {
		return Result{Status: Invalid, Reason: ReasonUnknownFrequency}
	}
	if now.Before(tpl.StartDate) {
		return Result{
			Status:     NotDue,
			Reason:     ReasonNotStarted,
			Occurrence: e.day(tpl.StartDate),
			NextDate:   e.day(tpl.StartDate),
		}
	}

	today := e.day(now)

	// First run fires on the start day itself, not one period later.
	if tpl.LastGeneratedDate == nil || tpl.LastGeneratedDate.IsZero() {
		start := e.day(tpl.StartDate)
		if today.Before(start) {
			return Result{Status: NotDue, Reason: ReasonNotStarted, Occurrence: start, NextDate: start}
		}
		return Result{Status: Due, Occurrence: start, NextDate: e.advance(advancer, now)}
	}

	next := e.advance(advancer, *tpl.LastGeneratedDate)
	if today.Before(next) {
		return Result{Status: NotDue, Reason: ReasonWaitingForPeriod, Occurrence: next, NextDate: next}
	}
	return Result{Status: Due, Occurrence: next, NextDate: e.advance(advancer, now)}
}

// ShouldGenerate is the boolean form of Evaluate.
func (e Evaluator) ShouldGenerate(tpl core.RecurringTemplate, now time.Time) bool {
	return e.Evaluate(tpl, now).Status == Due
}

// NextDate returns the next day tpl becomes eligible, ignoring IsActive.
// ok is false for templates that can never fire.
func (e Evaluator) NextDate(tpl core.RecurringTemplate) (next time.Time, ok bool) {
	if tpl.StartDate.IsZero() {
		return time.Time{}, false
	}
	advancer, err := GetAdvancer(tpl.Frequency)
	if err != nil {
		return time.Time{}, false
	}
	if tpl.LastGeneratedDate == nil || tpl.LastGeneratedDate.IsZero() {
		return e.day(tpl.StartDate), true
	}
	return e.advance(advancer, *tpl.LastGeneratedDate), true
}

// advance adds one period to reference and truncates to that calendar day.
func (e Evaluator) advance(a PeriodAdvancer, reference time.Time) time.Time {
	return e.day(a.Advance(reference.In(e.loc())))
}

func (e Evaluator) day(t time.Time) time.Time {
	return core.StartOfDay(t, e.loc())
}

// OccurrenceKey identifies one generation of a template. Two sweeps that
// evaluate the same template state produce the same key.
func OccurrenceKey(templateID string, occurrence time.Time) string {
	return templateID + ":" + occurrence.Format("2006-01-02")
}
