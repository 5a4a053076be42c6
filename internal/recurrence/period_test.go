package recurrence

import (
	"testing"
	"time"

	"fintrack/internal/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAdvancers(t *testing.T) {
	tests := []struct {
		name      string
		frequency core.Frequency
		reference time.Time
		want      time.Time
	}{
		{"daily", core.Daily, date(2024, 1, 15), date(2024, 1, 16)},
		{"daily across year", core.Daily, date(2023, 12, 31), date(2024, 1, 1)},
		{"weekly", core.Weekly, date(2024, 1, 15), date(2024, 1, 22)},
		{"weekly across month", core.Weekly, date(2024, 2, 26), date(2024, 3, 4)},
		{"monthly", core.Monthly, date(2024, 1, 15), date(2024, 2, 15)},
		{"monthly jan 31 leap year", core.Monthly, date(2024, 1, 31), date(2024, 2, 29)},
		{"monthly jan 31 common year", core.Monthly, date(2023, 1, 31), date(2023, 2, 28)},
		{"monthly mar 31 to apr 30", core.Monthly, date(2024, 3, 31), date(2024, 4, 30)},
		{"monthly december", core.Monthly, date(2024, 12, 31), date(2025, 1, 31)},
		{"yearly", core.Yearly, date(2024, 6, 15), date(2025, 6, 15)},
		{"yearly feb 29", core.Yearly, date(2024, 2, 29), date(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := GetAdvancer(tt.frequency)
			if err != nil {
				t.Fatalf("GetAdvancer() error = %v", err)
			}
			if got := a.Advance(tt.reference); !got.Equal(tt.want) {
				t.Errorf("Advance(%s) = %s, want %s", tt.reference.Format("2006-01-02"), got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestMonthlyAdvancer_PreservesClock(t *testing.T) {
	ref := time.Date(2024, 1, 31, 14, 30, 0, 0, time.UTC)
	got := MonthlyAdvancer{}.Advance(ref)
	want := time.Date(2024, 2, 29, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Advance() = %v, want %v", got, want)
	}
}

func TestGetAdvancer(t *testing.T) {
	tests := []struct {
		name      string
		frequency core.Frequency
		wantErr   bool
	}{
		{"daily", core.Daily, false},
		{"weekly", core.Weekly, false},
		{"monthly", core.Monthly, false},
		{"yearly", core.Yearly, false},
		{"unknown", core.Frequency("biweekly"), true},
		{"empty", core.Frequency(""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := GetAdvancer(tt.frequency)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetAdvancer() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && a == nil {
				t.Error("GetAdvancer() returned nil advancer")
			}
		})
	}
}
