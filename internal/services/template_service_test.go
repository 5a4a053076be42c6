package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/recurrence"
	"fintrack/internal/store/memory"
)

func rentInput() TemplateInput {
	return TemplateInput{
		Title:     "Rent",
		Category:  "Housing",
		Type:      core.Expense,
		Amount:    core.Money{Cents: 120000},
		Frequency: "Monthly",
		StartDate: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestTemplateService_Create(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := NewTemplateService(s, recurrence.Evaluator{}, log.Discard())

	tpl, err := svc.Create(ctx, "u1", rentInput())
	if err != nil {
		t.Fatal(err)
	}
	if tpl.ID == "" || !tpl.IsActive || tpl.Frequency != core.Monthly || tpl.LastGeneratedDate != nil {
		t.Fatalf("unexpected template: %+v", tpl)
	}
	stored, err := s.GetTemplate(ctx, tpl.ID)
	if err != nil || stored.UserID != "u1" {
		t.Fatalf("GetTemplate() = %+v, %v", stored, err)
	}
}

func TestTemplateService_CreateRejectsUnfireable(t *testing.T) {
	svc := NewTemplateService(memory.New(), recurrence.Evaluator{}, log.Discard())
	tests := []struct {
		name   string
		mutate func(*TemplateInput)
	}{
		{"unknown frequency", func(in *TemplateInput) { in.Frequency = "fortnightly" }},
		{"missing start", func(in *TemplateInput) { in.StartDate = time.Time{} }},
		{"zero amount", func(in *TemplateInput) { in.Amount = core.Money{} }},
		{"bad type", func(in *TemplateInput) { in.Type = "transfer" }},
		{"empty category", func(in *TemplateInput) { in.Category = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := rentInput()
			tt.mutate(&in)
			if _, err := svc.Create(context.Background(), "u1", in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestTemplateService_ListNextDate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := NewTemplateService(s, recurrence.Evaluator{}, log.Discard())

	created, err := svc.Create(ctx, "u1", rentInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, "u2", rentInput()); err != nil {
		t.Fatal(err)
	}

	views, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].ID != created.ID {
		t.Fatalf("expected only u1's template, got %+v", views)
	}
	if views[0].NextDate == nil || !views[0].NextDate.Equal(created.StartDate) {
		t.Fatalf("NextDate = %v, want start date", views[0].NextDate)
	}
}
