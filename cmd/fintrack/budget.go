package main

import (
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

func newBudgetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage monthly category budgets",
	}

	var in services.BudgetInput
	var limit string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a budget for a category and month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.requireUser()
			if err != nil {
				return err
			}
			if in.Limit, err = core.ParseAmount(limit); err != nil {
				return err
			}
			b, err := services.NewBudgetService(a.store, a.logger).Create(cmd.Context(), user, in)
			if err != nil {
				return err
			}
			return a.print(b)
		},
	}
	create.Flags().StringVar(&in.Category, "category", "", "Category name")
	create.Flags().StringVar(&in.Month, "month", "", "Month as YYYY-MM")
	create.Flags().StringVar(&limit, "limit", "", "Spending limit, e.g. 400.00")
	_ = create.MarkFlagRequired("category")
	_ = create.MarkFlagRequired("month")
	_ = create.MarkFlagRequired("limit")

	var category, month string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show budgets and their usage for a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.requireUser()
			if err != nil {
				return err
			}
			svc := services.NewBudgetService(a.store, a.logger)
			if category != "" {
				if month == "" {
					month = core.MonthKey(time.Now(), a.loc)
				}
				b, err := svc.Get(cmd.Context(), user, category, month)
				if err != nil {
					return err
				}
				return a.print(b)
			}
			budgets, err := svc.List(cmd.Context(), user, month)
			if err != nil {
				return err
			}
			return a.print(budgets)
		},
	}
	show.Flags().StringVar(&category, "category", "", "Show a single category")
	show.Flags().StringVar(&month, "month", "", "Month as YYYY-MM (all months when omitted)")

	cmd.AddCommand(create, show)
	return cmd
}
