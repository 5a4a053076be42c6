package main

import (
	"github.com/spf13/cobra"

	"fintrack/internal/core"
	"fintrack/internal/recurrence"
	"fintrack/internal/services"
)

func newTemplateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage recurring transaction templates",
	}

	var in services.TemplateInput
	var txType, amount, frequency, start string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an active recurring template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.requireUser()
			if err != nil {
				return err
			}
			if in.Amount, err = core.ParseAmount(amount); err != nil {
				return err
			}
			if in.StartDate, err = a.parseDay(start); err != nil {
				return err
			}
			in.Type = core.TxType(txType)
			in.Frequency = core.Frequency(frequency)

			svc := services.NewTemplateService(a.store, recurrence.NewEvaluator(a.loc), a.logger)
			tpl, err := svc.Create(cmd.Context(), user, in)
			if err != nil {
				return err
			}
			return a.print(tpl)
		},
	}
	create.Flags().StringVar(&in.Title, "title", "", "Title of generated transactions")
	create.Flags().StringVar(&in.Source, "source", "", "Payee or payer")
	create.Flags().StringVar(&in.Category, "category", "", "Category name")
	create.Flags().StringVar(&txType, "type", string(core.Expense), "expense or income")
	create.Flags().StringVar(&amount, "amount", "", "Amount per occurrence, e.g. 1200.00")
	create.Flags().StringVar(&frequency, "frequency", string(core.Monthly), "daily, weekly, monthly or yearly")
	create.Flags().StringVar(&start, "start", "", "First occurrence as YYYY-MM-DD")
	_ = create.MarkFlagRequired("category")
	_ = create.MarkFlagRequired("amount")
	_ = create.MarkFlagRequired("start")

	list := &cobra.Command{
		Use:   "list",
		Short: "List templates with their next due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.requireUser()
			if err != nil {
				return err
			}
			svc := services.NewTemplateService(a.store, recurrence.NewEvaluator(a.loc), a.logger)
			views, err := svc.List(cmd.Context(), user)
			if err != nil {
				return err
			}
			return a.print(views)
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
