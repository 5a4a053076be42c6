package main

import (
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/recurrence"
	"fintrack/internal/services"
)

func newSweepCmd(a *app) *cobra.Command {
	var now string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Generate transactions from every due recurring template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			at := time.Now()
			if now != "" {
				t, err := a.parseDay(now)
				if err != nil {
					return err
				}
				at = t
			}

			processor := services.NewRecurringProcessor(a.store, recurrence.NewEvaluator(a.loc), a.cfg.SweepConcurrency, a.logger)
			report, err := processor.ProcessDue(cmd.Context(), at)
			if err != nil {
				return err
			}
			return a.print(report)
		},
	}
	cmd.Flags().StringVar(&now, "now", "", "Evaluate templates as of this date instead of the current time")
	return cmd
}
