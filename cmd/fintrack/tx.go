package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

// txFlags binds the editable transaction fields to command flags.
type txFlags struct {
	in     services.TransactionInput
	txType string
	amount string
	date   string
}

func (f *txFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.in.Title, "title", "", "Title")
	fs.StringVar(&f.in.Source, "source", "", "Payee or payer")
	fs.StringVar(&f.in.Category, "category", "", "Category name")
	fs.StringVar(&f.txType, "type", string(core.Expense), "expense or income")
	fs.StringVar(&f.amount, "amount", "", "Amount, e.g. 25.50")
	fs.StringVar(&f.date, "date", "", "Date as YYYY-MM-DD")
	fs.StringVar(&f.in.TripID, "trip", "", "Trip the transaction belongs to")
	fs.StringVar(&f.in.ChecklistID, "checklist", "", "Checklist the transaction belongs to")
}

func (f *txFlags) input(a *app) (services.TransactionInput, error) {
	in := f.in
	in.Type = core.TxType(f.txType)
	var err error
	if in.Amount, err = core.ParseAmount(f.amount); err != nil {
		return in, err
	}
	if in.Date, err = a.parseDay(f.date); err != nil {
		return in, err
	}
	return in, nil
}

func markTxFlagsRequired(cmd *cobra.Command) {
	for _, name := range []string{"category", "amount", "date"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newTxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transaction"},
		Short:   "Create, update and delete transactions",
	}

	var createFlags txFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Record a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.requireUser()
			if err != nil {
				return err
			}
			in, err := createFlags.input(a)
			if err != nil {
				return err
			}
			tx, err := services.NewTransactionService(a.store, a.logger).Create(cmd.Context(), user, in)
			if err != nil {
				return err
			}
			return a.print(tx)
		},
	}
	createFlags.bind(create.Flags())
	markTxFlagsRequired(create)

	var updateFlags txFlags
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the fields of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.requireUser()
			if err != nil {
				return err
			}
			in, err := updateFlags.input(a)
			if err != nil {
				return err
			}
			tx, err := services.NewTransactionService(a.store, a.logger).Update(cmd.Context(), user, args[0], in)
			if err != nil {
				return err
			}
			return a.print(tx)
		},
	}
	updateFlags.bind(update.Flags())
	markTxFlagsRequired(update)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.requireUser()
			if err != nil {
				return err
			}
			if err := services.NewTransactionService(a.store, a.logger).Delete(cmd.Context(), user, args[0]); err != nil {
				return err
			}
			return a.print(map[string]string{"deleted": args[0]})
		},
	}

	cmd.AddCommand(create, update, del)
	return cmd
}
