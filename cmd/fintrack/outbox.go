package main

import (
	"github.com/spf13/cobra"

	"fintrack/internal/backend"
	"fintrack/internal/cli"
	"fintrack/internal/services"
)

func newOutboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and relay pending budget changes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Relay every pending change event until the outbox is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dispatch := backend.NewChangeDispatcher(a.cfg, a.store, a.loc, a.logger)
			if dispatch.Cleanup != nil {
				defer dispatch.Cleanup()
			}

			relay := services.NewOutboxProcessor(a.store, dispatch.Dispatcher, cli.OutboxConfig(a.cfg), a.logger)
			res, err := relay.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(res)
		},
	})
	return cmd
}
