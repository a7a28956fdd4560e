package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/tui"
)

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the live dashboard of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := a.client()
			// Fail before taking over the terminal.
			if _, err := client.Status(cmd.Context()); err != nil {
				if daemonDown(err) {
					return fmt.Errorf("%w: start it with `autoaccept run`", err)
				}
				return apiError(err)
			}
			return tui.Run(cmd.Context(), client)
		},
	}
}
