package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/license"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

func newLicenseCommand(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Verify the Pro license for this machine",
		Long: "Verify the Pro license against the licensing API and cache the result.\n" +
			"With --wait, keep checking until a purchase completes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			return a.withState(ctx, func(prefs *settings.Settings) error {
				verifier, err := a.newVerifier(prefs)
				if err != nil {
					return err
				}
				userID, err := prefs.UserID(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, theme.MutedStyle.Render("User ID: "+userID))

				if wait {
					fmt.Fprintln(out, theme.MutedStyle.Render("Waiting for the purchase to complete..."))
					err := verifier.PollUntilPro(ctx)
					if errors.Is(err, license.ErrPollExhausted) {
						return fmt.Errorf("%w: run `autoaccept license` again once the purchase completes", err)
					}
					if err != nil {
						return err
					}
					fmt.Fprintln(out, theme.SuccessStyle.Render(theme.IconDone+" Pro license active"))
					return nil
				}

				result, err := verifier.Refresh(ctx)
				if err != nil {
					return err
				}
				switch {
				case result.Pro:
					fmt.Fprintln(out, theme.SuccessStyle.Render(theme.IconDone+" Pro license active"))
				default:
					fmt.Fprintln(out, theme.WarningStyle.Render(theme.IconWarn+" No Pro license"))
				}
				if result.Status == license.StatusUnknown {
					note := "Could not reach the licensing API; showing the cached status."
					if result.Stale {
						note = "Could not reach the licensing API and the cached status is over a day old."
					}
					fmt.Fprintln(out, theme.MutedStyle.Render(note))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the license becomes active")
	return cmd
}
