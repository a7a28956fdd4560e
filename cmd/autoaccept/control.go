package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/banned"
	"github.com/ship-commander/autoaccept/internal/license"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/statusapi"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

const offlineHint = "No daemon is running; the change applies when `autoaccept run` starts."

// confirmBackgroundFn asks before background mode is switched on. It returns
// whether to proceed and whether to stop asking.
var confirmBackgroundFn = func() (bool, bool, error) {
	proceed := true
	dontShow := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewNote().
			Title("Background Mode").
			Description("Auto Accept will cycle through every agent tab and accept actions in conversations you are not looking at."),
		huh.NewConfirm().
			Title("Enable background mode?").
			Affirmative("Enable").
			Negative("Cancel").
			Value(&proceed),
		huh.NewConfirm().
			Title("Show this again next time?").
			Affirmative("No").
			Negative("Yes").
			Value(&dontShow),
	))
	if err := form.Run(); err != nil {
		return false, false, err
	}
	return proceed, dontShow, nil
}

func (a *app) client() *statusapi.Client {
	return statusapi.NewClient(a.cfg.StatusAddr)
}

// withState runs fn against the shared settings when no daemon answers.
func (a *app) withState(ctx context.Context, fn func(*settings.Settings) error) error {
	store, prefs, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(prefs)
}

func daemonDown(err error) bool {
	return errors.Is(err, statusapi.ErrDaemonUnreachable)
}

// apiError turns a daemon error response into a user-facing error.
func apiError(err error) error {
	var failure *statusapi.APIError
	if !errors.As(err, &failure) {
		return err
	}
	if failure.Status == http.StatusPaymentRequired {
		return fmt.Errorf("%w: run `autoaccept license --wait` after purchasing", license.ErrLicenseRequired)
	}
	if failure.Message != "" {
		return errors.New(failure.Message)
	}
	return err
}

func printEnabled(out io.Writer, resp statusapi.EnabledResponse) {
	if resp.Enabled {
		fmt.Fprintln(out, theme.SuccessStyle.Render(theme.IconOn+" Auto Accept: ON"))
	} else {
		fmt.Fprintln(out, theme.MutedStyle.Render(theme.IconOff+" Auto Accept: OFF"))
	}
	if resp.Warning != "" {
		fmt.Fprintln(out, theme.WarningStyle.Render(theme.IconWarn+" "+resp.Warning))
	}
}

// setEnabledOffline persists the flag directly. Enabling still needs the
// cached license.
func (a *app) setEnabledOffline(ctx context.Context, out io.Writer, enabled bool) error {
	return a.withState(ctx, func(prefs *settings.Settings) error {
		if enabled {
			verifier, err := a.newVerifier(prefs)
			if err != nil {
				return err
			}
			if err := verifier.Require(ctx); err != nil {
				return apiError(err)
			}
		}
		if err := prefs.SetEnabled(ctx, enabled); err != nil {
			return fmt.Errorf("persist enabled flag: %w", err)
		}
		printEnabled(out, statusapi.EnabledResponse{Enabled: enabled})
		fmt.Fprintln(out, theme.MutedStyle.Render(offlineHint))
		return nil
	})
}

func newEnableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn automation on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.client().Enable(cmd.Context())
			if daemonDown(err) {
				return a.setEnabledOffline(cmd.Context(), cmd.OutOrStdout(), true)
			}
			if err != nil {
				return apiError(err)
			}
			printEnabled(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func newDisableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn automation off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.client().Disable(cmd.Context())
			if daemonDown(err) {
				return a.setEnabledOffline(cmd.Context(), cmd.OutOrStdout(), false)
			}
			if err != nil {
				return apiError(err)
			}
			printEnabled(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func newToggleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Flip automation on or off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			resp, err := a.client().Toggle(ctx)
			if daemonDown(err) {
				var enabled bool
				if err := a.withState(ctx, func(prefs *settings.Settings) error {
					var loadErr error
					enabled, loadErr = prefs.Enabled(ctx)
					return loadErr
				}); err != nil {
					return err
				}
				return a.setEnabledOffline(ctx, cmd.OutOrStdout(), !enabled)
			}
			if err != nil {
				return apiError(err)
			}
			printEnabled(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func newBackgroundCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:       "background on|off",
		Short:     "Switch background mode, which drives every agent tab",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			if on && !yes {
				proceed, err := a.confirmBackground(ctx)
				if err != nil {
					return err
				}
				if !proceed {
					fmt.Fprintln(cmd.OutOrStdout(), theme.MutedStyle.Render("Background mode unchanged."))
					return nil
				}
			}

			err = a.client().SetBackground(ctx, on)
			offline := daemonDown(err)
			if offline {
				err = a.withState(ctx, func(prefs *settings.Settings) error {
					return prefs.SetBackground(ctx, on)
				})
			}
			if err != nil {
				return apiError(err)
			}
			state := "off"
			if on {
				state = "on"
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.TextStyle.Render("Background mode: "+state))
			if offline {
				fmt.Fprintln(cmd.OutOrStdout(), theme.MutedStyle.Render(offlineHint))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirmBackground prompts unless the user opted out earlier.
func (a *app) confirmBackground(ctx context.Context) (bool, error) {
	proceed := true
	err := a.withState(ctx, func(prefs *settings.Settings) error {
		dontShow, err := prefs.BackgroundDontShow(ctx)
		if err != nil || dontShow {
			return err
		}
		var stopAsking bool
		proceed, stopAsking, err = confirmBackgroundFn()
		if err != nil {
			return err
		}
		if proceed && stopAsking {
			return prefs.SetBackgroundDontShow(ctx, true)
		}
		return nil
	})
	return proceed, err
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("want on or off, got %q", value)
	}
}

func newFrequencyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "frequency [ms]",
		Short: "Show or set the poll interval in milliseconds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return a.withState(ctx, func(prefs *settings.Settings) error {
					ms, err := prefs.Frequency(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Poll interval: %dms\n", ms)
					return nil
				})
			}

			ms, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(args[0]), "ms"))
			if err != nil {
				return fmt.Errorf("parse frequency %q: %w", args[0], err)
			}
			if ms < settings.MinFrequency || ms > settings.MaxFrequency {
				return fmt.Errorf("%w: %dms not in [%d, %d]", settings.ErrInvalidFrequency, ms, settings.MinFrequency, settings.MaxFrequency)
			}
			err = a.client().SetFrequency(ctx, ms)
			offline := daemonDown(err)
			if offline {
				err = a.withState(ctx, func(prefs *settings.Settings) error {
					return prefs.SetFrequency(ctx, ms)
				})
			}
			if err != nil {
				return apiError(err)
			}
			fmt.Fprintf(out, "Poll interval: %dms\n", ms)
			if offline {
				fmt.Fprintln(out, theme.MutedStyle.Render(offlineHint))
			}
			return nil
		},
	}
}

func newBannedCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "banned",
		Short: "Manage command patterns that are never auto-accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listBanned(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List banned patterns",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.listBanned(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "add <pattern>...",
			Short: "Add patterns; /regex/flags is a regular expression",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.updateBanned(cmd.Context(), cmd.OutOrStdout(), func(current []string) []string {
					for _, pattern := range args {
						pattern = strings.TrimSpace(pattern)
						if pattern != "" && !slices.Contains(current, pattern) {
							current = append(current, pattern)
						}
					}
					return current
				})
			},
		},
		&cobra.Command{
			Use:   "remove <pattern>...",
			Short: "Remove patterns",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.updateBanned(cmd.Context(), cmd.OutOrStdout(), func(current []string) []string {
					return slices.DeleteFunc(current, func(pattern string) bool {
						return slices.Contains(args, pattern)
					})
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Restore the built-in pattern list",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.updateBanned(cmd.Context(), cmd.OutOrStdout(), func([]string) []string {
					return append([]string(nil), banned.DefaultPatterns...)
				})
			},
		},
	)
	return cmd
}

func (a *app) loadBanned(ctx context.Context) ([]string, error) {
	var patterns []string
	err := a.withState(ctx, func(prefs *settings.Settings) error {
		var loadErr error
		patterns, loadErr = prefs.BannedCommands(ctx)
		return loadErr
	})
	return patterns, err
}

func (a *app) listBanned(ctx context.Context, out io.Writer) error {
	patterns, err := a.loadBanned(ctx)
	if err != nil {
		return err
	}
	printBanned(out, patterns)
	return nil
}

func (a *app) updateBanned(ctx context.Context, out io.Writer, edit func([]string) []string) error {
	current, err := a.loadBanned(ctx)
	if err != nil {
		return err
	}
	next := edit(current)

	err = a.client().SetBannedCommands(ctx, next)
	offline := daemonDown(err)
	if offline {
		err = a.withState(ctx, func(prefs *settings.Settings) error {
			return prefs.SetBannedCommands(ctx, next)
		})
	}
	if err != nil {
		return apiError(err)
	}
	printBanned(out, next)
	if offline {
		fmt.Fprintln(out, theme.MutedStyle.Render(offlineHint))
	}
	return nil
}

func printBanned(out io.Writer, patterns []string) {
	if len(patterns) == 0 {
		fmt.Fprintln(out, theme.MutedStyle.Render("No banned patterns."))
		return
	}
	for _, pattern := range banned.Compile(patterns) {
		kind := "text "
		if pattern.IsRegex() {
			kind = "regex"
		}
		fmt.Fprintf(out, "%s %s %s\n", theme.ErrorStyle.Render(theme.IconBlocked), theme.MutedStyle.Render(kind), pattern.Raw)
	}
}
