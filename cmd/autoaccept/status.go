package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/coordinator"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show automation state, leadership and this week's stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			status, err := a.client().Status(ctx)
			if daemonDown(err) {
				status, err = a.offlineStatus(ctx)
				if err != nil {
					return err
				}
				renderStatus(cmd.OutOrStdout(), status, false)
				return nil
			}
			if err != nil {
				return apiError(err)
			}
			renderStatus(cmd.OutOrStdout(), status, true)
			return nil
		},
	}
}

// offlineStatus builds what it can from the shared state alone.
func (a *app) offlineStatus(ctx context.Context) (coordinator.Status, error) {
	status := coordinator.Status{IDE: a.cfg.IDE, Role: leader.RoleUnknown}
	err := a.withState(ctx, func(prefs *settings.Settings) error {
		var errs []error
		var err error
		if status.Enabled, err = prefs.Enabled(ctx); err != nil {
			errs = append(errs, err)
		}
		if status.Background, err = prefs.Background(ctx); err != nil {
			errs = append(errs, err)
		}
		if status.FrequencyMS, err = prefs.Frequency(ctx); err != nil {
			errs = append(errs, err)
		}
		if status.BannedPatterns, err = prefs.BannedCommands(ctx); err != nil {
			errs = append(errs, err)
		}

		lease, err := leader.NewKVStore(prefs.KV(), settings.LockKey(a.cfg.IDE))
		if err != nil {
			return err
		}
		if current, found, err := lease.Load(ctx); err != nil {
			errs = append(errs, err)
		} else if found && time.Since(current.LastHeartbeat) < a.cfg.LeaseStaleness {
			status.Holder = current.OwnerID
		}

		history, err := stats.NewStore(prefs.KV())
		if err != nil {
			return err
		}
		if status.Week, err = history.Load(ctx); err != nil {
			errs = append(errs, err)
		}
		status.TimeSavedThisWeek = stats.FormatTimeSaved(stats.TimeSaved(status.Week.Clicks))
		return errors.Join(errs...)
	})
	return status, err
}

func renderStatus(out io.Writer, status coordinator.Status, daemonRunning bool) {
	label := lipgloss.NewStyle().Foreground(theme.MutedColor).Width(14)
	row := func(name, value string) string {
		return label.Render(name) + value
	}

	state := theme.MutedStyle.Render(theme.IconOff + " OFF")
	if status.Enabled {
		state = theme.SuccessStyle.Render(theme.IconOn + " ON")
	}
	daemon := theme.WarningStyle.Render("not running")
	if daemonRunning {
		daemon = theme.SuccessStyle.Render("running") + theme.MutedStyle.Render(" ("+string(status.Role)+")")
	}
	mode := "foreground"
	if status.Background {
		mode = "background"
	}

	rows := []string{
		theme.TitleStyle.Render("Auto Accept") + "  " + theme.MutedStyle.Render(status.IDE),
		"",
		row("Automation", state),
		row("Daemon", daemon),
		row("Mode", mode),
		row("Poll", fmt.Sprintf("%dms", status.FrequencyMS)),
		row("Banned", fmt.Sprintf("%d patterns", len(status.BannedPatterns))),
	}
	if status.Holder != "" {
		rows = append(rows, row("Leader", shortID(status.Holder)))
	}
	if len(status.Targets) > 0 {
		rows = append(rows, row("Windows", strings.Join(status.Targets, ", ")))
	}
	if status.Session != nil && status.Session.Active() {
		totals := status.SessionTotals
		rows = append(rows, row("Session", fmt.Sprintf("%s since %s, %d accepted, %d blocked",
			shortID(status.Session.ID), status.Session.StartedAt.Local().Format("15:04"), totals.Accepted, totals.Blocked)))
	}
	if status.ConsecutiveFailures > 0 {
		rows = append(rows, row("Bridge", theme.WarningStyle.Render(fmt.Sprintf("%d consecutive failures", status.ConsecutiveFailures))))
	}
	rows = append(rows,
		"",
		row("This week", fmt.Sprintf("%d clicks, %d blocked, %d sessions", status.Week.Clicks, status.Week.Blocked, status.Week.Sessions)),
		row("Time saved", status.TimeSavedThisWeek),
	)

	fmt.Fprintln(out, theme.PanelBorder.Render(strings.Join(rows, "\n")))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
