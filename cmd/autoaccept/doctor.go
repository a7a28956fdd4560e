package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/cdp"
	"github.com/ship-commander/autoaccept/internal/doctor"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

var errUnhealthy = errors.New("doctor found problems")

func newDoctorCommand(a *app) *cobra.Command {
	var guide bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check editor connectivity, state, leadership and license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDoctor(cmd.Context(), cmd.OutOrStdout(), guide)
		},
	}
	cmd.Flags().BoolVar(&guide, "guide", false, "print the setup guide")
	return cmd
}

func (a *app) runDoctor(ctx context.Context, out io.Writer, forceGuide bool) error {
	connector, err := a.newConnector()
	if err != nil {
		return err
	}
	defer func() { _ = connector.Close() }()

	return a.withState(ctx, func(prefs *settings.Settings) error {
		lease, err := leader.NewKVStore(prefs.KV(), settings.LockKey(a.cfg.IDE))
		if err != nil {
			return err
		}
		verifier, err := a.newVerifier(prefs)
		if err != nil {
			return err
		}
		manager, err := doctor.NewManager(doctor.Deps{
			Prober:  connector,
			State:   prefs,
			Lease:   lease,
			License: verifier,
		}, doctor.Config{IDE: a.cfg.IDE, Staleness: a.cfg.LeaseStaleness})
		if err != nil {
			return err
		}

		firstRun, err := doctor.ShowGuideOnce(ctx, prefs)
		if err != nil {
			a.logger.Warn("first-run guide", "error", err)
		}
		if forceGuide || firstRun {
			fmt.Fprint(out, renderMarkdown(doctor.Guide(a.cfg.IDE, a.guidePort(), ""), summaryWrapWidth))
		}

		report := manager.RunOnce(ctx)
		renderReport(out, report)
		if !report.Healthy() {
			return errUnhealthy
		}
		return nil
	})
}

func (a *app) guidePort() int {
	if len(a.cfg.CDPPorts) > 0 {
		return a.cfg.CDPPorts[0]
	}
	return cdp.DefaultPort
}

func renderReport(out io.Writer, report doctor.Report) {
	name := lipgloss.NewStyle().Width(18)
	for _, check := range report.Checks {
		var icon string
		switch check.Outcome {
		case doctor.OutcomeOK:
			icon = theme.SuccessStyle.Render(theme.IconDone)
		case doctor.OutcomeWarn:
			icon = theme.WarningStyle.Render(theme.IconWarn)
		default:
			icon = theme.ErrorStyle.Render(theme.IconFailed)
		}
		fmt.Fprintf(out, "%s %s%s\n", icon, name.Render(check.Name), check.Detail)
		if check.Fix != "" && check.Outcome != doctor.OutcomeOK {
			fmt.Fprintf(out, "  %s\n", theme.MutedStyle.Render(check.Fix))
		}
	}
}
