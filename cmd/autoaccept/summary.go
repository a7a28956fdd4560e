package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ship-commander/autoaccept/internal/statusapi"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

const summaryWrapWidth = 80

func newSummaryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Generate a summary of the current automation session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.ErrOrStderr(), theme.MutedStyle.Render("Generating summary..."))
			result, err := a.client().Summarize(cmd.Context())
			if err != nil {
				return summaryError(err)
			}
			return printSummary(cmd.OutOrStdout(), result)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the last summary generated this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.client().LastSummary(cmd.Context())
			if err != nil {
				return summaryError(err)
			}
			return printSummary(cmd.OutOrStdout(), result)
		},
	})
	return cmd
}

func summaryError(err error) error {
	if daemonDown(err) {
		return fmt.Errorf("%w: summaries are generated by the daemon, start it with `autoaccept run`", statusapi.ErrDaemonUnreachable)
	}
	var failure *statusapi.APIError
	if errors.As(err, &failure) {
		switch failure.Status {
		case http.StatusConflict:
			return summary.ErrInFlight
		case http.StatusUnprocessableEntity:
			return summary.ErrNothingToSummarize
		}
	}
	return apiError(err)
}

func printSummary(out io.Writer, result summary.Summary) error {
	header := fmt.Sprintf("## Session summary\n\n_Generated %s_", result.GeneratedAt.Local().Format("Jan 2 15:04"))
	if result.SessionID != "" {
		header += fmt.Sprintf(" _for session %s_", shortID(result.SessionID))
	}
	_, err := fmt.Fprint(out, renderMarkdown(header+"\n\n"+strings.TrimSpace(result.Text)+"\n", summaryWrapWidth))
	return err
}

func renderMarkdown(markdown string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(40, width)),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
