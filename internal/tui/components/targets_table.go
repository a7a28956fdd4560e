package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/ship-commander/autoaccept/internal/surface"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

// TargetColumns are the per-window columns of the dashboard table.
var TargetColumns = []table.Column{
	{Title: "Window", Width: 24},
	{Title: "State", Width: 12},
	{Title: "Mode", Width: 10},
	{Title: "Accepted", Width: 9},
	{Title: "Blocked", Width: 8},
	{Title: "Tabs", Width: 14},
}

// TargetRows builds one row per injected window, sorted by target id.
func TargetRows(snapshots map[string]surface.Snapshot) []table.Row {
	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		snapshot := snapshots[id]
		rows = append(rows, table.Row{
			truncate(id, TargetColumns[0].Width),
			targetState(snapshot),
			string(snapshot.Mode),
			fmt.Sprint(snapshot.Counters.Accepted),
			fmt.Sprint(snapshot.Counters.Blocked),
			tabProgress(snapshot.Tabs),
		})
	}
	return rows
}

// NewTargetsTable builds the non-interactive table shown on the dashboard.
func NewTargetsTable(snapshots map[string]surface.Snapshot, height int) table.Model {
	if height < 3 {
		height = 3
	}
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.MutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()

	return table.New(
		table.WithColumns(TargetColumns),
		table.WithRows(TargetRows(snapshots)),
		table.WithHeight(height),
		table.WithStyles(styles),
	)
}

func targetState(snapshot surface.Snapshot) string {
	switch {
	case !snapshot.Running:
		return "stopped"
	case snapshot.Paused:
		return "paused"
	default:
		return "running"
	}
}

func tabProgress(tabs []surface.TabView) string {
	if len(tabs) == 0 {
		return "-"
	}
	done := 0
	for _, tab := range tabs {
		if tab.Status.Completed() {
			done++
		}
	}
	return fmt.Sprintf("%d/%d done", done, len(tabs))
}

func truncate(value string, width int) string {
	value = strings.TrimSpace(value)
	if width <= 1 || len(value) <= width {
		return value
	}
	return value[:width-1] + "…"
}
