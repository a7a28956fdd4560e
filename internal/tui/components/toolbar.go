package components

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

const toolbarSeparator = "  "

// ToolbarButton is one `[key] Label` hint bound to a command.
type ToolbarButton struct {
	Key     string
	Label   string
	Action  tea.Cmd
	Enabled bool
}

// RenderToolbar renders the buttons on one line. Disabled buttons are dimmed.
func RenderToolbar(buttons []ToolbarButton) string {
	parts := make([]string, 0, len(buttons))
	for _, button := range buttons {
		keyStyle := lipgloss.NewStyle().Foreground(theme.AccentColor)
		labelStyle := theme.TextStyle
		if !button.Enabled {
			keyStyle = theme.MutedStyle
			labelStyle = theme.MutedStyle
		}
		parts = append(parts, keyStyle.Render("["+button.Key+"]")+" "+labelStyle.Render(button.Label))
	}
	return strings.Join(parts, toolbarSeparator)
}

// ToolbarCommand returns the command bound to key, or nil when the key is
// unknown or its button is disabled.
func ToolbarCommand(buttons []ToolbarButton, key string) tea.Cmd {
	for _, button := range buttons {
		if strings.EqualFold(strings.TrimSpace(button.Key), strings.TrimSpace(key)) {
			if !button.Enabled {
				return nil
			}
			return button.Action
		}
	}
	return nil
}
