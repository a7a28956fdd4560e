package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

// BadgeOpt configures optional rendering behavior for StatusBadge.
type BadgeOpt func(*badgeOptions)

type badgeOptions struct {
	showIcon bool
	bold     bool
}

type badgeVariant struct {
	icon  string
	label string
	color lipgloss.TerminalColor
}

// Keys cover automation state, election role and tab completion.
var statusBadgeVariants = map[string]badgeVariant{
	"enabled":          {icon: theme.IconOn, label: "ENABLED", color: theme.SuccessColor},
	"disabled":         {icon: theme.IconOff, label: "DISABLED", color: theme.MutedColor},
	"running":          {icon: theme.IconOn, label: "RUNNING", color: theme.SuccessColor},
	"stopped":          {icon: theme.IconOff, label: "STOPPED", color: theme.MutedColor},
	"paused":           {icon: theme.IconPaused, label: "PAUSED", color: theme.WarningColor},
	"leader":           {icon: theme.IconOn, label: "LEADER", color: theme.AccentColor},
	"standby":          {icon: theme.IconPaused, label: "STANDBY", color: theme.WarningColor},
	"unknown":          {icon: theme.IconWarn, label: "UNKNOWN", color: theme.MutedColor},
	"in_progress":      {icon: theme.IconOn, label: "IN PROGRESS", color: theme.WarningColor},
	"done":             {icon: theme.IconDone, label: "DONE", color: theme.SuccessColor},
	"done_with_errors": {icon: theme.IconFailed, label: "ERRORS", color: theme.DangerColor},
}

// WithBadgeIcon controls whether the icon is shown (default: true).
func WithBadgeIcon(show bool) BadgeOpt {
	return func(options *badgeOptions) {
		options.showIcon = show
	}
}

// WithBadgeBold controls whether the badge text is bold (default: false).
func WithBadgeBold(bold bool) BadgeOpt {
	return func(options *badgeOptions) {
		options.bold = bold
	}
}

// RenderStatusBadge renders `icon LABEL` in the status color.
func RenderStatusBadge(status string, opts ...BadgeOpt) string {
	options := badgeOptions{showIcon: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	variant, ok := statusBadgeVariants[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		label := strings.ToUpper(strings.TrimSpace(status))
		if label == "" {
			label = "UNKNOWN"
		}
		variant = badgeVariant{icon: theme.IconWarn, label: label, color: theme.MutedColor}
	}

	content := variant.label
	if options.showIcon {
		content = variant.icon + " " + variant.label
	}
	return lipgloss.NewStyle().
		Foreground(variant.color).
		Bold(options.bold).
		Render(content)
}
