// Package theme holds the dashboard palette, icons and shared styles.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	// Accent highlights keys and the active session.
	Accent = "#5FB3F9"
	// Info marks informational rows.
	Info = "#9999CC"
	// Success marks running automation and completed tabs.
	Success = "#3DD68C"
	// Warning marks standby, paused and in-progress states.
	Warning = "#FFCC00"
	// Danger marks blocked actions and errors.
	Danger = "#FF5C5C"
	// Muted is the secondary text color.
	Muted = "#6C6C84"
	// Text is the primary text color.
	Text = "#F5F6FA"
	// Focus is the border color of the focused panel.
	Focus = "#9966FF"
)

const (
	IconOn      = "●"
	IconOff     = "○"
	IconDone    = "✓"
	IconWarn    = "⚠"
	IconBlocked = "⊘"
	IconPaused  = "⏸"
	IconFailed  = "✗"
)

var (
	AccentColor  = profileColor(Accent, "75", "12")
	InfoColor    = profileColor(Info, "146", "12")
	SuccessColor = profileColor(Success, "42", "10")
	WarningColor = profileColor(Warning, "220", "11")
	DangerColor  = profileColor(Danger, "203", "9")
	MutedColor   = profileColor(Muted, "60", "8")
	TextColor    = profileColor(Text, "255", "15")
	FocusColor   = profileColor(Focus, "99", "5")
)

var (
	TitleStyle   = lipgloss.NewStyle().Foreground(AccentColor).Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(DangerColor).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(MutedColor)
	TextStyle    = lipgloss.NewStyle().Foreground(TextColor)

	PanelBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 1)

	PanelBorderFocused = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(FocusColor).
				Padding(0, 1)

	OverlayBorder = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(AccentColor).
			Padding(0, 1)
)

var colorProfileFn = lipgloss.ColorProfile

func profileColor(hex string, ansi256 string, ansi string) lipgloss.TerminalColor {
	switch colorProfileFn() {
	case termenv.ANSI256, termenv.ANSI:
		color := lipgloss.CompleteColor{TrueColor: hex, ANSI256: ansi256, ANSI: ansi}
		return lipgloss.CompleteAdaptiveColor{Light: color, Dark: color}
	default:
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	}
}
