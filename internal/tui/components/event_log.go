package components

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

const (
	eventLogMinLines          = 3
	eventLogMaxLines          = 12
	eventLogMinWidth          = 24
	eventLogDefaultMaxEntries = 200
)

// EventLogEntry represents one event line in the viewport.
type EventLogEntry struct {
	Severity  string
	Timestamp string
	EventType string
	Message   string
}

// EventLogConfig contains render-time settings for the EventLog component.
type EventLogConfig struct {
	Width          int
	Height         int
	TerminalHeight int
	Events         []EventLogEntry
	MaxEntries     int
	AutoScroll     bool
	// MinSeverity hides entries below it. Empty shows everything.
	MinSeverity    string
}

// EntryFromEvent summarizes a bus event as one log line. Payloads arrive as
// decoded JSON objects when streamed from the daemon.
func EntryFromEvent(event events.Event) EventLogEntry {
	entry := EventLogEntry{
		Severity:  event.Severity,
		EventType: event.Type,
	}
	if !event.Timestamp.IsZero() {
		entry.Timestamp = event.Timestamp.Local().Format("15:04:05")
	}
	if entry.Severity == "" {
		entry.Severity = events.SeverityInfo
	}

	payload, _ := event.Payload.(map[string]any)
	switch event.Type {
	case events.EventTypeNotification:
		entry.Message = payloadString(payload, "message")
	case events.EventTypeStatusChanged:
		if enabled, _ := payload["enabled"].(bool); enabled {
			entry.Message = "automation enabled"
		} else {
			entry.Message = "automation disabled"
		}
	case events.EventTypeLeaderChanged:
		entry.Message = fmt.Sprintf("%s (holder %s)", payloadString(payload, "role"), payloadString(payload, "holder"))
	case events.EventTypeSessionStarted, events.EventTypeSessionEnded:
		entry.Message = event.EntityID
	case events.EventTypeStatsCollected:
		delta, _ := payload["delta"].(map[string]any)
		entry.Message = fmt.Sprintf("+%v accepted, +%v blocked", numberOrZero(delta, "accepted"), numberOrZero(delta, "blocked"))
	case events.EventTypeSummaryUpdated:
		entry.Message = "summary " + payloadString(payload, "status")
	case events.EventTypeHealthCheck:
		checks, _ := payload["checks"].([]any)
		entry.Message = fmt.Sprintf("%d checks", len(checks))
	default:
		entry.Message = event.EntityID
	}
	return entry
}

func payloadString(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func numberOrZero(payload map[string]any, key string) any {
	if value, ok := payload[key].(float64); ok {
		return int(value)
	}
	return 0
}

// EventLogHeight sizes the log to a third of the terminal, within bounds.
// An unknown terminal height gets the maximum.
func EventLogHeight(terminalHeight int) int {
	if terminalHeight <= 0 {
		return eventLogMaxLines
	}
	return min(max(terminalHeight/3, eventLogMinLines), eventLogMaxLines)
}

// BuildEventLogViewport renders the newest MaxEntries entries at or above
// MinSeverity into a viewport.
func BuildEventLogViewport(config EventLogConfig) viewport.Model {
	height := EventLogHeight(config.TerminalHeight)
	if config.Height > 0 {
		height = min(height, max(config.Height, eventLogMinLines))
	}

	limit := config.MaxEntries
	if limit <= 0 {
		limit = eventLogDefaultMaxEntries
	}
	threshold := severityRank(config.MinSeverity)
	rows := make([]string, 0, min(len(config.Events), limit))
	for _, entry := range config.Events {
		if severityRank(entry.Severity) >= threshold {
			rows = append(rows, renderEventRow(entry))
		}
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	if len(rows) == 0 {
		rows = append(rows, theme.MutedStyle.Faint(true).Render("Waiting for events"))
	}

	model := viewport.New(max(config.Width, eventLogMinWidth), height)
	model.SetContent(strings.Join(rows, "\n"))
	if config.AutoScroll {
		model.GotoBottom()
	}
	return model
}

// RenderEventLog renders a scrollable event viewport string.
func RenderEventLog(config EventLogConfig) string {
	return BuildEventLogViewport(config).View()
}

var severityLabels = []string{events.SeverityInfo, events.SeverityWarn, events.SeverityError}

// severityRank orders severities; unknown values rank as info.
func severityRank(severity string) int {
	switch strings.ToUpper(strings.TrimSpace(severity)) {
	case "WARN", "WARNING":
		return 1
	case "ERROR", "FAILED":
		return 2
	default:
		return 0
	}
}

func renderEventRow(entry EventLogEntry) string {
	rank := severityRank(entry.Severity)
	style := lipgloss.NewStyle().Foreground(theme.InfoColor).Bold(true)
	switch rank {
	case 1:
		style = theme.WarningStyle
	case 2:
		style = theme.ErrorStyle
	}
	return strings.Join([]string{
		style.Render("[" + severityLabels[rank] + "]"),
		theme.MutedStyle.Render(cmp.Or(strings.TrimSpace(entry.Timestamp), "--:--:--")),
		theme.TitleStyle.Render(cmp.Or(strings.TrimSpace(entry.EventType), "Event")),
		theme.TextStyle.Render(cmp.Or(strings.TrimSpace(entry.Message), "(no message)")),
	}, " ")
}
