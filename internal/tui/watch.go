// Package tui implements the `autoaccept watch` dashboard: live status,
// per-window counters and the daemon's event stream.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ship-commander/autoaccept/internal/coordinator"
	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/statusapi"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
	"github.com/ship-commander/autoaccept/internal/tui/components"
	"github.com/ship-commander/autoaccept/internal/tui/theme"
)

const (
	// DefaultRefresh is how often status is re-fetched without events.
	DefaultRefresh = 5 * time.Second
	maxEntries = 200
)

// Daemon is the subset of the status API client used by the dashboard.
type Daemon interface {
	Status(ctx context.Context) (coordinator.Status, error)
	Snapshots(ctx context.Context) (map[string]surface.Snapshot, error)
	Toggle(ctx context.Context) (statusapi.EnabledResponse, error)
	Summarize(ctx context.Context) (summary.Summary, error)
	Events(ctx context.Context) (<-chan events.Event, error)
}

type statusMsg struct {
	status    coordinator.Status
	snapshots map[string]surface.Snapshot
	err       error
}

type streamMsg struct {
	stream <-chan events.Event
	err    error
}

type eventMsg struct {
	event  events.Event
	stream <-chan events.Event
}

type streamClosedMsg struct{}

type tickMsg time.Time

type actionMsg struct {
	notice string
	err    error
}

// Model is the root Bubble Tea model of the dashboard.
type Model struct {
	ctx     context.Context
	daemon  Daemon
	refresh time.Duration

	status     coordinator.Status
	haveStatus bool
	snapshots  map[string]surface.Snapshot
	entries    []components.EventLogEntry
	autoScroll bool
	streaming  bool

	width    int
	height   int
	showHelp bool
	busy     bool
	notice   string
	err      error
	quitting bool
}

// NewModel builds a dashboard bound to daemon.
func NewModel(ctx context.Context, daemon Daemon, refresh time.Duration) *Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Model{
		ctx:        ctx,
		daemon:     daemon,
		refresh:    refresh,
		snapshots:  map[string]surface.Snapshot{},
		autoScroll: true,
	}
}

// Run starts the dashboard in the alternate screen until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, daemon Daemon) error {
	program := tea.NewProgram(NewModel(ctx, daemon, DefaultRefresh), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init satisfies tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.subscribe(), m.tick())
}

// Update satisfies tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		return m, nil
	case statusMsg:
		m.err = typed.err
		if typed.err == nil {
			m.status = typed.status
			m.snapshots = typed.snapshots
			m.haveStatus = true
		}
		return m, nil
	case streamMsg:
		if typed.err != nil {
			m.err = typed.err
			return m, nil
		}
		m.streaming = true
		return m, waitForEvent(typed.stream)
	case eventMsg:
		m.appendEntry(components.EntryFromEvent(typed.event))
		cmds := []tea.Cmd{waitForEvent(typed.stream)}
		if refreshesStatus(typed.event.Type) {
			cmds = append(cmds, m.fetchStatus())
		}
		return m, tea.Batch(cmds...)
	case streamClosedMsg:
		m.streaming = false
		m.appendEntry(components.EventLogEntry{
			Severity:  events.SeverityWarn,
			Timestamp: time.Now().Format("15:04:05"),
			EventType: "Stream",
			Message:   "event stream closed",
		})
		return m, nil
	case tickMsg:
		cmds := []tea.Cmd{m.fetchStatus(), m.tick()}
		if !m.streaming {
			cmds = append(cmds, m.subscribe())
		}
		return m, tea.Batch(cmds...)
	case actionMsg:
		m.busy = false
		m.notice = typed.notice
		if typed.err != nil {
			m.notice = ""
			m.err = typed.err
		}
		return m, m.fetchStatus()
	case tea.KeyMsg:
		return m.handleKey(typed)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "esc":
		m.showHelp = false
		return m, nil
	case "a":
		m.autoScroll = !m.autoScroll
		return m, nil
	}
	cmd := components.ToolbarCommand(m.toolbar(), msg.String())
	if cmd == nil {
		return m, nil
	}
	switch msg.String() {
	case "t", "s":
		m.busy = true
		m.err = nil
	}
	return m, cmd
}

func (m *Model) toolbar() []components.ToolbarButton {
	scroll := "Pause scroll"
	if !m.autoScroll {
		scroll = "Follow"
	}
	return []components.ToolbarButton{
		{Key: "t", Label: "Toggle", Enabled: !m.busy, Action: m.toggle()},
		{Key: "s", Label: "Summary", Enabled: !m.busy && m.status.Enabled, Action: m.summarize()},
		{Key: "a", Label: scroll, Enabled: true},
		{Key: "?", Label: "Help", Enabled: true},
		{Key: "q", Label: "Quit", Enabled: true},
	}
}

// View satisfies tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{m.renderHeader()}
	if m.haveStatus {
		sections = append(sections,
			m.renderTotals(),
			theme.PanelBorder.Render(components.NewTargetsTable(m.snapshots, len(m.snapshots)+1).View()),
		)
	}
	sections = append(sections,
		theme.PanelBorderFocused.Render(components.RenderEventLog(components.EventLogConfig{
			Width:          m.contentWidth(),
			TerminalHeight: m.height,
			Events:         m.entries,
			MaxEntries:     maxEntries,
			AutoScroll:     m.autoScroll,
		})),
		components.RenderToolbar(m.toolbar()),
	)
	if m.notice != "" {
		sections = append(sections, theme.SuccessStyle.Render(m.notice))
	}
	if m.err != nil {
		sections = append(sections, theme.ErrorStyle.Render("error: "+m.err.Error()))
	}

	base := lipgloss.JoinVertical(lipgloss.Left, sections...)
	if m.showHelp {
		return lipgloss.JoinVertical(lipgloss.Left, base, theme.OverlayBorder.Render(helpText))
	}
	return base
}

const helpText = `t  toggle automation (license required to enable)
s  generate a session summary now
a  pause or follow the event log
q  quit the dashboard (the daemon keeps running)`

func (m *Model) renderHeader() string {
	title := theme.TitleStyle.Render("Auto Accept")
	if !m.haveStatus {
		return title + "  " + theme.MutedStyle.Render("connecting to daemon…")
	}
	state := "disabled"
	if m.status.Enabled {
		state = "enabled"
	}
	parts := []string{
		title,
		components.RenderStatusBadge(state, components.WithBadgeBold(true)),
		components.RenderStatusBadge(string(m.status.Role)),
		theme.MutedStyle.Render(fmt.Sprintf("%s · %dms", m.status.IDE, m.status.FrequencyMS)),
	}
	if m.status.Background {
		parts = append(parts, theme.WarningStyle.Render("background"))
	}
	if m.status.SummaryInFlight {
		parts = append(parts, theme.MutedStyle.Render("summarizing…"))
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderTotals() string {
	totals := m.status.SessionTotals
	session := theme.MutedStyle.Render("no active session")
	if m.status.Session != nil {
		session = fmt.Sprintf("session: %d accepted · %d terminal · %d edits · %d blocked",
			totals.Accepted, totals.TerminalCommands, totals.FileEdits, totals.Blocked)
	}
	week := fmt.Sprintf("this week: %d clicks · %d blocked · %d sessions · ~%s saved",
		m.status.Week.Clicks, m.status.Week.Blocked, m.status.Week.Sessions, m.status.TimeSavedThisWeek)
	return theme.TextStyle.Render(session) + "\n" + theme.TextStyle.Render(week)
}

func (m *Model) contentWidth() int {
	return m.width - 4
}

func (m *Model) appendEntry(entry components.EventLogEntry) {
	m.entries = append(m.entries, entry)
	if len(m.entries) > maxEntries {
		m.entries = append([]components.EventLogEntry(nil), m.entries[len(m.entries)-maxEntries:]...)
	}
}

func (m *Model) fetchStatus() tea.Cmd {
	ctx, daemon := m.ctx, m.daemon
	return func() tea.Msg {
		status, err := daemon.Status(ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		snapshots, err := daemon.Snapshots(ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{status: status, snapshots: snapshots}
	}
}

func (m *Model) subscribe() tea.Cmd {
	ctx, daemon := m.ctx, m.daemon
	return func() tea.Msg {
		stream, err := daemon.Events(ctx)
		return streamMsg{stream: stream, err: err}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) toggle() tea.Cmd {
	ctx, daemon := m.ctx, m.daemon
	return func() tea.Msg {
		resp, err := daemon.Toggle(ctx)
		if err != nil {
			return actionMsg{err: err}
		}
		notice := "automation disabled"
		if resp.Enabled {
			notice = "automation enabled"
		}
		if resp.Warning != "" {
			notice += " (" + resp.Warning + ")"
		}
		return actionMsg{notice: notice}
	}
}

func (m *Model) summarize() tea.Cmd {
	ctx, daemon := m.ctx, m.daemon
	return func() tea.Msg {
		result, err := daemon.Summarize(ctx)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{notice: "summary ready: " + firstLine(result.Text)}
	}
}

func waitForEvent(stream <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-stream
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{event: event, stream: stream}
	}
}

func refreshesStatus(eventType string) bool {
	switch eventType {
	case events.EventTypeStatusChanged,
		events.EventTypeLeaderChanged,
		events.EventTypeSessionStarted,
		events.EventTypeSessionEnded,
		events.EventTypeStatsCollected,
		events.EventTypeSummaryUpdated:
		return true
	default:
		return false
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if len(line) > 80 {
		return line[:79] + "…"
	}
	return line
}
