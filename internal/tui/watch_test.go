package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-commander/autoaccept/internal/coordinator"
	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/statusapi"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
)

type fakeDaemon struct {
	mu        sync.Mutex
	enabled   bool
	statusErr error
	toggles   int
	stream    chan events.Event
}

func (f *fakeDaemon) Status(context.Context) (coordinator.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return coordinator.Status{}, f.statusErr
	}
	return coordinator.Status{Enabled: f.enabled, Role: leader.RoleLeader, IDE: "cursor", FrequencyMS: 1000}, nil
}

func (f *fakeDaemon) Snapshots(context.Context) (map[string]surface.Snapshot, error) {
	return map[string]surface.Snapshot{"page-1": {Running: true, Counters: surface.Counters{Accepted: 4}}}, nil
}

func (f *fakeDaemon) Toggle(context.Context) (statusapi.EnabledResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	f.enabled = !f.enabled
	return statusapi.EnabledResponse{Enabled: f.enabled}, nil
}

func (f *fakeDaemon) Summarize(context.Context) (summary.Summary, error) {
	return summary.Summary{Text: "Refactored the parser.\nAdded tests."}, nil
}

func (f *fakeDaemon) Events(context.Context) (<-chan events.Event, error) {
	return f.stream, nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestStatusMessageRendersHeaderAndTable(t *testing.T) {
	daemon := &fakeDaemon{enabled: true}
	model := NewModel(context.Background(), daemon, time.Second)
	_, _ = model.Update(tea.WindowSizeMsg{Width: 140, Height: 40})

	assert.Contains(t, model.View(), "connecting to daemon")

	msg := model.fetchStatus()()
	_, _ = model.Update(msg)
	view := model.View()
	assert.Contains(t, view, "ENABLED")
	assert.Contains(t, view, "LEADER")
	assert.Contains(t, view, "cursor · 1000ms")
	assert.Contains(t, view, "page-1")
	assert.Contains(t, view, "no active session")
}

func TestEventsAppendAndKeepListening(t *testing.T) {
	daemon := &fakeDaemon{stream: make(chan events.Event, 1)}
	model := NewModel(context.Background(), daemon, time.Second)
	_, _ = model.Update(tea.WindowSizeMsg{Width: 200, Height: 40})

	_, cmd := model.Update(model.subscribe()())
	require.NotNil(t, cmd)
	assert.True(t, model.streaming)

	daemon.stream <- events.Event{
		Type:      events.EventTypeNotification,
		Timestamp: time.Now(),
		Payload:   map[string]any{"message": "Auto Accept handled 2 actions while you were away."},
	}
	next := cmd()
	_, cmd = model.Update(next)
	require.NotNil(t, cmd)
	require.Len(t, model.entries, 1)
	assert.Contains(t, model.View(), "while you were away")

	close(daemon.stream)
	_, _ = model.Update(waitForEvent(daemon.stream)())
	assert.False(t, model.streaming)
	assert.Equal(t, "event stream closed", model.entries[len(model.entries)-1].Message)
}

func TestToggleKeyRunsDaemonToggle(t *testing.T) {
	daemon := &fakeDaemon{}
	model := NewModel(context.Background(), daemon, time.Second)

	_, cmd := model.Update(key("t"))
	require.NotNil(t, cmd)
	assert.True(t, model.busy)

	_, second := model.Update(key("t"))
	assert.Nil(t, second, "toggle is disabled while an action runs")

	_, _ = model.Update(cmd())
	assert.False(t, model.busy)
	assert.Equal(t, "automation enabled", model.notice)
	assert.Equal(t, 1, daemon.toggles)
}

func TestSummaryKeyRequiresEnabledAutomation(t *testing.T) {
	daemon := &fakeDaemon{}
	model := NewModel(context.Background(), daemon, time.Second)
	_, _ = model.Update(model.fetchStatus()())

	_, cmd := model.Update(key("s"))
	assert.Nil(t, cmd)

	daemon.enabled = true
	_, _ = model.Update(model.fetchStatus()())
	_, cmd = model.Update(key("s"))
	require.NotNil(t, cmd)
	_, _ = model.Update(cmd())
	assert.Equal(t, "summary ready: Refactored the parser.", model.notice)
}

func TestErrorsAndHelpOverlay(t *testing.T) {
	daemon := &fakeDaemon{statusErr: errors.New("autoaccept daemon is not running")}
	model := NewModel(context.Background(), daemon, time.Second)

	_, _ = model.Update(model.fetchStatus()())
	assert.Contains(t, model.View(), "error: autoaccept daemon is not running")

	_, _ = model.Update(key("?"))
	assert.Contains(t, model.View(), "toggle automation")
	_, _ = model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.NotContains(t, model.View(), "toggle automation")

	_, _ = model.Update(key("a"))
	assert.False(t, model.autoScroll)

	_, cmd := model.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, "", model.View())
}

func TestFirstLineTruncates(t *testing.T) {
	assert.Equal(t, "short", firstLine("  short\nsecond"))
	long := strings.Repeat("x", 100)
	assert.Len(t, []rune(firstLine(long)), 80)
}
