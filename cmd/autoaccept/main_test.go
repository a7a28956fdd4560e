package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-commander/autoaccept/internal/config"
	"github.com/ship-commander/autoaccept/internal/coordinator"
	"github.com/ship-commander/autoaccept/internal/kvstore"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/license"
	"github.com/ship-commander/autoaccept/internal/session"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/statusapi"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
)

func TestRootCommandVersionFlag(t *testing.T) {
	originalVersion := Version
	defer func() {
		Version = originalVersion
	}()
	Version = "v0.1.0-test"
	cmd := newRootCommand(testApp(t, ""))

	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := strings.TrimSpace(stdout.String())
	if output != "v0.1.0-test" {
		t.Fatalf("version output = %q, want %q", output, "v0.1.0-test")
	}
}

func TestRootCommandHelpListsExpectedSubcommands(t *testing.T) {
	cmd := newRootCommand(testApp(t, ""))
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	output := stdout.String()
	expected := []string{"run", "enable", "disable", "toggle", "status", "background", "banned", "frequency", "summary", "license", "watch", "doctor", "bugreport"}
	for _, name := range expected {
		if !strings.Contains(output, name) {
			t.Fatalf("help output missing %q: %s", name, output)
		}
	}
}

func TestResolveCommandName(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "subcommand", args: []string{"run"}, want: "run"},
		{name: "flags then command", args: []string{"--verbose", "enable"}, want: "enable"},
		{name: "no command defaults to root", args: []string{"--help"}, want: "root"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveCommandName(tc.args); got != tc.want {
				t.Fatalf("resolveCommandName(%v) = %q, want %q", tc.args, got, tc.want)
			}
		})
	}
}

func TestRedactArgs(t *testing.T) {
	input := []string{
		"license",
		"--token",
		"abc123",
		"--password=supersecret",
		"--safe=value",
	}
	want := []string{
		"license",
		"--token",
		"<redacted>",
		"--password=<redacted>",
		"--safe=value",
	}

	if got := redactArgs(input); !reflect.DeepEqual(got, want) {
		t.Fatalf("redactArgs(%v) = %v, want %v", input, got, want)
	}
}

func TestParseSwitch(t *testing.T) {
	for _, value := range []string{"on", "ON", "true", "1", "yes"} {
		on, err := parseSwitch(value)
		require.NoError(t, err)
		assert.True(t, on, value)
	}
	on, err := parseSwitch("off")
	require.NoError(t, err)
	assert.False(t, on)
	_, err = parseSwitch("maybe")
	assert.Error(t, err)
}

func TestEnableOfflineRequiresLicense(t *testing.T) {
	a := testApp(t, "")

	_, err := execute(t, a, "enable")
	require.ErrorIs(t, err, license.ErrLicenseRequired)
	assert.False(t, readSettings(t, a, (*settings.Settings).Enabled))

	withPrefs(t, a, func(ctx context.Context, prefs *settings.Settings) {
		require.NoError(t, prefs.SetPro(ctx, true))
	})
	out, err := execute(t, a, "enable")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto Accept: ON")
	assert.Contains(t, out, "No daemon is running")
	assert.True(t, readSettings(t, a, (*settings.Settings).Enabled))

	out, err = execute(t, a, "toggle")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto Accept: OFF")
	assert.False(t, readSettings(t, a, (*settings.Settings).Enabled))
}

func TestSettingsCommandsOffline(t *testing.T) {
	a := testApp(t, "")

	_, err := execute(t, a, "frequency", "50")
	require.ErrorIs(t, err, settings.ErrInvalidFrequency)

	out, err := execute(t, a, "frequency", "1500ms")
	require.NoError(t, err)
	assert.Contains(t, out, "1500ms")
	out, err = execute(t, a, "frequency")
	require.NoError(t, err)
	assert.Contains(t, out, "Poll interval: 1500ms")

	out, err = execute(t, a, "banned", "add", "git push --force", "/curl .*\\| *sh/")
	require.NoError(t, err)
	assert.Contains(t, out, "git push --force")
	assert.Contains(t, out, "regex")

	out, err = execute(t, a, "banned", "remove", "rm -rf /")
	require.NoError(t, err)
	assert.NotContains(t, out, "rm -rf /\n")
	var patterns []string
	withPrefs(t, a, func(ctx context.Context, prefs *settings.Settings) {
		patterns, err = prefs.BannedCommands(ctx)
		require.NoError(t, err)
	})
	assert.Contains(t, patterns, "git push --force")
	assert.NotContains(t, patterns, "rm -rf /")

	_, err = execute(t, a, "banned", "reset")
	require.NoError(t, err)
	withPrefs(t, a, func(ctx context.Context, prefs *settings.Settings) {
		patterns, err = prefs.BannedCommands(ctx)
		require.NoError(t, err)
	})
	assert.Contains(t, patterns, "rm -rf /")
	assert.NotContains(t, patterns, "git push --force")
}

func TestBackgroundConfirmation(t *testing.T) {
	previous := confirmBackgroundFn
	defer func() { confirmBackgroundFn = previous }()
	a := testApp(t, "")

	prompts := 0
	confirmBackgroundFn = func() (bool, bool, error) {
		prompts++
		return false, false, nil
	}
	out, err := execute(t, a, "background", "on")
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")
	assert.False(t, readSettings(t, a, (*settings.Settings).Background))

	confirmBackgroundFn = func() (bool, bool, error) {
		prompts++
		return true, true, nil
	}
	_, err = execute(t, a, "background", "on")
	require.NoError(t, err)
	assert.True(t, readSettings(t, a, (*settings.Settings).Background))
	assert.True(t, readSettings(t, a, (*settings.Settings).BackgroundDontShow))

	// "Don't show again" suppresses later prompts.
	_, err = execute(t, a, "background", "off")
	require.NoError(t, err)
	_, err = execute(t, a, "background", "on")
	require.NoError(t, err)
	assert.Equal(t, 2, prompts)

	_, err = execute(t, a, "background", "off", "--yes")
	require.NoError(t, err)
	assert.False(t, readSettings(t, a, (*settings.Settings).Background))
}

func TestStatusOffline(t *testing.T) {
	a := testApp(t, "")
	withPrefs(t, a, func(ctx context.Context, prefs *settings.Settings) {
		require.NoError(t, prefs.SetEnabled(ctx, true))
		history, err := stats.NewStore(prefs.KV())
		require.NoError(t, err)
		_, err = history.Add(ctx, surface.Counters{Accepted: 24, Blocked: 1})
		require.NoError(t, err)
		lease, err := leader.NewKVStore(prefs.KV(), settings.LockKey("cursor"))
		require.NoError(t, err)
		require.NoError(t, lease.Save(ctx, leader.Lease{OwnerID: "abcdef0123456789", LastHeartbeat: time.Now()}))
	})

	out, err := execute(t, a, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ON")
	assert.Contains(t, out, "not running")
	assert.Contains(t, out, "abcdef01")
	assert.Contains(t, out, "2 minutes")
}

func TestSummaryNeedsDaemon(t *testing.T) {
	_, err := execute(t, testApp(t, ""), "summary")
	require.ErrorIs(t, err, statusapi.ErrDaemonUnreachable)
}

func TestCommandsUseRunningDaemon(t *testing.T) {
	controller := &fakeController{}
	history, err := stats.NewStore(kvstore.NewMemory())
	require.NoError(t, err)
	handler, err := statusapi.NewHandler(controller, history, nil, nil)
	require.NoError(t, err)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	a := testApp(t, server.URL)

	out, err := execute(t, a, "enable")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto Accept: ON")
	assert.NotContains(t, out, "No daemon is running")

	out, err = execute(t, a, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "leader")

	_, err = execute(t, a, "frequency", "750")
	require.NoError(t, err)
	_, err = execute(t, a, "background", "on", "--yes")
	require.NoError(t, err)

	out, err = execute(t, a, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Refactored the parser.")

	controller.mu.Lock()
	controller.summaryErr = summary.ErrInFlight
	controller.enableErr = license.ErrLicenseRequired
	controller.enabled = false
	controller.mu.Unlock()
	_, err = execute(t, a, "summary")
	require.ErrorIs(t, err, summary.ErrInFlight)
	_, err = execute(t, a, "enable")
	require.ErrorIs(t, err, license.ErrLicenseRequired)

	controller.mu.Lock()
	defer controller.mu.Unlock()
	assert.Equal(t, 750, controller.frequency)
	assert.True(t, controller.background)
}

func testApp(t *testing.T, statusAddr string) *app {
	t.Helper()
	if statusAddr == "" {
		statusAddr = "127.0.0.1:1"
	}
	return &app{
		cfg: &config.Config{
			IDE:            "cursor",
			APIURL:         "http://127.0.0.1:1/api",
			StatePath:      filepath.Join(t.TempDir(), "state.db"),
			SyncInterval:   time.Second,
			StatsInterval:  time.Second,
			LeaseStaleness: 15 * time.Second,
			BridgeTimeout:  time.Second,
			SummaryTimeout: time.Second,
			LicenseTimeout: time.Second,
			StatusAddr:     statusAddr,
			CDPHost:        "127.0.0.1",
		},
		logger:   testLogger(),
		sessions: session.NewTracker(0),
		runID:    "run-test",
	}
}

func testLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{})
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(a)
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func withPrefs(t *testing.T, a *app, fn func(ctx context.Context, prefs *settings.Settings)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.withState(ctx, func(prefs *settings.Settings) error {
		fn(ctx, prefs)
		return nil
	}))
}

func readSettings(t *testing.T, a *app, get func(*settings.Settings, context.Context) (bool, error)) bool {
	t.Helper()
	var value bool
	withPrefs(t, a, func(ctx context.Context, prefs *settings.Settings) {
		var err error
		value, err = get(prefs, ctx)
		require.NoError(t, err)
	})
	return value
}

type fakeController struct {
	mu         sync.Mutex
	enabled    bool
	enableErr  error
	summaryErr error
	frequency  int
	patterns   []string
	background bool
}

func (f *fakeController) Status(context.Context) (coordinator.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return coordinator.Status{Enabled: f.enabled, Role: leader.RoleLeader, IDE: "cursor", FrequencyMS: f.frequency}, nil
}

func (f *fakeController) Snapshots(context.Context) map[string]surface.Snapshot {
	return map[string]surface.Snapshot{}
}

func (f *fakeController) GenerateSummary(context.Context, bool) (summary.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summaryErr != nil {
		return summary.Summary{}, f.summaryErr
	}
	return summary.Summary{Text: "Refactored the parser.", GeneratedAt: time.Now(), SessionID: "session-1"}, nil
}

func (f *fakeController) LastSummary() (summary.Summary, bool) {
	return summary.Summary{}, false
}

func (f *fakeController) Enable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled = true
	return nil
}

func (f *fakeController) Disable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
	return nil
}

func (f *fakeController) Toggle(ctx context.Context) (bool, error) {
	f.mu.Lock()
	enabled := f.enabled
	f.mu.Unlock()
	if enabled {
		return false, f.Disable(ctx)
	}
	return true, f.Enable(ctx)
}

func (f *fakeController) SetBackground(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.background = on
	return nil
}

func (f *fakeController) SetBannedCommands(_ context.Context, patterns []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = patterns
	return nil
}

func (f *fakeController) SetFrequency(_ context.Context, ms int) error {
	if ms < settings.MinFrequency {
		return errors.New("frequency too low")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frequency = ms
	return nil
}
