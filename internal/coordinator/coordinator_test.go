package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-commander/autoaccept/internal/bridge"
	"github.com/ship-commander/autoaccept/internal/dom"
	"github.com/ship-commander/autoaccept/internal/dom/domtest"
	"github.com/ship-commander/autoaccept/internal/kvstore"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/license"
	"github.com/ship-commander/autoaccept/internal/notify"
	"github.com/ship-commander/autoaccept/internal/session"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
)

type fakeSurfaces struct {
	mu        sync.Mutex
	targets   []string
	injectErr error
	pending   surface.Counters
	away      int
	calls     int
	started   []surface.Config
	stopped   int
	running   bool
}

func (f *fakeSurfaces) Inject(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.injectErr
}

func (f *fakeSurfaces) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.injectErr != nil {
		return nil
	}
	return append([]string(nil), f.targets...)
}

func (f *fakeSurfaces) Start(_ context.Context, _ string, cfg surface.Config) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.started = append(f.started, cfg)
	f.running = true
	return uint64(len(f.started)), nil
}

func (f *fakeSurfaces) Stop(context.Context, string) (surface.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.stopped++
	f.running = false
	return f.pending, nil
}

func (f *fakeSurfaces) Stats(_ context.Context, _ string, reset bool) (surface.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := f.pending
	if reset {
		f.pending = surface.Counters{}
	}
	return out, nil
}

func (f *fakeSurfaces) ConsumeAwayActions(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	n := f.away
	f.away = 0
	return n, nil
}

func (f *fakeSurfaces) Snapshot(context.Context, string) (surface.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return surface.Snapshot{Running: true}, nil
}

func (f *fakeSurfaces) add(delta surface.Counters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending.Add(delta)
}

func (f *fakeSurfaces) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSurfaces) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSummaries struct {
	mu       sync.Mutex
	polls    int
	pollOpts []summary.Options
	reset    int
}

func (f *fakeSummaries) Poll(_ context.Context, opts summary.Options) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	f.pollOpts = append(f.pollOpts, opts)
	return false, nil
}

func (f *fakeSummaries) polled() []summary.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]summary.Options(nil), f.pollOpts...)
}

func (f *fakeSummaries) Generate(context.Context, summary.Options) (summary.Summary, error) {
	return summary.Summary{Text: "done"}, nil
}

func (f *fakeSummaries) InFlight() bool { return false }

func (f *fakeSummaries) Last() (summary.Summary, bool) { return summary.Summary{}, false }

func (f *fakeSummaries) ResetLast() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset++
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recorder) kinds(kind notify.Kind) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type gate struct{ err error }

func (g gate) Require(context.Context) error { return g.err }

type harness struct {
	coord     *Coordinator
	kv        *kvstore.Memory
	settings  *settings.Settings
	stats     *stats.Store
	sessions  *session.Tracker
	surfaces  Surfaces
	summaries *fakeSummaries
	notes     *recorder
}

func newHarness(t *testing.T, surfaces Surfaces, kv *kvstore.Memory, selfID string) *harness {
	t.Helper()
	if kv == nil {
		kv = kvstore.NewMemory()
	}
	store, err := settings.New(kv)
	require.NoError(t, err)
	weekly, err := stats.NewStore(kv)
	require.NoError(t, err)
	leases, err := leader.NewKVStore(kv, settings.LockKey("cursor"))
	require.NoError(t, err)
	elector, err := leader.NewElector(leases, selfID, leader.Config{})
	require.NoError(t, err)

	h := &harness{
		kv:        kv,
		settings:  store,
		stats:     weekly,
		sessions:  session.NewTracker(0),
		surfaces:  surfaces,
		summaries: &fakeSummaries{},
		notes:     &recorder{},
	}
	h.coord, err = New(Config{IDE: "cursor"}, Deps{
		Settings:  store,
		Stats:     weekly,
		Sessions:  h.sessions,
		Surfaces:  surfaces,
		Elector:   elector,
		Summaries: h.summaries,
		Notifier:  h.notes,
	})
	require.NoError(t, err)
	return h
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestDisableAnnouncesSessionOnce(t *testing.T) {
	surfaces := &fakeSurfaces{targets: []string{"page"}}
	h := newHarness(t, surfaces, nil, "self")
	ctx := context.Background()

	require.NoError(t, h.coord.Enable(ctx))
	surfaces.add(surface.Counters{Accepted: 5, FileEdits: 3, TerminalCommands: 2})
	require.NoError(t, h.coord.Disable(ctx))
	require.NoError(t, h.coord.Disable(ctx))

	ended := h.notes.kinds(notify.KindSessionEnded)
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Message, "5")
	assert.Contains(t, ended[0].Detail, "2 terminal commands")
	assert.Equal(t, 1, surfaces.stopped)

	week, err := h.stats.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, week.Clicks)
	assert.Equal(t, 1, week.Sessions)

	enabled, err := h.settings.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestDisableWithoutClicksStaysQuiet(t *testing.T) {
	h := newHarness(t, &fakeSurfaces{targets: []string{"page"}}, nil, "self")
	ctx := context.Background()

	require.NoError(t, h.coord.Enable(ctx))
	require.NoError(t, h.coord.Disable(ctx))
	assert.Empty(t, h.notes.kinds(notify.KindSessionEnded))
}

func TestEnableRequiresLicense(t *testing.T) {
	surfaces := &fakeSurfaces{targets: []string{"page"}}
	h := newHarness(t, surfaces, nil, "self")
	h.coord.license = gate{err: license.ErrLicenseRequired}
	ctx := context.Background()

	err := h.coord.Enable(ctx)
	require.ErrorIs(t, err, license.ErrLicenseRequired)
	assert.Len(t, h.notes.kinds(notify.KindLicenseRequired), 1)
	assert.Zero(t, surfaces.callCount())

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
}

func TestSetupNotificationAfterConsecutiveFailures(t *testing.T) {
	surfaces := &fakeSurfaces{targets: []string{"page"}, injectErr: errors.New("connection refused")}
	h := newHarness(t, surfaces, nil, "self")
	ctx := context.Background()

	require.Error(t, h.coord.Enable(ctx))
	for i := 0; i < 4; i++ {
		require.Error(t, h.coord.SyncOnce(ctx))
	}
	require.Len(t, h.notes.kinds(notify.KindSetupRequired), 1)

	surfaces.mu.Lock()
	surfaces.injectErr = nil
	surfaces.mu.Unlock()
	require.NoError(t, h.coord.SyncOnce(ctx))

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.Equal(t, []string{"page"}, status.Targets)
}

func TestStandbyNeverTouchesSurfaces(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	leases, err := leader.NewKVStore(kv, settings.LockKey("cursor"))
	require.NoError(t, err)
	require.NoError(t, leases.Save(ctx, leader.Lease{OwnerID: "other", LastHeartbeat: time.Now().UTC()}))

	surfaces := &fakeSurfaces{targets: []string{"page"}}
	h := newHarness(t, surfaces, kv, "self")

	require.NoError(t, h.coord.Enable(ctx))
	require.NoError(t, h.coord.CollectOnce(ctx))

	assert.Zero(t, surfaces.callCount())
	assert.Nil(t, h.coord.Snapshots(ctx))
	assert.Len(t, h.notes.kinds(notify.KindStandby), 1)

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, leader.RoleStandby, status.Role)
	assert.Equal(t, "other", status.Holder)
}

func TestLosingLeaseStopsAndDrainsSurfaces(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	surfaces := &fakeSurfaces{targets: []string{"a", "b"}}
	h := newHarness(t, surfaces, kv, "self")

	require.NoError(t, h.coord.Enable(ctx))
	require.True(t, surfaces.isRunning())
	surfaces.add(surface.Counters{Accepted: 3, Blocked: 1})

	leases, err := leader.NewKVStore(kv, settings.LockKey("cursor"))
	require.NoError(t, err)
	require.NoError(t, leases.Save(ctx, leader.Lease{OwnerID: "other", LastHeartbeat: time.Now().UTC()}))
	require.NoError(t, h.coord.SyncOnce(ctx))

	status, err := h.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, leader.RoleStandby, status.Role)
	assert.Equal(t, "other", status.Holder)
	assert.Empty(t, status.Targets)
	assert.False(t, surfaces.isRunning())
	assert.Equal(t, 2, surfaces.stopped)
	assert.Len(t, h.notes.kinds(notify.KindStandby), 1)

	week, err := h.stats.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, week.Clicks)
	assert.Equal(t, 1, week.Blocked)
	assert.Equal(t, 3, h.sessions.Current().Totals.Accepted)

	// Standby ticks leave the surfaces alone.
	calls := surfaces.callCount()
	require.NoError(t, h.coord.SyncOnce(ctx))
	require.NoError(t, h.coord.CollectOnce(ctx))
	assert.Equal(t, calls, surfaces.callCount())
}

func TestLeaseHandOffKeepsOneProcessDriving(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	first := &fakeSurfaces{targets: []string{"page"}}
	second := &fakeSurfaces{targets: []string{"page"}}
	a := newHarness(t, first, kv, "A")
	b := newHarness(t, second, kv, "B")

	require.NoError(t, a.coord.Enable(ctx))
	require.NoError(t, b.coord.SyncOnce(ctx))
	assert.True(t, first.isRunning())
	assert.False(t, second.isRunning())
	assert.Zero(t, second.callCount())

	// A stops heartbeating; B takes over on its next tick.
	leases, err := leader.NewKVStore(kv, settings.LockKey("cursor"))
	require.NoError(t, err)
	require.NoError(t, leases.Save(ctx, leader.Lease{OwnerID: "A", LastHeartbeat: time.Now().UTC().Add(-time.Minute)}))
	require.NoError(t, b.coord.SyncOnce(ctx))
	assert.True(t, second.isRunning())

	// A comes back, finds B's fresh heartbeat and yields.
	require.NoError(t, a.coord.SyncOnce(ctx))
	assert.False(t, first.isRunning())
	assert.True(t, second.isRunning())

	statusA, err := a.coord.Status(ctx)
	require.NoError(t, err)
	statusB, err := b.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, leader.RoleStandby, statusA.Role)
	assert.Equal(t, leader.RoleLeader, statusB.Role)
	assert.Equal(t, "B", statusA.Holder)
	assert.Equal(t, []string{"page"}, statusB.Targets)
}

func TestOverlaySummaryPollsAreSilent(t *testing.T) {
	h := newHarness(t, &fakeSurfaces{targets: []string{"page"}}, nil, "self")
	ctx := context.Background()

	require.NoError(t, h.coord.Enable(ctx))
	require.Eventually(t, func() bool { return len(h.summaries.polled()) > 0 }, time.Second, 5*time.Millisecond)
	for _, opts := range h.summaries.polled() {
		assert.True(t, opts.Silent)
		assert.Equal(t, "cursor", opts.IDE)
	}
}

func TestCollectDrainsCountersAndAwayActions(t *testing.T) {
	surfaces := &fakeSurfaces{targets: []string{"a", "b"}}
	h := newHarness(t, surfaces, nil, "self")
	ctx := context.Background()

	require.NoError(t, h.coord.Enable(ctx))
	surfaces.add(surface.Counters{Accepted: 2, Blocked: 1})
	surfaces.mu.Lock()
	surfaces.away = 3
	surfaces.mu.Unlock()

	require.NoError(t, h.coord.CollectOnce(ctx))
	require.NoError(t, h.coord.CollectOnce(ctx))

	week, err := h.stats.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, week.Clicks)
	assert.Equal(t, 1, week.Blocked)
	assert.Equal(t, 2, h.sessions.Current().Totals.Accepted)

	away := h.notes.kinds(notify.KindAwayActions)
	require.Len(t, away, 1)
	assert.Equal(t, "Auto Accept handled 3 actions while you were away.", away[0].Message)
}

func TestSyncFollowsFlagWrittenByAnotherProcess(t *testing.T) {
	surfaces := &fakeSurfaces{targets: []string{"page"}}
	h := newHarness(t, surfaces, nil, "self")
	ctx := context.Background()

	require.NoError(t, h.settings.SetEnabled(ctx, true))
	require.NoError(t, h.coord.SyncOnce(ctx))
	assert.True(t, h.sessions.Current().Active())

	require.NoError(t, h.settings.SetEnabled(ctx, false))
	require.NoError(t, h.coord.SyncOnce(ctx))
	assert.False(t, h.sessions.Current().Active())
	assert.Equal(t, 1, surfaces.stopped)
}

func TestSettingChangesResyncSurfaces(t *testing.T) {
	surfaces := &fakeSurfaces{targets: []string{"page"}}
	h := newHarness(t, surfaces, nil, "self")
	ctx := context.Background()

	require.NoError(t, h.coord.Enable(ctx))
	require.NoError(t, h.coord.SetBackground(ctx, true))
	require.NoError(t, h.coord.SetFrequency(ctx, 500))

	surfaces.mu.Lock()
	last := surfaces.started[len(surfaces.started)-1]
	surfaces.mu.Unlock()
	assert.Equal(t, surface.ModeBackground, last.Mode)
	assert.Equal(t, 500, last.PollIntervalMS)
	assert.Equal(t, "cursor", last.IDE)
	assert.True(t, h.sessions.Current().Background)
}

func TestRunEndsSessionOnShutdownWithoutAnnouncing(t *testing.T) {
	surfaces := &fakeSurfaces{targets: []string{"page"}}
	h := newHarness(t, surfaces, nil, "self")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.settings.SetEnabled(ctx, true))

	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()
	require.Eventually(t, func() bool { return h.sessions.Current().Active() }, time.Second, 5*time.Millisecond)
	surfaces.add(surface.Counters{Accepted: 4})

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.False(t, h.sessions.Current().Active())
	assert.Empty(t, h.notes.kinds(notify.KindSessionEnded))
	week, err := h.stats.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, week.Clicks)
}

type pages struct{ list []dom.Page }

func (p pages) Pages(context.Context) ([]dom.Page, error) { return p.list, nil }

func TestBannedRunControlIsBlockedEndToEnd(t *testing.T) {
	doc := domtest.New()
	doc.Set("button", domtest.Button("run", "Run: rm -rf /"))

	injector, err := surface.NewInjector(pages{list: []dom.Page{{ID: "page", Document: doc}}}, nil, surface.WithTabStartDelay(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { _ = injector.Close() })
	client, err := surface.NewClient(bridge.NewLocal(injector))
	require.NoError(t, err)

	h := newHarness(t, client, nil, "self")
	ctx := context.Background()
	require.NoError(t, h.coord.Enable(ctx))

	require.Eventually(t, func() bool {
		if err := h.coord.CollectOnce(ctx); err != nil {
			return false
		}
		week, err := h.stats.Load(ctx)
		return err == nil && week.Blocked == 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Empty(t, doc.Activated())
	require.NoError(t, h.coord.Disable(ctx))
	week, err := h.stats.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, week.Blocked)
	assert.Zero(t, week.Clicks)
}

func TestSessionEndedNotificationListsTimeSaved(t *testing.T) {
	n := sessionEndedNotification(session.Session{Totals: surface.Counters{Accepted: 24, Blocked: 2}})
	assert.Equal(t, "Auto Accept: 24 actions handled this session", n.Message)
	assert.True(t, strings.Contains(n.Detail, "Estimated time saved: ~2 minutes"), n.Detail)
}
