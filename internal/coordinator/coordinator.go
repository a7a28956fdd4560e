// Package coordinator drives the host side of automation: leader election,
// pushing configuration into every reachable surface, draining counters into
// the weekly ROI record, and answering summary requests.
package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/notify"
	"github.com/ship-commander/autoaccept/internal/session"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
)

const (
	defaultSyncInterval   = 5 * time.Second
	defaultStatsInterval  = 30 * time.Second
	defaultSetupThreshold = 3
	shutdownTimeout       = 5 * time.Second
)

// Surfaces is the bridge-side view of the injected controllers.
type Surfaces interface {
	Inject(ctx context.Context) error
	Targets() []string
	Start(ctx context.Context, target string, cfg surface.Config) (uint64, error)
	Stop(ctx context.Context, target string) (surface.Counters, error)
	Stats(ctx context.Context, target string, reset bool) (surface.Counters, error)
	ConsumeAwayActions(ctx context.Context, target string) (int, error)
	Snapshot(ctx context.Context, target string) (surface.Snapshot, error)
}

// Elector decides leadership on each sync tick.
type Elector interface {
	Tick(ctx context.Context) (leader.Decision, error)
	SelfID() string
}

// Summaries is the host side of the summary protocol.
type Summaries interface {
	Poll(ctx context.Context, opts summary.Options) (bool, error)
	Generate(ctx context.Context, opts summary.Options) (summary.Summary, error)
	InFlight() bool
	Last() (summary.Summary, bool)
	ResetLast()
}

// LicenseGate blocks enabling automation without a license.
type LicenseGate interface {
	Require(ctx context.Context) error
}

// Config controls coordinator cadence.
type Config struct {
	IDE           string
	SyncInterval  time.Duration
	StatsInterval time.Duration
	// SetupThreshold is the number of consecutive bridge failures that
	// raise a setup-required notification.
	SetupThreshold int
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Settings  *settings.Settings
	Stats     *stats.Store
	Sessions  *session.Tracker
	Surfaces  Surfaces
	Elector   Elector
	Summaries Summaries
	License   LicenseGate
	Notifier  notify.Notifier
	Bus       events.Bus
	Logger    *log.Logger
}

// Status is a point-in-time view for the status API and CLI.
type Status struct {
	Enabled             bool             `json:"enabled"`
	Role                leader.Role      `json:"role"`
	Holder              string           `json:"holder,omitempty"`
	SelfID              string           `json:"selfId"`
	IDE                 string           `json:"ide"`
	Background          bool             `json:"background"`
	FrequencyMS         int              `json:"frequencyMs"`
	BannedPatterns      []string         `json:"bannedPatterns"`
	Targets             []string         `json:"targets"`
	Session             *session.Session `json:"session,omitempty"`
	SessionTotals       surface.Counters `json:"sessionTotals"`
	Week                stats.Weekly     `json:"week"`
	TimeSavedThisWeek   string           `json:"timeSavedThisWeek"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	SummaryInFlight     bool             `json:"summaryInFlight"`
	LastSync            time.Time        `json:"lastSync"`
}

// Coordinator is the host automation controller.
type Coordinator struct {
	settings  *settings.Settings
	stats     *stats.Store
	sessions  *session.Tracker
	surfaces  Surfaces
	elector   Elector
	summaries Summaries
	license   LicenseGate
	notifier  notify.Notifier
	bus       events.Bus
	logger    *log.Logger

	ide            string
	syncInterval   time.Duration
	statsInterval  time.Duration
	setupThreshold int
	now            func() time.Time
	newTicker      func(time.Duration) *time.Ticker

	// op serialises ticks and lifecycle transitions.
	op sync.Mutex

	mu            sync.Mutex
	enabled       bool
	role          leader.Role
	holder        string
	targets       []string
	failures      int
	setupNotified bool
	lastSync      time.Time

	polling sync.WaitGroup
	pollMu  sync.Mutex
	pollOn  bool
}

// New validates deps and constructs a coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Settings == nil:
		return nil, errors.New("settings are required")
	case deps.Stats == nil:
		return nil, errors.New("stats store is required")
	case deps.Sessions == nil:
		return nil, errors.New("session tracker is required")
	case deps.Surfaces == nil:
		return nil, errors.New("surfaces are required")
	case deps.Elector == nil:
		return nil, errors.New("elector is required")
	case deps.Summaries == nil:
		return nil, errors.New("summary service is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Func(func(context.Context, notify.Notification) {})
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	if cfg.SetupThreshold <= 0 {
		cfg.SetupThreshold = defaultSetupThreshold
	}
	if cfg.IDE == "" {
		cfg.IDE = "code"
	}
	return &Coordinator{
		settings:       deps.Settings,
		stats:          deps.Stats,
		sessions:       deps.Sessions,
		surfaces:       deps.Surfaces,
		elector:        deps.Elector,
		summaries:      deps.Summaries,
		license:        deps.License,
		notifier:       deps.Notifier,
		bus:            deps.Bus,
		logger:         deps.Logger,
		ide:            cfg.IDE,
		syncInterval:   cfg.SyncInterval,
		statsInterval:  cfg.StatsInterval,
		setupThreshold: cfg.SetupThreshold,
		now:            time.Now,
		newTicker:      time.NewTicker,
		role:           leader.RoleUnknown,
	}, nil
}

// Run restores the persisted enable flag, then syncs and collects on their
// tickers until ctx is cancelled. On return the open session is ended.
func (c *Coordinator) Run(ctx context.Context) error {
	if c == nil {
		return errors.New("coordinator is nil")
	}
	if err := c.restore(ctx); err != nil {
		c.logger.Warn("restore automation state", "error", err)
	}
	if err := c.SyncOnce(ctx); err != nil {
		c.logger.Warn("initial sync failed", "error", err)
	}

	syncTicker := c.newTicker(c.syncInterval)
	defer syncTicker.Stop()
	statsTicker := c.newTicker(c.statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-syncTicker.C:
			if err := c.SyncOnce(ctx); err != nil {
				c.logger.Debug("sync tick failed", "error", err)
			}
		case <-statsTicker.C:
			if err := c.CollectOnce(ctx); err != nil {
				c.logger.Debug("stats tick failed", "error", err)
			}
		}
	}
}

// Status returns the current coordinator view.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	status := Status{
		Enabled:             c.enabled,
		Role:                c.role,
		Holder:              c.holder,
		SelfID:              c.elector.SelfID(),
		IDE:                 c.ide,
		Targets:             append([]string(nil), c.targets...),
		ConsecutiveFailures: c.failures,
		LastSync:            c.lastSync,
	}
	c.mu.Unlock()

	status.SummaryInFlight = c.summaries.InFlight()
	current := c.sessions.Current()
	if current.ID != "" {
		status.Session = &current
		status.SessionTotals = current.Totals
	}

	var errs []error
	var err error
	if status.Background, err = c.settings.Background(ctx); err != nil {
		errs = append(errs, err)
	}
	if status.FrequencyMS, err = c.settings.Frequency(ctx); err != nil {
		errs = append(errs, err)
	}
	if status.BannedPatterns, err = c.settings.BannedCommands(ctx); err != nil {
		errs = append(errs, err)
	}
	if status.Week, err = c.stats.Load(ctx); err != nil {
		errs = append(errs, err)
	}
	status.TimeSavedThisWeek = stats.FormatTimeSaved(stats.TimeSaved(status.Week.Clicks))
	return status, errors.Join(errs...)
}

// Snapshots reads the automation state of every reachable target. Only the
// leader touches the bridge; standby processes return nothing.
func (c *Coordinator) Snapshots(ctx context.Context) map[string]surface.Snapshot {
	if !c.isLeader() {
		return nil
	}
	out := map[string]surface.Snapshot{}
	for _, target := range c.surfaces.Targets() {
		snapshot, err := c.surfaces.Snapshot(ctx, target)
		if err != nil {
			c.logger.Debug("snapshot failed", "target", target, "error", err)
			continue
		}
		out[target] = snapshot
	}
	return out
}

// GenerateSummary runs a summary on demand against the first reachable target.
func (c *Coordinator) GenerateSummary(ctx context.Context, silent bool) (summary.Summary, error) {
	background, _ := c.settings.Background(ctx)
	opts := summary.Options{Silent: silent, IDE: c.ide, Background: background}
	if c.isLeader() {
		opts.Targets = c.surfaces.Targets()
		if len(opts.Targets) > 0 {
			opts.TextFrom = opts.Targets[0]
		}
	}
	return c.summaries.Generate(ctx, opts)
}

// LastSummary returns the cached summary.
func (c *Coordinator) LastSummary() (summary.Summary, bool) {
	return c.summaries.Last()
}

func (c *Coordinator) isLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role == leader.RoleLeader
}

func (c *Coordinator) isEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Coordinator) publish(eventType, entityType, entityID string, payload any, severity string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type:       eventType,
		Timestamp:  c.now().UTC(),
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Severity:   severity,
	})
}

func (c *Coordinator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	c.polling.Wait()
	if c.isEnabled() {
		c.op.Lock()
		c.deactivate(ctx, false)
		c.op.Unlock()
	}
}
