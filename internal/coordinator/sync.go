package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/notify"
	"github.com/ship-commander/autoaccept/internal/summary"
	"github.com/ship-commander/autoaccept/internal/surface"
)

// SyncOnce runs one sync tick: it follows enable/disable changes made by
// other processes, renews or yields leadership, and as leader pushes the
// current configuration into every surface and polls for summary requests.
func (c *Coordinator) SyncOnce(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.followPersistedFlag(ctx); err != nil {
		c.logger.Debug("read enabled flag", "error", err)
	}
	if !c.isEnabled() {
		return nil
	}

	decision, err := c.elector.Tick(ctx)
	if err != nil {
		return fmt.Errorf("leader tick: %w", err)
	}
	c.applyDecision(ctx, decision)
	if decision.Role != leader.RoleLeader {
		return nil
	}

	cfg, err := c.surfaceConfig(ctx)
	if err != nil {
		return err
	}
	if err := c.syncSurfaces(ctx, cfg); err != nil {
		c.bridgeFailed(ctx, err)
		return err
	}
	c.bridgeRecovered()

	if cfg.Mode != surface.ModeBackground {
		c.pollSummaries(ctx, cfg)
	}
	return nil
}

// CollectOnce drains surface counters into the session and weekly record,
// then reports actions taken while the editor was unfocused.
func (c *Coordinator) CollectOnce(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	if !c.isEnabled() || !c.isLeader() {
		return nil
	}

	var (
		delta surface.Counters
		away  int
		errs  []error
	)
	for _, target := range c.surfaces.Targets() {
		counters, err := c.surfaces.Stats(ctx, target, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", target, err))
		} else {
			delta.Add(counters)
		}
		n, err := c.surfaces.ConsumeAwayActions(ctx, target)
		if err != nil {
			errs = append(errs, fmt.Errorf("away actions %s: %w", target, err))
			continue
		}
		away += n
	}
	c.record(ctx, delta)

	if away > 0 {
		c.logger.Info("actions handled while away", "count", away)
		c.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindAwayActions,
			Level:   notify.LevelInfo,
			Message: awayMessage(away),
			Detail:  "Agents stayed autonomous while you focused elsewhere.",
			Action:  "View Dashboard",
		})
	}
	return errors.Join(errs...)
}

func (c *Coordinator) followPersistedFlag(ctx context.Context) error {
	persisted, err := c.settings.Enabled(ctx)
	if err != nil {
		return err
	}
	switch enabled := c.isEnabled(); {
	case persisted && !enabled:
		if err := c.requireLicense(ctx); err != nil {
			return err
		}
		c.logger.Info("automation enabled by another process")
		c.activate(ctx)
	case !persisted && enabled:
		c.logger.Info("automation disabled by another process")
		c.deactivate(ctx, true)
	}
	return nil
}

func (c *Coordinator) applyDecision(ctx context.Context, decision leader.Decision) {
	c.mu.Lock()
	previous := c.role
	c.role = decision.Role
	c.holder = decision.Holder
	c.mu.Unlock()

	if !decision.Changed {
		return
	}
	switch decision.Role {
	case leader.RoleLeader:
		c.logger.Info("lock acquired, resuming control", "self", c.elector.SelfID())
	case leader.RoleStandby:
		c.logger.Info("locked by another instance, standby mode", "holder", decision.Holder)
		// Another process now drives the surfaces; a second click loop or
		// tab loop on the same page must not keep running.
		if previous == leader.RoleLeader {
			c.releaseSurfaces(ctx)
		}
		c.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindStandby,
			Level:   notify.LevelInfo,
			Message: "Auto Accept: another window is in control. This one is on standby.",
		})
	}
	c.publish(events.EventTypeLeaderChanged, "instance", c.elector.SelfID(),
		map[string]string{"role": string(decision.Role), "holder": decision.Holder}, events.SeverityInfo)
}

func (c *Coordinator) surfaceConfig(ctx context.Context) (surface.Config, error) {
	background, err := c.settings.Background(ctx)
	if err != nil {
		return surface.Config{}, fmt.Errorf("load background mode: %w", err)
	}
	frequency, err := c.settings.Frequency(ctx)
	if err != nil {
		return surface.Config{}, fmt.Errorf("load frequency: %w", err)
	}
	patterns, err := c.settings.BannedCommands(ctx)
	if err != nil {
		return surface.Config{}, fmt.Errorf("load banned commands: %w", err)
	}
	mode := surface.ModeSimple
	if background {
		mode = surface.ModeBackground
	}
	return surface.Config{IDE: c.ide, Mode: mode, PollIntervalMS: frequency, BannedPatterns: patterns}, nil
}

// syncSurfaces injects and starts every target. Starting with an unchanged
// config is a no-op on the surface. It fails only when no target could be
// reached.
func (c *Coordinator) syncSurfaces(ctx context.Context, cfg surface.Config) error {
	if err := c.surfaces.Inject(ctx); err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	targets := c.surfaces.Targets()

	started := make([]string, 0, len(targets))
	var errs []error
	for _, target := range targets {
		if _, err := c.surfaces.Start(ctx, target, cfg); err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", target, err))
			continue
		}
		started = append(started, target)
	}

	c.mu.Lock()
	c.targets = started
	c.lastSync = c.now().UTC()
	c.mu.Unlock()

	if len(started) == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		c.logger.Debug("surface sync error", "error", err)
	}
	return nil
}

func (c *Coordinator) bridgeFailed(ctx context.Context, err error) {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	raise := failures >= c.setupThreshold && !c.setupNotified
	if raise {
		c.setupNotified = true
	}
	c.mu.Unlock()

	c.logger.Warn("surface unreachable", "consecutive_failures", failures, "error", err)
	if raise {
		c.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindSetupRequired,
			Level:   notify.LevelWarning,
			Message: "Auto Accept cannot reach the editor. Restart it with remote debugging enabled (port 9000).",
			Action:  "Run autoaccept doctor",
		})
	}
}

func (c *Coordinator) bridgeRecovered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.logger.Info("surface reachable again", "after_failures", c.failures)
	}
	c.failures = 0
	c.setupNotified = false
}

// pollSummaries checks for summary requests on its own goroutine so a slow
// summarization never delays the next sync tick. One poll runs at a time.
func (c *Coordinator) pollSummaries(ctx context.Context, cfg surface.Config) {
	if c.summaries.InFlight() {
		return
	}
	c.pollMu.Lock()
	if c.pollOn {
		c.pollMu.Unlock()
		return
	}
	c.pollOn = true
	c.polling.Add(1)
	c.pollMu.Unlock()

	// Requests come from the overlay button, which shows the result itself.
	opts := summary.Options{IDE: cfg.IDE, Background: cfg.Mode == surface.ModeBackground, Silent: true}
	go func() {
		defer func() {
			c.pollMu.Lock()
			c.pollOn = false
			c.pollMu.Unlock()
			c.polling.Done()
		}()
		if _, err := c.summaries.Poll(context.WithoutCancel(ctx), opts); err != nil {
			c.logger.Debug("summary poll failed", "error", err)
		}
	}()
}

func awayMessage(n int) string {
	if n == 1 {
		return "Auto Accept handled 1 action while you were away."
	}
	return fmt.Sprintf("Auto Accept handled %d actions while you were away.", n)
}
