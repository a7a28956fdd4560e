package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/license"
	"github.com/ship-commander/autoaccept/internal/notify"
	"github.com/ship-commander/autoaccept/internal/session"
	"github.com/ship-commander/autoaccept/internal/stats"
	"github.com/ship-commander/autoaccept/internal/surface"
)

// Enable switches automation on and syncs immediately. Without a license it
// returns license.ErrLicenseRequired and leaves automation off.
func (c *Coordinator) Enable(ctx context.Context) error {
	if err := c.requireLicense(ctx); err != nil {
		c.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindLicenseRequired,
			Level:   notify.LevelWarning,
			Message: "Auto Accept requires an active license.",
			Action:  "Purchase License",
		})
		return err
	}
	if err := c.settings.SetEnabled(ctx, true); err != nil {
		return fmt.Errorf("persist enabled flag: %w", err)
	}

	c.op.Lock()
	c.activate(ctx)
	c.op.Unlock()
	return c.SyncOnce(ctx)
}

// Disable switches automation off: counters are drained a final time, every
// surface is stopped, and the session ends.
func (c *Coordinator) Disable(ctx context.Context) error {
	if err := c.settings.SetEnabled(ctx, false); err != nil {
		return fmt.Errorf("persist enabled flag: %w", err)
	}
	c.op.Lock()
	defer c.op.Unlock()
	if c.isEnabled() {
		c.deactivate(ctx, true)
	}
	return nil
}

// Toggle flips the enable flag and reports the new state.
func (c *Coordinator) Toggle(ctx context.Context) (bool, error) {
	if c.isEnabled() {
		return false, c.Disable(ctx)
	}
	return true, c.Enable(ctx)
}

// SetBackground selects background mode and re-syncs running surfaces.
func (c *Coordinator) SetBackground(ctx context.Context, on bool) error {
	if err := c.settings.SetBackground(ctx, on); err != nil {
		return fmt.Errorf("persist background mode: %w", err)
	}
	c.sessions.SetBackground(on)
	c.logger.Info("background mode changed", "background", on)
	return c.resync(ctx)
}

// SetBannedCommands stores patterns and re-syncs running surfaces.
func (c *Coordinator) SetBannedCommands(ctx context.Context, patterns []string) error {
	if err := c.settings.SetBannedCommands(ctx, patterns); err != nil {
		return fmt.Errorf("persist banned commands: %w", err)
	}
	return c.resync(ctx)
}

// SetFrequency stores the poll interval and re-syncs running surfaces.
func (c *Coordinator) SetFrequency(ctx context.Context, ms int) error {
	if err := c.settings.SetFrequency(ctx, ms); err != nil {
		return err
	}
	return c.resync(ctx)
}

func (c *Coordinator) resync(ctx context.Context) error {
	if !c.isEnabled() {
		return nil
	}
	return c.SyncOnce(ctx)
}

// restore applies the persisted enable flag at startup. A flag set without a
// license is cleared.
func (c *Coordinator) restore(ctx context.Context) error {
	enabled, err := c.settings.Enabled(ctx)
	if err != nil {
		return fmt.Errorf("load enabled flag: %w", err)
	}
	if !enabled {
		return nil
	}
	if err := c.requireLicense(ctx); err != nil {
		c.logger.Warn("automation enabled but license not verified, disabling until licensed")
		if err := c.settings.SetEnabled(ctx, false); err != nil {
			return fmt.Errorf("clear enabled flag: %w", err)
		}
		return nil
	}
	c.op.Lock()
	c.activate(ctx)
	c.op.Unlock()
	return nil
}

func (c *Coordinator) requireLicense(ctx context.Context) error {
	if c.license == nil {
		return nil
	}
	err := c.license.Require(ctx)
	if err != nil && !errors.Is(err, license.ErrLicenseRequired) {
		return fmt.Errorf("check license: %w", err)
	}
	return err
}

// activate must be called with c.op held.
func (c *Coordinator) activate(ctx context.Context) {
	background, _ := c.settings.Background(ctx)

	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()

	current, created := c.sessions.Ensure(c.ide, background)
	if created {
		c.summaries.ResetLast()
		if _, err := c.stats.IncrementSessions(ctx); err != nil {
			c.logger.Warn("increment weekly sessions", "error", err)
		}
		c.logger.Info("session started", "session_id", current.ID, "background", background)
		c.publish(events.EventTypeSessionStarted, "session", current.ID, current, events.SeverityInfo)
	}
	c.publish(events.EventTypeStatusChanged, "automation", c.ide, map[string]bool{"enabled": true}, events.SeverityInfo)
}

// deactivate must be called with c.op held.
func (c *Coordinator) deactivate(ctx context.Context, announce bool) {
	if c.isLeader() {
		c.releaseSurfaces(ctx)
	}

	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()

	ended, ok := c.sessions.End()
	if ok {
		c.logger.Info("session ended", "session_id", ended.ID, "clicks", ended.Totals.Accepted, "blocked", ended.Totals.Blocked)
		c.publish(events.EventTypeSessionEnded, "session", ended.ID, ended, events.SeverityInfo)
		if announce && ended.Totals.Accepted > 0 {
			c.notifier.Notify(ctx, sessionEndedNotification(ended))
		}
	}
	c.publish(events.EventTypeStatusChanged, "automation", c.ide, map[string]bool{"enabled": false}, events.SeverityInfo)
}

// releaseSurfaces stops every target and records the counters it gathered
// since the last collection. Must be called with c.op held.
func (c *Coordinator) releaseSurfaces(ctx context.Context) {
	var final surface.Counters
	for _, target := range c.surfaces.Targets() {
		if _, err := c.surfaces.Stop(ctx, target); err != nil {
			c.logger.Debug("stop surface failed", "target", target, "error", err)
		}
		counters, err := c.surfaces.Stats(ctx, target, true)
		if err != nil {
			c.logger.Debug("final drain failed", "target", target, "error", err)
			continue
		}
		final.Add(counters)
	}
	c.record(ctx, final)

	c.mu.Lock()
	c.targets = nil
	c.mu.Unlock()
}

func (c *Coordinator) record(ctx context.Context, delta surface.Counters) {
	if delta.Total() == 0 {
		return
	}
	c.sessions.Record(delta)
	week, err := c.stats.Add(ctx, delta)
	if err != nil {
		c.logger.Warn("merge roi stats", "error", err)
		return
	}
	c.logger.Info("roi stats collected",
		"clicks", delta.Accepted, "blocked", delta.Blocked,
		"week_clicks", week.Clicks, "week_blocked", week.Blocked)
	c.publish(events.EventTypeStatsCollected, "stats", c.ide, map[string]any{"delta": delta, "week": week}, events.SeverityInfo)
}

func sessionEndedNotification(s session.Session) notify.Notification {
	lines := []string{
		"This session:",
		fmt.Sprintf("- %d actions auto-accepted", s.Totals.Accepted),
		fmt.Sprintf("- %d terminal commands", s.Totals.TerminalCommands),
		fmt.Sprintf("- %d file edits", s.Totals.FileEdits),
		fmt.Sprintf("- %d interruptions blocked", s.Totals.Blocked),
	}
	if saved := stats.TimeSaved(s.Totals.Accepted); saved.Minutes() >= 1 {
		lines = append(lines, "Estimated time saved: ~"+stats.FormatTimeSaved(saved))
	}
	return notify.Notification{
		Kind:    notify.KindSessionEnded,
		Level:   notify.LevelInfo,
		Message: fmt.Sprintf("Auto Accept: %d actions handled this session", s.Totals.Accepted),
		Detail:  strings.Join(lines, "\n"),
		Action:  "View Stats",
	}
}
