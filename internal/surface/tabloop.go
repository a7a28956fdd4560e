package surface

import (
	"context"
	"strconv"
	"strings"

	"github.com/ship-commander/autoaccept/internal/dom"
)

const (
	noTabLogFirst = 5
	noTabLogEvery = 10
)

func (c *Controller) runTabLoop(tok token) {
	defer c.wg.Done()
	if !tok.Sleep(c.tabStartDelay) {
		return
	}
	c.logger.Info("tab cycling started")
	for c.tabCycle(tok) {
	}
	c.logger.Info("tab cycling stopped")
}

// tabCycle runs one rotation step. It returns false once the token is stale.
func (c *Controller) tabCycle(tok token) bool {
	if !tok.Active() {
		return false
	}
	ctx := tok.ctx
	profile, _ := c.state.runtime()

	if profile.NewConversation != "" {
		if nodes, err := c.doc.Query(ctx, profile.NewConversation); err == nil && len(nodes) > 0 {
			if err := c.doc.Activate(ctx, nodes[0].Ref); err != nil {
				c.logger.Debug("reveal tab list failed", "error", err)
			}
		}
		if !tok.Sleep(profile.RevealDelay) {
			return false
		}
	}

	tabs := c.firstMatch(ctx, profile.Tabs)
	names := c.updateTabs(ctx, tok, tabs)
	if len(tabs) == 0 {
		if streak := c.state.noTabs(); streak == noTabLogFirst || (streak > noTabLogFirst && (streak-noTabLogFirst)%noTabLogEvery == 0) {
			c.logger.Info("no conversation tabs found", "consecutive_cycles", streak)
		}
		return tok.Sleep(profile.CycleDelay)
	}
	c.state.resetNoTabs()

	index := c.state.nextTabIndex(len(tabs))
	if !tok.Active() {
		return false
	}
	if err := c.doc.Activate(ctx, tabs[index].Ref); err != nil {
		c.logger.Debug("switch tab failed", "error", err)
		return tok.Sleep(profile.CycleDelay)
	}
	name := ""
	if index < len(names) {
		name = names[index]
	}

	if profile.TracksCompletion() && name != "" {
		if !tok.Sleep(profile.SettleDelay) {
			return false
		}
		if status, done := c.completionStatus(ctx, profile); done && c.state.markCompletion(tok.epoch, name, status) {
			c.logger.Info("conversation completed", "tab", name, "status", status)
			if err := c.renderer.RenderTabs(ctx, c.state.tabs()); err != nil {
				c.logger.Debug("render tabs failed", "error", err)
			}
		}
	}
	return tok.Sleep(profile.CycleDelay)
}

// updateTabs refreshes known tab names from tabs and re-renders the overlay when
// the names changed. An empty scan keeps the previous names.
func (c *Controller) updateTabs(ctx context.Context, tok token, tabs []*dom.Node) []string {
	if len(tabs) == 0 {
		return nil
	}
	raw := make([]string, 0, len(tabs))
	for _, tab := range tabs {
		raw = append(raw, TabName(tab.Text))
	}
	names := DedupeNames(raw)
	changed := c.state.setTabNames(tok.epoch, names)
	if changed || !c.renderer.HasRows() {
		if changed {
			c.logger.Info("detected conversation tabs", "count", len(names), "tabs", strings.Join(names, ", "))
		}
		if err := c.renderer.RenderTabs(ctx, c.state.tabs()); err != nil {
			c.logger.Debug("render tabs failed", "error", err)
		}
	}
	return names
}

func (c *Controller) firstMatch(ctx context.Context, selectors []string) []*dom.Node {
	for _, selector := range selectors {
		nodes, err := c.doc.Query(ctx, selector)
		if err != nil {
			c.logger.Debug("query tabs failed", "selector", selector, "error", err)
			continue
		}
		if len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

// completionStatus inspects the active conversation for feedback markers.
func (c *Controller) completionStatus(ctx context.Context, profile Profile) (TabStatus, bool) {
	markers, err := c.doc.Query(ctx, profile.FeedbackSelector)
	if err != nil {
		return "", false
	}
	found := false
	for _, marker := range markers {
		text := strings.TrimSpace(marker.Text)
		for _, want := range profile.FeedbackTexts {
			if text == want {
				found = true
			}
		}
	}
	if !found {
		return "", false
	}
	if c.hasDiagnostics(ctx, profile) {
		return TabDoneWithErrors, true
	}
	return TabDone, true
}

func (c *Controller) hasDiagnostics(ctx context.Context, profile Profile) bool {
	if len(profile.Diagnostics) > 0 {
		badges, err := c.doc.Query(ctx, profile.Diagnostics...)
		if err == nil {
			for _, badge := range badges {
				if count, err := strconv.Atoi(leadingDigits(badge.Text)); err == nil && count > 0 {
					return true
				}
			}
		}
	}
	if len(profile.ErrorDecorations) > 0 {
		decorations, err := c.doc.Query(ctx, profile.ErrorDecorations...)
		if err == nil && len(decorations) > 0 {
			return true
		}
	}
	return false
}

func leadingDigits(text string) string {
	text = strings.TrimSpace(text)
	end := 0
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	return text[:end]
}
