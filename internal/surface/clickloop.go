package surface

import "time"

func (c *Controller) runClickLoop(tok token, interval time.Duration) {
	defer c.wg.Done()
	for tok.Active() {
		c.clickTick(tok)
		if !tok.Sleep(interval) {
			return
		}
	}
}

// clickTick runs one detection pass. A stale token returns before touching the document.
func (c *Controller) clickTick(tok token) int {
	if !tok.Active() {
		return 0
	}
	ctx := tok.ctx

	signals, err := c.doc.Signals(ctx)
	if err != nil {
		c.logger.Debug("read surface signals failed", "error", err)
	} else {
		c.state.observe(signals.Focused, signals.LastPointerDown, c.pauseCooldown)
		if signals.SummaryClicked {
			c.RequestSummary(ctx)
		}
	}
	if c.state.paused(c.now()) {
		return 0
	}

	profile, patterns := c.state.runtime()
	nodes, err := c.doc.Query(ctx, profile.Buttons...)
	if err != nil {
		c.logger.Debug("query buttons failed", "error", err)
		return 0
	}

	activated := 0
	seen := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if node == nil || node.Ref == "" {
			continue
		}
		if _, dup := seen[node.Ref]; dup {
			continue
		}
		seen[node.Ref] = struct{}{}

		verdict := Classify(node, patterns)
		if verdict.Blocked {
			if c.state.recordBlocked(tok.epoch, node.Ref) {
				c.logger.Warn("blocked banned command", "pattern", verdict.Pattern, "label", node.Text)
			}
			continue
		}
		if !verdict.Actionable {
			continue
		}
		if !tok.Active() {
			return activated
		}
		if err := c.doc.Activate(ctx, node.Ref); err != nil {
			c.logger.Debug("activate control failed", "label", node.Text, "error", err)
			continue
		}
		if c.state.recordActivation(tok.epoch, verdict.Kind) {
			activated++
			c.logger.Info("activated control", "label", node.Text)
		}
	}
	return activated
}
