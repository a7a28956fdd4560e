// Package surface implements the automation controller attached to one chat surface.
package surface

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ship-commander/autoaccept/internal/dom"
)

const (
	defaultTabStartDelay = time.Second
	defaultPauseCooldown = 1500 * time.Millisecond
	// DefaultConversationChars caps visible conversation text returned to the host.
	DefaultConversationChars = 12000
)

// Option customizes controller construction.
type Option func(*Controller)

// WithLogger configures the controller logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTabStartDelay overrides the delay before the tab loop begins.
func WithTabStartDelay(delay time.Duration) Option {
	return func(c *Controller) {
		if delay >= 0 {
			c.tabStartDelay = delay
		}
	}
}

// WithPauseCooldown overrides how long manual pointer input pauses automation.
func WithPauseCooldown(cooldown time.Duration) Option {
	return func(c *Controller) {
		if cooldown > 0 {
			c.pauseCooldown = cooldown
		}
	}
}

// Controller owns the automation state of one surface and drives its loops.
type Controller struct {
	doc      dom.Document
	logger   *log.Logger
	now      func() time.Time
	state    *State
	renderer *Renderer

	tabStartDelay time.Duration
	pauseCooldown time.Duration

	lifecycle sync.Mutex
	wg        sync.WaitGroup
}

// NewController constructs a stopped controller over doc.
func NewController(doc dom.Document, options ...Option) (*Controller, error) {
	if doc == nil {
		return nil, errors.New("document is required")
	}
	controller := &Controller{
		doc:           doc,
		logger:        log.New(io.Discard),
		now:           time.Now,
		state:         newState(),
		tabStartDelay: defaultTabStartDelay,
		pauseCooldown: defaultPauseCooldown,
	}
	for _, option := range options {
		if option != nil {
			option(controller)
		}
	}
	controller.renderer = NewRenderer(doc)
	return controller, nil
}

// Start begins automation with cfg and returns the live epoch. Starting again
// with an identical config keeps the loops and only restores markup the page
// dropped, for example on reload; a different config restarts the loops.
func (c *Controller) Start(ctx context.Context, cfg Config) (uint64, error) {
	if c == nil {
		return 0, errors.New("controller is nil")
	}
	cfg = cfg.normalized()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if current, running := c.state.config(); running && current.equal(cfg) {
		if err := c.mountForMode(ctx, cfg.Mode); err != nil {
			c.logger.Debug("restore overlay failed", "error", err)
		}
		return c.state.snapshot(c.now()).Epoch, nil
	}
	if c.state.end() {
		c.wg.Wait()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	epoch := c.state.begin(cfg, cancel)
	tok := token{ctx: loopCtx, state: c.state, epoch: epoch}
	logger := c.logger.With("epoch", epoch, "mode", cfg.Mode, "ide", cfg.IDE)

	if err := c.mountForMode(ctx, cfg.Mode); err != nil {
		logger.Warn("mount overlay failed", "error", err)
	}

	c.wg.Add(1)
	go c.runClickLoop(tok, cfg.PollInterval())
	if cfg.Mode == ModeBackground {
		c.wg.Add(1)
		go c.runTabLoop(tok)
	}
	logger.Info("automation started", "poll_interval", cfg.PollInterval())
	return epoch, nil
}

// Stop ends automation, removes rendered markup and returns the undrained counters.
func (c *Controller) Stop(ctx context.Context) (Counters, error) {
	if c == nil {
		return Counters{}, errors.New("controller is nil")
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.state.end() {
		c.wg.Wait()
		c.logger.Info("automation stopped")
	}
	var errs []error
	if err := c.renderer.DismountProgress(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.renderer.DismountSummaryWidget(ctx); err != nil {
		errs = append(errs, err)
	}
	return c.state.stats(false), errors.Join(errs...)
}

// Close stops the controller, ignoring rendering errors.
func (c *Controller) Close() error {
	_, err := c.Stop(context.Background())
	return err
}

// Stats returns the counters, zeroing them when reset is set.
func (c *Controller) Stats(reset bool) Counters {
	return c.state.stats(reset)
}

// ConsumeAwayActions returns and clears actions taken while the surface was unfocused.
func (c *Controller) ConsumeAwayActions() int {
	return c.state.consumeAwayActions()
}

// ConsumeSummaryRequest returns and clears the pending summary request.
func (c *Controller) ConsumeSummaryRequest() SummaryRequest {
	return c.state.consumeSummaryRequest()
}

// RequestSummary raises a summary request as if the widget had been clicked.
func (c *Controller) RequestSummary(ctx context.Context) bool {
	if !c.state.requestSummary(c.now()) {
		return false
	}
	if err := c.renderer.RenderSummary(ctx, SummaryResult{Status: SummaryLoading}); err != nil {
		c.logger.Debug("render summary loading failed", "error", err)
	}
	return true
}

// SetSummaryResult stores result and renders it into the widget.
func (c *Controller) SetSummaryResult(ctx context.Context, result SummaryResult) error {
	result = c.state.setSummary(result)
	return c.renderer.RenderSummary(ctx, result)
}

// Snapshot returns a copy of the automation state.
func (c *Controller) Snapshot() Snapshot {
	return c.state.snapshot(c.now())
}

// mountForMode installs the markup for mode. Rendering into markup that is
// gone from the page mounts it again.
func (c *Controller) mountForMode(ctx context.Context, mode Mode) error {
	profile, _ := c.state.runtime()
	if mode == ModeBackground {
		if err := c.renderer.DismountSummaryWidget(ctx); err != nil {
			return err
		}
		return c.renderer.MountProgress(ctx, profile.Panels)
	}
	if err := c.renderer.DismountProgress(ctx); err != nil {
		return err
	}
	if err := c.renderer.MountSummaryWidget(ctx, profile.Panels); err != nil {
		return err
	}
	return c.renderer.RenderSummary(ctx, c.state.summary())
}
