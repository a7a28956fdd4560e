package surface

import (
	"context"
	"errors"

	"github.com/ship-commander/autoaccept/internal/bridge"
)

// Client is the typed host-side view of controllers reached through a bridge.
type Client struct {
	bridge bridge.Bridge
}

// NewClient wraps b.
func NewClient(b bridge.Bridge) (*Client, error) {
	if b == nil {
		return nil, errors.New("bridge is required")
	}
	return &Client{bridge: b}, nil
}

// Inject (re)installs controllers into every reachable target.
func (c *Client) Inject(ctx context.Context) error {
	return c.bridge.Inject(ctx)
}

// Targets lists the reachable targets.
func (c *Client) Targets() []string {
	return c.bridge.Targets()
}

// Start starts or refreshes automation on target.
func (c *Client) Start(ctx context.Context, target string, cfg Config) (uint64, error) {
	result, err := bridge.Call[StartResult](ctx, c.bridge, target, MethodStart, cfg)
	return result.Epoch, err
}

// Stop stops automation on target.
func (c *Client) Stop(ctx context.Context, target string) (Counters, error) {
	return bridge.Call[Counters](ctx, c.bridge, target, MethodStop, nil)
}

// Stats reads counters on target, draining them when reset is set.
func (c *Client) Stats(ctx context.Context, target string, reset bool) (Counters, error) {
	method := MethodGetStats
	if reset {
		method = MethodResetStats
	}
	return bridge.Call[Counters](ctx, c.bridge, target, method, nil)
}

// TotalStats sums undrained counters across all targets. Unreachable targets are skipped.
func (c *Client) TotalStats(ctx context.Context) (Counters, error) {
	var total Counters
	var errs []error
	for _, target := range c.Targets() {
		counters, err := c.Stats(ctx, target, false)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total.Add(counters)
	}
	return total, errors.Join(errs...)
}

// ConsumeSummaryRequest reads and clears the pending request on target.
func (c *Client) ConsumeSummaryRequest(ctx context.Context, target string) (SummaryRequest, error) {
	return bridge.Call[SummaryRequest](ctx, c.bridge, target, MethodConsumeSummaryRequest, nil)
}

// SetSummaryResult pushes result to target.
func (c *Client) SetSummaryResult(ctx context.Context, target string, result SummaryResult) error {
	_, err := c.bridge.Evaluate(ctx, target, MethodSetSummaryResult, result)
	return err
}

// VisibleConversationText reads visible chat text from target.
func (c *Client) VisibleConversationText(ctx context.Context, target string, maxChars int) (string, error) {
	result, err := bridge.Call[TextResult](ctx, c.bridge, target, MethodVisibleText, TextRequest{MaxChars: maxChars})
	return result.Text, err
}

// ConsumeAwayActions reads and clears the away-action count on target.
func (c *Client) ConsumeAwayActions(ctx context.Context, target string) (int, error) {
	result, err := bridge.Call[CountResult](ctx, c.bridge, target, MethodConsumeAwayActions, nil)
	return result.Count, err
}

// Snapshot reads the automation state of target.
func (c *Client) Snapshot(ctx context.Context, target string) (Snapshot, error) {
	return bridge.Call[Snapshot](ctx, c.bridge, target, MethodSnapshot, nil)
}
