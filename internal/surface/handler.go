package surface

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ship-commander/autoaccept/internal/bridge"
)

// Entry points exposed to the host through the bridge.
const (
	MethodStart                 = "start"
	MethodStop                  = "stop"
	MethodGetStats              = "getStats"
	MethodResetStats            = "resetStats"
	MethodConsumeSummaryRequest = "consumeSummaryRequest"
	MethodSetSummaryResult      = "setSummaryResult"
	MethodVisibleText           = "getVisibleConversationText"
	MethodConsumeAwayActions    = "consumeAwayActions"
	MethodSnapshot              = "snapshot"
)

// StartResult answers MethodStart.
type StartResult struct {
	Epoch uint64 `json:"epoch"`
}

// TextRequest parameterizes MethodVisibleText.
type TextRequest struct {
	MaxChars int `json:"maxChars"`
}

// TextResult answers MethodVisibleText.
type TextResult struct {
	Text string `json:"text"`
}

// CountResult answers MethodConsumeAwayActions.
type CountResult struct {
	Count int `json:"count"`
}

var _ bridge.Handler = (*Controller)(nil)

// Handle dispatches a bridge call to the controller.
func (c *Controller) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodStart:
		var cfg Config
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		epoch, err := c.Start(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return StartResult{Epoch: epoch}, nil
	case MethodStop:
		return c.Stop(ctx)
	case MethodGetStats:
		return c.Stats(false), nil
	case MethodResetStats:
		return c.Stats(true), nil
	case MethodConsumeSummaryRequest:
		return c.ConsumeSummaryRequest(), nil
	case MethodSetSummaryResult:
		var result SummaryResult
		if err := decodeParams(params, &result); err != nil {
			return nil, err
		}
		if err := c.SetSummaryResult(ctx, result); err != nil {
			return nil, err
		}
		return c.state.summary(), nil
	case MethodVisibleText:
		var request TextRequest
		if err := decodeParams(params, &request); err != nil {
			return nil, err
		}
		text, err := c.VisibleConversationText(ctx, request.MaxChars)
		if err != nil {
			return nil, err
		}
		return TextResult{Text: text}, nil
	case MethodConsumeAwayActions:
		return CountResult{Count: c.ConsumeAwayActions()}, nil
	case MethodSnapshot:
		return c.Snapshot(), nil
	default:
		return nil, fmt.Errorf("%w: %q", bridge.ErrUnknownMethod, method)
	}
}

func decodeParams(params json.RawMessage, dest any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, dest); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
