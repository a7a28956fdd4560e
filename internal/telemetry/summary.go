package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ship-commander/autoaccept/internal/session"
)

const statusMessageMaxChars = 300

// Outcomes recorded on summary.call spans.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
	OutcomeFailed   = "failed"
)

// SummaryCallRequest describes one call to the summarization API.
type SummaryCallRequest struct {
	IDE        string
	SessionID  string
	Background bool
	// Prompt is the text sent upstream: visible conversation plus log lines.
	Prompt   string
	LogLines int
}

// SummaryCall tracks one summary.call span. A nil call is a no-op.
type SummaryCall struct {
	span         trace.Span
	startedAt    time.Time
	promptTokens int
	once         sync.Once
}

// StartSummaryCall opens a client span for a summarization request. The
// prompt never leaves the process: only its estimated size and a hash of its
// redacted form are attached.
func StartSummaryCall(ctx context.Context, req SummaryCallRequest) (context.Context, *SummaryCall) {
	call := &SummaryCall{startedAt: time.Now(), promptTokens: EstimateTokenCount(req.Prompt)}
	ctx, call.span = otel.Tracer("autoaccept/summary").Start(ctx, "summary.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ide", orUnknown(req.IDE)),
			attribute.String("session_id", orUnknown(req.SessionID)),
			attribute.Bool("background", req.Background),
			attribute.Int("log_lines", max(req.LogLines, 0)),
			attribute.Int("prompt_tokens", call.promptTokens),
			attribute.String("prompt_hash", promptHash(req.Prompt)),
		),
	)
	return ctx, call
}

// End closes the span with the outcome, latency and token estimates. Only
// the first call has any effect.
func (c *SummaryCall) End(responseText string, err error) {
	if c == nil || c.span == nil {
		return
	}
	c.once.Do(func() {
		responseTokens := EstimateTokenCount(responseText)
		outcome := Outcome(err)
		c.span.SetAttributes(
			attribute.String("outcome", outcome),
			attribute.Int64("latency_ms", max(time.Since(c.startedAt).Milliseconds(), 0)),
			attribute.Int("response_tokens", responseTokens),
			attribute.Int("total_tokens", c.promptTokens+responseTokens),
		)
		if err != nil {
			message := session.Truncate(session.Redact(err.Error()), statusMessageMaxChars)
			c.span.AddEvent("summary.failed", trace.WithAttributes(attribute.String("error", message)))
			c.span.SetStatus(codes.Error, message)
		} else {
			c.span.SetStatus(codes.Ok, "")
		}
		c.span.End()
	})
}

// Outcome classifies a summarization error for span attributes.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

// EstimateTokenCount approximates tokens as four per three words.
func EstimateTokenCount(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return (words*4 + 2) / 3
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(session.Redact(strings.TrimSpace(prompt))))
	return hex.EncodeToString(sum[:])
}

func orUnknown(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return "unknown"
	}
	return value
}
