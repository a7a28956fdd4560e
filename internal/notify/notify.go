// Package notify delivers user-facing notifications.
package notify

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ship-commander/autoaccept/internal/events"
)

// Level is the notification severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Kind identifies what produced a notification.
type Kind string

const (
	KindSessionEnded    Kind = "session_ended"
	KindAwayActions     Kind = "away_actions"
	KindWeeklySummary   Kind = "weekly_summary"
	KindSummaryReady    Kind = "summary_ready"
	KindSummaryFailed   Kind = "summary_failed"
	KindSummaryBusy     Kind = "summary_busy"
	KindSetupRequired   Kind = "setup_required"
	KindLicenseRequired Kind = "license_required"
	KindLicense         Kind = "license"
	KindStandby         Kind = "standby"
)

// Notification is one message for the user.
type Notification struct {
	Kind    Kind   `json:"kind"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	// Action is an optional follow-up the user can take, such as "View Stats".
	Action string `json:"action,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// Publisher logs notifications and publishes them on the event bus, where the
// status API and dashboard pick them up.
type Publisher struct {
	bus    events.Bus
	logger *log.Logger
}

// NewPublisher constructs a publisher. Either dependency may be nil.
func NewPublisher(bus events.Bus, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Publisher{bus: bus, logger: logger}
}

// Notify implements Notifier.
func (p *Publisher) Notify(_ context.Context, n Notification) {
	if p == nil || strings.TrimSpace(n.Message) == "" {
		return
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}

	fields := []any{"kind", n.Kind, "message", n.Message}
	if n.Detail != "" {
		fields = append(fields, "detail", n.Detail)
	}
	switch n.Level {
	case LevelError:
		p.logger.Error("notification", fields...)
	case LevelWarning:
		p.logger.Warn("notification", fields...)
	default:
		p.logger.Info("notification", fields...)
	}

	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{
		Type:       events.EventTypeNotification,
		EntityType: "notification",
		EntityID:   string(n.Kind),
		Payload:    n,
		Severity:   severity(n.Level),
	})
}

func severity(level Level) string {
	switch level {
	case LevelError:
		return events.SeverityError
	case LevelWarning:
		return events.SeverityWarn
	default:
		return events.SeverityInfo
	}
}
