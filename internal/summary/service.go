// Package summary runs the host side of the session summary protocol: it
// picks up requests raised on the surface, calls the summarization API, and
// pushes the outcome back. At most one generation is in flight per process.
package summary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ship-commander/autoaccept/internal/backend"
	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/notify"
	"github.com/ship-commander/autoaccept/internal/session"
	"github.com/ship-commander/autoaccept/internal/surface"
	"github.com/ship-commander/autoaccept/internal/telemetry"
)

const (
	// VisibleTextMaxChars caps the conversation text sent for summarization.
	VisibleTextMaxChars = 12000
	// LogLineMaxChars caps each log line sent for summarization.
	LogLineMaxChars = 500

	// FailureMessage is pushed to the surface when generation fails.
	FailureMessage = "Failed to generate summary. Please try again."
)

var (
	// ErrInFlight is returned when a generation is already running.
	ErrInFlight = errors.New("summary generation is already in progress")
	// ErrNothingToSummarize is returned when there is no session data yet.
	ErrNothingToSummarize = errors.New("not enough session data to summarize yet")
)

// Surface is the bridge-side view the service needs.
type Surface interface {
	Targets() []string
	TotalStats(ctx context.Context) (surface.Counters, error)
	ConsumeSummaryRequest(ctx context.Context, target string) (surface.SummaryRequest, error)
	SetSummaryResult(ctx context.Context, target string, result surface.SummaryResult) error
	VisibleConversationText(ctx context.Context, target string, maxChars int) (string, error)
}

// Summarizer calls the summarization API.
type Summarizer interface {
	Summarize(ctx context.Context, payload backend.SummaryPayload) (string, error)
}

// UserIDSource resolves the anonymous user id.
type UserIDSource interface {
	UserID(ctx context.Context) (string, error)
}

// Summary is a generated recap.
type Summary struct {
	Text        string    `json:"summary"`
	GeneratedAt time.Time `json:"generatedAt"`
	SessionID   string    `json:"sessionId"`
}

// Options describes one generation.
type Options struct {
	// Targets receive the loading state and the outcome.
	Targets []string
	// TextFrom is the target whose visible conversation text is collected.
	TextFrom   string
	Silent     bool
	IDE        string
	Background bool
}

// Config wires a Service.
type Config struct {
	Surface    Surface
	Summarizer Summarizer
	Sessions   *session.Tracker
	Users      UserIDSource
	Notifier   notify.Notifier
	Bus        events.Bus
	Logger     *log.Logger
}

// Service generates session summaries.
type Service struct {
	surface    Surface
	summarizer Summarizer
	sessions   *session.Tracker
	users      UserIDSource
	notifier   notify.Notifier
	bus        events.Bus
	logger     *log.Logger
	tracer     trace.Tracer
	now        func() time.Time

	inflight *semaphore.Weighted

	mu   sync.Mutex
	last *Summary
}

// NewService validates cfg and constructs a service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Surface == nil {
		return nil, errors.New("surface is required")
	}
	if cfg.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session tracker is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Func(func(context.Context, notify.Notification) {})
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return &Service{
		surface:    cfg.Surface,
		summarizer: cfg.Summarizer,
		sessions:   cfg.Sessions,
		users:      cfg.Users,
		notifier:   cfg.Notifier,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		tracer:     otel.Tracer("autoaccept/summary"),
		now:        time.Now,
		inflight:   semaphore.NewWeighted(1),
	}, nil
}

// InFlight reports whether a generation is running.
func (s *Service) InFlight() bool {
	if !s.inflight.TryAcquire(1) {
		return true
	}
	s.inflight.Release(1)
	return false
}

// Last returns the cached summary, if any.
func (s *Service) Last() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

// ResetLast forgets the cached summary; called when a new session starts.
func (s *Service) ResetLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
}

// Poll consumes pending requests on every target and, when any exist,
// generates once on behalf of all of them. It reports whether a request was
// found.
func (s *Service) Poll(ctx context.Context, opts Options) (bool, error) {
	if s.InFlight() {
		return false, nil
	}

	var requesting []string
	for _, target := range s.surface.Targets() {
		req, err := s.surface.ConsumeSummaryRequest(ctx, target)
		if err != nil {
			s.logger.Debug("summary request poll failed", "target", target, "error", err)
			continue
		}
		if req.Requested {
			requesting = append(requesting, target)
		}
	}
	if len(requesting) == 0 {
		return false, nil
	}

	s.logger.Info("summary requested from surface", "targets", len(requesting))
	opts.Targets = requesting
	opts.TextFrom = requesting[0]
	_, err := s.Generate(ctx, opts)
	return true, err
}

// Generate runs one summarization. A concurrent call returns ErrInFlight
// together with the last cached summary and makes no external request.
func (s *Service) Generate(ctx context.Context, opts Options) (Summary, error) {
	if !s.inflight.TryAcquire(1) {
		if !opts.Silent {
			s.notifier.Notify(ctx, notify.Notification{
				Kind:    notify.KindSummaryBusy,
				Level:   notify.LevelInfo,
				Message: "Auto Accept: Summary generation is already in progress.",
			})
		}
		last, _ := s.Last()
		return last, ErrInFlight
	}
	defer s.inflight.Release(1)

	ctx, span := s.tracer.Start(ctx, "summary.generate", trace.WithAttributes(
		attribute.Int("summary.targets", len(opts.Targets)),
	))
	defer span.End()

	s.push(ctx, opts.Targets, surface.SummaryResult{Status: surface.SummaryLoading})

	result, err := s.generate(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summary failed")
		s.logger.Warn("summary failed", "error", err)
		s.push(ctx, opts.Targets, surface.SummaryResult{Status: surface.SummaryError, Error: FailureMessage})
		if !opts.Silent {
			s.notifier.Notify(ctx, notify.Notification{
				Kind:    notify.KindSummaryFailed,
				Level:   notify.LevelError,
				Message: "Auto Accept: " + userMessage(err),
			})
		}
		s.publish(surface.SummaryError, Summary{})
		return Summary{}, err
	}

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()
	s.logger.Info("summary generated", "session_id", result.SessionID)

	s.push(ctx, opts.Targets, surface.SummaryResult{
		Status:      surface.SummarySuccess,
		Summary:     result.Text,
		GeneratedAt: result.GeneratedAt,
	})
	if !opts.Silent {
		s.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindSummaryReady,
			Level:   notify.LevelInfo,
			Message: "Auto Accept: Session summary ready.",
		})
	}
	s.publish(surface.SummarySuccess, result)
	return result, nil
}

func (s *Service) generate(ctx context.Context, opts Options) (Summary, error) {
	// Collected counters live on the session; the surfaces only hold what
	// arrived since the last collection.
	counters := s.sessions.Current().Totals
	pending, err := s.surface.TotalStats(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("collect stats: %w", err)
	}
	counters.Add(pending)

	var visible string
	if opts.TextFrom != "" {
		visible, err = s.surface.VisibleConversationText(ctx, opts.TextFrom, VisibleTextMaxChars)
		if err != nil {
			s.logger.Debug("visible conversation text unavailable", "target", opts.TextFrom, "error", err)
			visible = ""
		}
	}

	payload := s.buildPayload(ctx, opts, counters, visible)
	if payload.Stats.Total() == 0 && len(payload.Logs) == 0 && strings.TrimSpace(payload.VisibleConversationText) == "" {
		return Summary{}, ErrNothingToSummarize
	}

	callCtx, call := telemetry.StartSummaryCall(ctx, telemetry.SummaryCallRequest{
		IDE:        opts.IDE,
		SessionID:  payload.SessionMeta.SessionID,
		Background: opts.Background,
		Prompt:     payload.VisibleConversationText + "\n" + strings.Join(payload.Logs, "\n"),
		LogLines:   len(payload.Logs),
	})
	text, err := s.summarizer.Summarize(callCtx, payload)
	call.End(text, err)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Text:        text,
		GeneratedAt: s.now().UTC(),
		SessionID:   payload.SessionMeta.SessionID,
	}, nil
}

func (s *Service) buildPayload(ctx context.Context, opts Options, counters surface.Counters, visible string) backend.SummaryPayload {
	lines := s.sessions.Logs().Lines()
	logs := make([]string, 0, len(lines))
	for _, line := range lines {
		logs = append(logs, session.Truncate(session.Redact(line), LogLineMaxChars))
	}

	var userID *string
	if s.users != nil {
		if id, err := s.users.UserID(ctx); err == nil && id != "" {
			userID = &id
		}
	}

	return backend.SummaryPayload{
		UserID:                  userID,
		SessionMeta:             s.sessions.Meta(opts.IDE, opts.Background),
		Stats:                   backend.StatsFromCounters(counters),
		Logs:                    logs,
		VisibleConversationText: session.Truncate(session.Redact(visible), VisibleTextMaxChars),
	}
}

func (s *Service) push(ctx context.Context, targets []string, result surface.SummaryResult) {
	for _, target := range targets {
		if err := s.surface.SetSummaryResult(ctx, target, result); err != nil {
			s.logger.Debug("push summary result failed", "target", target, "status", result.Status, "error", err)
		}
	}
}

func (s *Service) publish(status surface.SummaryStatus, result Summary) {
	if s.bus == nil {
		return
	}
	severity := events.SeverityInfo
	if status == surface.SummaryError {
		severity = events.SeverityError
	}
	s.bus.Publish(events.Event{
		Type:       events.EventTypeSummaryUpdated,
		EntityType: "summary",
		EntityID:   result.SessionID,
		Payload:    map[string]any{"status": status, "summary": result},
		Severity:   severity,
	})
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrNothingToSummarize):
		return "Not enough session data to summarize yet."
	case errors.Is(err, context.DeadlineExceeded):
		return "Summary API timed out."
	case errors.Is(err, backend.ErrStatus):
		return "Summary API request failed."
	case errors.Is(err, backend.ErrMalformed):
		return "Summary API returned an invalid response."
	default:
		return err.Error()
	}
}
