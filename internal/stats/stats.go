// Package stats keeps the persisted weekly ROI record and rolls it over at
// the start of each calendar week.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ship-commander/autoaccept/internal/kvstore"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/surface"
)

const (
	// SecondsPerClick is the time one automated activation is assumed to save.
	SecondsPerClick = 5
	// HistoryLimit is the number of archived weeks kept.
	HistoryLimit = 12
)

// Weekly is the ROI record for one calendar week.
type Weekly struct {
	WeekStart time.Time `json:"weekStart"`
	Clicks    int       `json:"clicksThisWeek"`
	Blocked   int       `json:"blockedThisWeek"`
	Sessions  int       `json:"sessionsThisWeek"`
}

// RolloverFunc is called once for each week archived with clicks > 0.
type RolloverFunc func(ctx context.Context, previous Weekly)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the time zone used for week boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRollover registers the finished-week callback.
func WithRollover(fn RolloverFunc) Option {
	return func(s *Store) {
		s.onRollover = fn
	}
}

// Store reads and merges the weekly record in the shared KV.
type Store struct {
	kv         kvstore.KV
	now        func() time.Time
	loc        *time.Location
	onRollover RolloverFunc
}

// NewStore constructs a stats store over kv.
func NewStore(kv kvstore.KV, options ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	s := &Store{kv: kv, now: time.Now, loc: time.Local}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	return s, nil
}

// WeekStart returns Sunday 00:00 of the week containing t in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -int(local.Weekday()))
}

// Load returns the current week's record, rolling over a stale one.
func (s *Store) Load(ctx context.Context) (Weekly, error) {
	return s.mutate(ctx, func(*Weekly) {})
}

// Add merges drained surface counters into the current week.
func (s *Store) Add(ctx context.Context, delta surface.Counters) (Weekly, error) {
	return s.mutate(ctx, func(w *Weekly) {
		w.Clicks += delta.Accepted
		w.Blocked += delta.Blocked
	})
}

// IncrementSessions counts one more session this week.
func (s *Store) IncrementSessions(ctx context.Context) (Weekly, error) {
	return s.mutate(ctx, func(w *Weekly) {
		w.Sessions++
	})
}

// History returns archived weeks, newest last.
func (s *Store) History(ctx context.Context) ([]Weekly, error) {
	var history []Weekly
	if _, err := s.kv.Get(ctx, settings.KeyROIHistory, &history); err != nil {
		return nil, fmt.Errorf("load roi history: %w", err)
	}
	return history, nil
}

func (s *Store) mutate(ctx context.Context, apply func(*Weekly)) (Weekly, error) {
	currentStart := WeekStart(s.now(), s.loc)

	var (
		result   Weekly
		archived *Weekly
	)
	err := s.kv.Update(ctx, settings.KeyROIStats, func(raw json.RawMessage, found bool) (any, error) {
		archived = nil
		record := Weekly{WeekStart: currentStart}
		if found {
			var stored Weekly
			if err := json.Unmarshal(raw, &stored); err == nil {
				record = stored
			}
		}
		if !record.WeekStart.Equal(currentStart) {
			if found && record.WeekStart.Before(currentStart) {
				previous := record
				archived = &previous
			}
			record = Weekly{WeekStart: currentStart}
		}
		apply(&record)
		result = record
		return record, nil
	})
	if err != nil {
		return Weekly{}, fmt.Errorf("update roi stats: %w", err)
	}

	if archived != nil {
		if err := s.archive(ctx, *archived); err != nil {
			return result, err
		}
		if archived.Clicks > 0 && s.onRollover != nil {
			s.onRollover(ctx, *archived)
		}
	}
	return result, nil
}

func (s *Store) archive(ctx context.Context, week Weekly) error {
	err := s.kv.Update(ctx, settings.KeyROIHistory, func(raw json.RawMessage, found bool) (any, error) {
		var history []Weekly
		if found {
			_ = json.Unmarshal(raw, &history)
		}
		history = append(history, week)
		if len(history) > HistoryLimit {
			history = history[len(history)-HistoryLimit:]
		}
		return history, nil
	})
	if err != nil {
		return fmt.Errorf("archive roi week: %w", err)
	}
	return nil
}

// TimeSaved estimates the time saved by clicks automated activations.
func TimeSaved(clicks int) time.Duration {
	return time.Duration(clicks*SecondsPerClick) * time.Second
}

// FormatTimeSaved renders a saved duration as minutes, or hours past one hour.
func FormatTimeSaved(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes >= 60 {
		return fmt.Sprintf("%.1f hours", float64(minutes)/60)
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// WeeklyMessage is the notification text for a finished week.
func WeeklyMessage(w Weekly) string {
	message := fmt.Sprintf("Last week, Auto Accept saved you %s by auto-clicking %d buttons!",
		FormatTimeSaved(TimeSaved(w.Clicks)), w.Clicks)
	if w.Sessions > 0 {
		message += fmt.Sprintf(" Recovered %d stuck sessions.", w.Sessions)
	}
	if w.Blocked > 0 {
		message += fmt.Sprintf(" Blocked %d dangerous commands.", w.Blocked)
	}
	return message
}
