// Package session tracks the active automation session, its accumulated
// counters, and a bounded redacted log of what happened during it.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ship-commander/autoaccept/internal/surface"
)

// Session is one enable-to-disable automation window.
type Session struct {
	ID         string           `json:"sessionId"`
	StartedAt  time.Time        `json:"startedAt"`
	EndedAt    *time.Time       `json:"endedAt"`
	IDE        string           `json:"ide"`
	Background bool             `json:"backgroundMode"`
	Totals     surface.Counters `json:"-"`
}

// Active reports whether the session has not ended.
func (s Session) Active() bool {
	return s.ID != "" && s.EndedAt == nil
}

// Meta is the session metadata sent with summary requests.
type Meta struct {
	SessionID   string     `json:"sessionId"`
	StartedAt   *time.Time `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
	GeneratedAt time.Time  `json:"generatedAt"`
	IDE         string     `json:"ide"`
	Background  bool       `json:"backgroundMode"`
}

// Tracker owns the single current session and its log buffer.
type Tracker struct {
	mu      sync.Mutex
	current Session
	counter int
	logs    *LogBuffer
	now     func() time.Time
}

// NewTracker constructs a tracker whose log buffer keeps logLimit lines.
func NewTracker(logLimit int) *Tracker {
	return &Tracker{
		logs: NewLogBuffer(logLimit),
		now:  time.Now,
	}
}

// Logs exposes the session log buffer.
func (t *Tracker) Logs() *LogBuffer {
	return t.logs
}

// Ensure starts a session unless one is already open. It reports whether a
// new session was created.
func (t *Tracker) Ensure(ide string, background bool) (Session, bool) {
	t.mu.Lock()
	if t.current.Active() {
		current := t.current
		t.mu.Unlock()
		return current, false
	}
	t.counter++
	now := t.now().UTC()
	t.current = Session{
		ID:         fmt.Sprintf("session-%d-%d", now.UnixMilli(), t.counter),
		StartedAt:  now,
		IDE:        normalizeIDE(ide),
		Background: background,
	}
	started := t.current
	t.mu.Unlock()

	t.logs.Reset()
	t.logs.Append("[SESSION] Started " + started.ID)
	return started, true
}

// End closes the open session. It reports false when nothing was open.
func (t *Tracker) End() (Session, bool) {
	t.mu.Lock()
	if !t.current.Active() {
		current := t.current
		t.mu.Unlock()
		return current, false
	}
	ended := t.now().UTC()
	t.current.EndedAt = &ended
	closed := t.current
	t.mu.Unlock()

	t.logs.Append("[SESSION] Ended " + closed.ID)
	return closed, true
}

// Current returns a copy of the latest session, open or closed.
func (t *Tracker) Current() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Record adds drained counters to the open session. Counters arriving with
// no open session are dropped.
func (t *Tracker) Record(delta surface.Counters) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.current.Active() {
		return
	}
	t.current.Totals.Add(delta)
}

// SetBackground updates the mode recorded on the open session.
func (t *Tracker) SetBackground(background bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.Active() {
		t.current.Background = background
	}
}

// Meta describes the current session for a summary payload. Without any
// session an ad hoc id is generated.
func (t *Tracker) Meta(ide string, background bool) Meta {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().UTC()
	if t.current.ID == "" {
		return Meta{
			SessionID:   fmt.Sprintf("session-%d-ad-hoc", now.UnixMilli()),
			GeneratedAt: now,
			IDE:         normalizeIDE(ide),
			Background:  background,
		}
	}
	started := t.current.StartedAt
	return Meta{
		SessionID:   t.current.ID,
		StartedAt:   &started,
		EndedAt:     t.current.EndedAt,
		GeneratedAt: now,
		IDE:         t.current.IDE,
		Background:  t.current.Background,
	}
}

func normalizeIDE(ide string) string {
	ide = strings.ToLower(strings.TrimSpace(ide))
	if ide == "" {
		return "unknown"
	}
	return ide
}
