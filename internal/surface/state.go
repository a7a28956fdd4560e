package surface

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ship-commander/autoaccept/internal/banned"
)

// Mode selects foreground or background automation.
type Mode string

const (
	ModeSimple     Mode = "simple"
	ModeBackground Mode = "background"
)

const (
	defaultPollInterval = time.Second
	minPollInterval     = 100 * time.Millisecond
)

// Config is the configuration a controller is started with.
type Config struct {
	IDE            string   `json:"ide"`
	Mode           Mode     `json:"mode"`
	PollIntervalMS int      `json:"pollIntervalMs"`
	BannedPatterns []string `json:"bannedPatterns"`
}

// PollInterval returns the click loop interval with defaults applied.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return defaultPollInterval
	}
	interval := time.Duration(c.PollIntervalMS) * time.Millisecond
	if interval < minPollInterval {
		return minPollInterval
	}
	return interval
}

func (c Config) normalized() Config {
	c.IDE = strings.ToLower(strings.TrimSpace(c.IDE))
	if c.Mode != ModeBackground {
		c.Mode = ModeSimple
	}
	c.BannedPatterns = append([]string(nil), c.BannedPatterns...)
	return c
}

func (c Config) equal(other Config) bool {
	return c.IDE == other.IDE &&
		c.Mode == other.Mode &&
		c.PollIntervalMS == other.PollIntervalMS &&
		slices.Equal(c.BannedPatterns, other.BannedPatterns)
}

// Counters are the automation counters drained by the host.
type Counters struct {
	Accepted         int `json:"accepted"`
	Blocked          int `json:"blocked"`
	FileEdits        int `json:"fileEdits"`
	TerminalCommands int `json:"terminalCommands"`
}

// Total sums every counter.
func (c Counters) Total() int {
	return c.Accepted + c.Blocked + c.FileEdits + c.TerminalCommands
}

// Add accumulates other into c.
func (c *Counters) Add(other Counters) {
	c.Accepted += other.Accepted
	c.Blocked += other.Blocked
	c.FileEdits += other.FileEdits
	c.TerminalCommands += other.TerminalCommands
}

// TabStatus is the completion state of one conversation tab.
type TabStatus string

const (
	TabInProgress     TabStatus = "in_progress"
	TabDone           TabStatus = "done"
	TabDoneWithErrors TabStatus = "done_with_errors"
)

// Completed reports whether the tab has finished.
func (s TabStatus) Completed() bool {
	return s == TabDone || s == TabDoneWithErrors
}

// SummaryStatus tags a SummaryResult.
type SummaryStatus string

const (
	SummaryIdle    SummaryStatus = "idle"
	SummaryLoading SummaryStatus = "loading"
	SummarySuccess SummaryStatus = "success"
	SummaryError   SummaryStatus = "error"
)

// SummaryRequest is a consumed request flag.
type SummaryRequest struct {
	Requested   bool      `json:"requested"`
	RequestedAt time.Time `json:"requestedAt"`
}

// SummaryResult is pushed to the surface by the host.
type SummaryResult struct {
	Status      SummaryStatus `json:"status"`
	Summary     string        `json:"summary,omitempty"`
	GeneratedAt time.Time     `json:"generatedAt,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// TabView is one tab row as exposed in snapshots.
type TabView struct {
	Name   string    `json:"name"`
	Status TabStatus `json:"status"`
}

// Snapshot is a read-only copy of the automation state.
type Snapshot struct {
	Running     bool          `json:"running"`
	Epoch       uint64        `json:"epoch"`
	Mode        Mode          `json:"mode"`
	IDE         string        `json:"ide"`
	Counters    Counters      `json:"counters"`
	AwayActions int           `json:"awayActions"`
	Focused     bool          `json:"focused"`
	Paused      bool          `json:"paused"`
	Tabs        []TabView     `json:"tabs"`
	Summary     SummaryStatus `json:"summary"`
}

// State is the single owned automation state of one injected controller.
type State struct {
	mu sync.Mutex

	running  bool
	epoch    uint64
	cfg      Config
	patterns []banned.Pattern
	profile  Profile
	cancel   context.CancelFunc

	counters    Counters
	awayActions int
	focused     bool

	tabNames    []string
	completion  map[string]TabStatus
	tabIndex    int
	noTabStreak int
	blockedRefs map[string]struct{}

	pendingSummary     bool
	summaryRequestedAt time.Time
	lastSummary        SummaryResult
	pauseUntil         time.Time
}

func newState() *State {
	return &State{
		focused:     true,
		completion:  map[string]TabStatus{},
		blockedRefs: map[string]struct{}{},
		lastSummary: SummaryResult{Status: SummaryIdle},
	}
}

// begin starts a new generation and returns its epoch. Per-run fields are reset.
func (s *State) begin(cfg Config, cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.running = true
	s.cfg = cfg
	s.patterns = banned.Compile(cfg.BannedPatterns)
	s.profile = ProfileFor(cfg.IDE)
	s.cancel = cancel
	s.tabNames = nil
	s.completion = map[string]TabStatus{}
	s.tabIndex = 0
	s.noTabStreak = 0
	s.blockedRefs = map[string]struct{}{}
	s.pendingSummary = false
	s.summaryRequestedAt = time.Time{}
	s.pauseUntil = time.Time{}
	if s.lastSummary.Status == SummaryLoading {
		s.lastSummary = SummaryResult{Status: SummaryIdle}
	}
	return s.epoch
}

// end invalidates the current generation. It returns false when nothing was running.
func (s *State) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	s.epoch++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

func (s *State) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.epoch == epoch
}

func (s *State) config() (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.running
}

func (s *State) runtime() (Profile, []banned.Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.patterns
}

func (s *State) recordActivation(epoch uint64, kind ActionKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.epoch != epoch {
		return false
	}
	s.counters.Accepted++
	switch kind {
	case ActionTerminal:
		s.counters.TerminalCommands++
	case ActionFileEdit:
		s.counters.FileEdits++
	}
	if !s.focused {
		s.awayActions++
	}
	return true
}

// recordBlocked counts a blocked control once per ref per generation.
func (s *State) recordBlocked(epoch uint64, ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.epoch != epoch {
		return false
	}
	if _, seen := s.blockedRefs[ref]; seen {
		return false
	}
	s.blockedRefs[ref] = struct{}{}
	s.counters.Blocked++
	return true
}

func (s *State) observe(focused bool, pointerDown time.Time, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = focused
	if pointerDown.IsZero() {
		return
	}
	if until := pointerDown.Add(cooldown); until.After(s.pauseUntil) {
		s.pauseUntil = until
	}
}

func (s *State) paused(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.pauseUntil)
}

func (s *State) stats(reset bool) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.counters
	if reset {
		s.counters = Counters{}
	}
	return out
}

func (s *State) consumeAwayActions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.awayActions
	s.awayActions = 0
	return out
}

// requestSummary raises the pending flag. A request while one is pending or loading is ignored.
func (s *State) requestSummary(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingSummary || s.lastSummary.Status == SummaryLoading {
		return false
	}
	s.pendingSummary = true
	s.summaryRequestedAt = now
	s.lastSummary = SummaryResult{Status: SummaryLoading}
	return true
}

func (s *State) consumeSummaryRequest() SummaryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingSummary {
		return SummaryRequest{}
	}
	request := SummaryRequest{Requested: true, RequestedAt: s.summaryRequestedAt}
	s.pendingSummary = false
	return request
}

func (s *State) setSummary(result SummaryResult) SummaryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.Status == "" {
		result.Status = SummaryIdle
	}
	s.lastSummary = result
	return result
}

func (s *State) summary() SummaryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSummary
}

// setTabNames replaces the known tab names, keeping completion of surviving names.
// It reports whether the list changed.
func (s *State) setTabNames(epoch uint64, names []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || len(names) == 0 {
		return false
	}
	if slices.Equal(s.tabNames, names) {
		return false
	}
	completion := make(map[string]TabStatus, len(names))
	for _, name := range names {
		if status, ok := s.completion[name]; ok {
			completion[name] = status
			continue
		}
		completion[name] = TabInProgress
	}
	s.tabNames = append([]string(nil), names...)
	s.completion = completion
	s.noTabStreak = 0
	return true
}

func (s *State) markCompletion(epoch uint64, name string, status TabStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	if s.completion[name] == status {
		return false
	}
	s.completion[name] = status
	return true
}

func (s *State) nextTabIndex(count int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count <= 0 {
		return 0
	}
	index := s.tabIndex % count
	s.tabIndex = (index + 1) % count
	return index
}

func (s *State) noTabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noTabStreak++
	return s.noTabStreak
}

func (s *State) resetNoTabs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noTabStreak = 0
}

func (s *State) tabs() []TabView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabsLocked()
}

func (s *State) tabsLocked() []TabView {
	out := make([]TabView, 0, len(s.tabNames))
	for _, name := range s.tabNames {
		status := s.completion[name]
		if status == "" {
			status = TabInProgress
		}
		out = append(out, TabView{Name: name, Status: status})
	}
	return out
}

func (s *State) snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running:     s.running,
		Epoch:       s.epoch,
		Mode:        s.cfg.Mode,
		IDE:         s.cfg.IDE,
		Counters:    s.counters,
		AwayActions: s.awayActions,
		Focused:     s.focused,
		Paused:      now.Before(s.pauseUntil),
		Tabs:        s.tabsLocked(),
		Summary:     s.lastSummary.Status,
	}
}
