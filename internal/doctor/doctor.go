// Package doctor checks that the daemon can reach everything it depends on:
// the editor's remote-debugging port, the shared state store, the leader
// lease and the cached license.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ship-commander/autoaccept/internal/cdp"
	"github.com/ship-commander/autoaccept/internal/events"
	"github.com/ship-commander/autoaccept/internal/leader"
	"github.com/ship-commander/autoaccept/internal/license"
)

const (
	defaultHeartbeatInterval = time.Minute
	defaultStaleness         = leader.DefaultStaleness
)

// Outcome grades one check.
type Outcome string

const (
	OutcomeOK   Outcome = "ok"
	OutcomeWarn Outcome = "warn"
	OutcomeFail Outcome = "fail"
)

// Check is one line of a report.
type Check struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail"`
	// Fix is a suggested remedy for warn and fail outcomes.
	Fix string `json:"fix,omitempty"`
}

// Report is emitted on every heartbeat.
type Report struct {
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy reports whether no check failed.
func (r Report) Healthy() bool {
	for _, check := range r.Checks {
		if check.Outcome == OutcomeFail {
			return false
		}
	}
	return true
}

// Prober finds the editor's debugging port.
type Prober interface {
	Probe(ctx context.Context) (int, error)
}

// StateStore is a read probe against the shared key/value state.
type StateStore interface {
	Enabled(ctx context.Context) (bool, error)
}

// LeaseReader reads the persisted leader lease.
type LeaseReader interface {
	Load(ctx context.Context) (leader.Lease, bool, error)
}

// LicenseGate reports whether the cached license allows automation.
type LicenseGate interface {
	Require(ctx context.Context) error
}

// EventBus publishes reports.
type EventBus interface {
	Publish(event events.Event)
}

// Deps are the collaborators inspected by the checks.
type Deps struct {
	Prober  Prober
	State   StateStore
	Lease   LeaseReader
	License LicenseGate
	Bus     EventBus
}

// Config controls heartbeat cadence and lease freshness.
type Config struct {
	IDE               string
	HeartbeatInterval time.Duration
	Staleness         time.Duration
}

// Manager runs checks once or on a periodic ticker.
type Manager struct {
	deps              Deps
	ide               string
	heartbeatInterval time.Duration
	staleness         time.Duration
	now               func() time.Time
	newTicker         func(time.Duration) *time.Ticker
}

// NewManager builds a doctor with sane defaults.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	if deps.Prober == nil {
		return nil, errors.New("port prober is required")
	}
	if deps.State == nil {
		return nil, errors.New("state store is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = defaultStaleness
	}
	return &Manager{
		deps:              deps,
		ide:               strings.TrimSpace(cfg.IDE),
		heartbeatInterval: cfg.HeartbeatInterval,
		staleness:         cfg.Staleness,
		now:               time.Now,
		newTicker:         time.NewTicker,
	}, nil
}

// Start runs heartbeat checks until context cancellation.
func (m *Manager) Start(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := m.newTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executes every check and publishes the report.
func (m *Manager) RunOnce(ctx context.Context) Report {
	now := m.now().UTC()
	report := Report{
		CheckedAt: now,
		Checks: []Check{
			m.checkDebugPort(ctx),
			m.checkState(ctx),
		},
	}
	if m.deps.Lease != nil {
		report.Checks = append(report.Checks, m.checkLease(ctx, now))
	}
	if m.deps.License != nil {
		report.Checks = append(report.Checks, m.checkLicense(ctx))
	}

	if m.deps.Bus != nil {
		severity := events.SeverityInfo
		if !report.Healthy() {
			severity = events.SeverityWarn
		}
		m.deps.Bus.Publish(events.Event{
			Type:       events.EventTypeHealthCheck,
			Timestamp:  now,
			EntityType: "health",
			EntityID:   "doctor",
			Payload:    report,
			Severity:   severity,
		})
	}
	return report
}

func (m *Manager) checkDebugPort(ctx context.Context) Check {
	check := Check{Name: "remote debugging"}
	port, err := m.deps.Prober.Probe(ctx)
	if err != nil {
		check.Outcome = OutcomeFail
		check.Detail = err.Error()
		check.Fix = LaunchCommand(m.ide, cdp.DefaultPort)
		return check
	}
	check.Outcome = OutcomeOK
	check.Detail = fmt.Sprintf("listening on port %d", port)
	return check
}

func (m *Manager) checkState(ctx context.Context) Check {
	check := Check{Name: "state store"}
	enabled, err := m.deps.State.Enabled(ctx)
	if err != nil {
		check.Outcome = OutcomeFail
		check.Detail = err.Error()
		check.Fix = "check that the state_path directory is writable"
		return check
	}
	check.Outcome = OutcomeOK
	check.Detail = "automation disabled"
	if enabled {
		check.Detail = "automation enabled"
	}
	return check
}

func (m *Manager) checkLease(ctx context.Context, now time.Time) Check {
	check := Check{Name: "leader lease"}
	lease, found, err := m.deps.Lease.Load(ctx)
	switch {
	case err != nil:
		check.Outcome = OutcomeFail
		check.Detail = err.Error()
	case !found:
		check.Outcome = OutcomeWarn
		check.Detail = "no process has claimed leadership"
		check.Fix = "start the daemon with `autoaccept run`"
	case now.Sub(lease.LastHeartbeat) >= m.staleness:
		check.Outcome = OutcomeWarn
		check.Detail = fmt.Sprintf("lease held by %s is stale (last heartbeat %s ago)",
			lease.OwnerID, now.Sub(lease.LastHeartbeat).Round(time.Second))
		check.Fix = "start the daemon with `autoaccept run`"
	default:
		check.Outcome = OutcomeOK
		check.Detail = "held by " + lease.OwnerID
	}
	return check
}

func (m *Manager) checkLicense(ctx context.Context) Check {
	check := Check{Name: "license"}
	err := m.deps.License.Require(ctx)
	switch {
	case err == nil:
		check.Outcome = OutcomeOK
		check.Detail = "pro"
	case errors.Is(err, license.ErrLicenseRequired):
		check.Outcome = OutcomeWarn
		check.Detail = "no active license"
		check.Fix = "run `autoaccept license` after purchasing"
	default:
		check.Outcome = OutcomeFail
		check.Detail = err.Error()
	}
	return check
}
