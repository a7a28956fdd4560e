// Package license verifies Pro status against the backend and caches it in
// the shared settings.
package license

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/ship-commander/autoaccept/internal/settings"
)

const (
	defaultAttempts     = 3
	defaultRetryStep    = time.Second
	defaultGrace        = 24 * time.Hour
	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 24
)

var (
	// ErrLicenseRequired is returned when automation is gated on a missing license.
	ErrLicenseRequired = errors.New("auto accept requires an active license")
	// ErrPollExhausted is returned when Pro status never appeared while polling.
	ErrPollExhausted = errors.New("pro verification is taking longer than expected")
)

// Checker answers the license question for one user.
type Checker interface {
	CheckLicense(ctx context.Context, userID string) (bool, error)
}

// Status is the outcome of one verification.
type Status int

const (
	// StatusUnknown means every attempt failed; the cached value stands.
	StatusUnknown Status = iota
	StatusFree
	StatusPro
)

func (s Status) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusPro:
		return "pro"
	default:
		return "unknown"
	}
}

// Result describes a refresh.
type Result struct {
	Status  Status
	Pro     bool
	Changed bool
	// Stale is set when verification failed and the last success is older
	// than the grace period.
	Stale bool
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the verifier logger.
func WithLogger(logger *log.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithRetryStep sets the linear backoff step between attempts.
func WithRetryStep(step time.Duration) Option {
	return func(v *Verifier) {
		if step > 0 {
			v.retryStep = step
		}
	}
}

// WithPollInterval sets the Pro polling pace.
func WithPollInterval(interval time.Duration) Option {
	return func(v *Verifier) {
		if interval > 0 {
			v.pollInterval = interval
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// Verifier checks and caches Pro status.
type Verifier struct {
	checker      Checker
	settings     *settings.Settings
	logger       *log.Logger
	attempts     uint
	retryStep    time.Duration
	grace        time.Duration
	pollInterval time.Duration
	pollAttempts int
	now          func() time.Time
}

// NewVerifier constructs a verifier.
func NewVerifier(checker Checker, store *settings.Settings, options ...Option) (*Verifier, error) {
	if checker == nil {
		return nil, errors.New("license checker is required")
	}
	if store == nil {
		return nil, errors.New("settings are required")
	}
	v := &Verifier{
		checker:      checker,
		settings:     store,
		logger:       log.New(io.Discard),
		attempts:     defaultAttempts,
		retryStep:    defaultRetryStep,
		grace:        defaultGrace,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
		now:          time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(v)
		}
	}
	return v, nil
}

// Verify asks the backend, retrying with a linear backoff. A success stamps
// the last-verified time. StatusUnknown is returned when all attempts fail.
func (v *Verifier) Verify(ctx context.Context) (Status, error) {
	userID, err := v.settings.UserID(ctx)
	if err != nil {
		return StatusUnknown, fmt.Errorf("resolve user id: %w", err)
	}

	attempt := 0
	pro, err := backoff.Retry(ctx, func() (bool, error) {
		attempt++
		pro, err := v.checker.CheckLicense(ctx, userID)
		if err != nil {
			v.logger.Warn("license verification attempt failed", "attempt", attempt, "max", v.attempts, "error", err)
			return false, err
		}
		return pro, nil
	},
		backoff.WithBackOff(&linearBackOff{step: v.retryStep}),
		backoff.WithMaxTries(v.attempts),
	)
	if err != nil {
		if ctx.Err() != nil {
			return StatusUnknown, ctx.Err()
		}
		return StatusUnknown, nil
	}

	if err := v.settings.SetLastVerified(ctx, v.now()); err != nil {
		v.logger.Warn("record license verification time", "error", err)
	}
	if pro {
		return StatusPro, nil
	}
	return StatusFree, nil
}

// Refresh verifies and updates the cached Pro flag when the backend gave a
// definite answer. On network failure the cached flag is preserved.
func (v *Verifier) Refresh(ctx context.Context) (Result, error) {
	cached, err := v.settings.Pro(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load cached pro status: %w", err)
	}
	status, err := v.Verify(ctx)
	if err != nil {
		return Result{Status: status, Pro: cached}, err
	}

	if status == StatusUnknown {
		result := Result{Status: status, Pro: cached}
		last, err := v.settings.LastVerified(ctx)
		if err == nil && v.now().Sub(last) >= v.grace {
			result.Stale = true
			v.logger.Warn("license verification failed and cache is stale, preserving status", "pro", cached)
		} else {
			v.logger.Info("license verification failed, verified within grace period, preserving status", "pro", cached)
		}
		return result, nil
	}

	pro := status == StatusPro
	result := Result{Status: status, Pro: pro, Changed: pro != cached}
	if result.Changed {
		if err := v.settings.SetPro(ctx, pro); err != nil {
			return result, fmt.Errorf("store pro status: %w", err)
		}
		v.logger.Info("license status updated", "pro", pro)
	}
	return result, nil
}

// Require returns ErrLicenseRequired unless the cached Pro flag is set.
func (v *Verifier) Require(ctx context.Context) error {
	pro, err := v.settings.Pro(ctx)
	if err != nil {
		return fmt.Errorf("load cached pro status: %w", err)
	}
	if !pro {
		return ErrLicenseRequired
	}
	return nil
}

// PollUntilPro re-verifies at a fixed pace until the backend reports Pro.
// Attempts that fail on the network are not counted.
func (v *Verifier) PollUntilPro(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(v.pollInterval), 1)
	counted := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		status, err := v.Verify(ctx)
		if err != nil {
			return err
		}
		if status == StatusUnknown {
			v.logger.Info("pro polling network error, not counting attempt")
			continue
		}

		counted++
		v.logger.Info("pro polling attempt", "attempt", counted, "max", v.pollAttempts)
		if status == StatusPro {
			if err := v.settings.SetPro(ctx, true); err != nil {
				return fmt.Errorf("store pro status: %w", err)
			}
			return nil
		}
		if counted >= v.pollAttempts {
			return ErrPollExhausted
		}
	}
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}
