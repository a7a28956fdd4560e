// Package settings exposes the typed persisted settings shared by every host process.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ship-commander/autoaccept/internal/banned"
	"github.com/ship-commander/autoaccept/internal/kvstore"
)

// Persisted keys.
const (
	KeyEnabled            = "auto-accept-enabled-global"
	KeyPro                = "auto-accept-isPro"
	KeyFrequency          = "auto-accept-frequency"
	KeyBannedCommands     = "auto-accept-banned-commands"
	KeyROIStats           = "auto-accept-roi-stats"
	KeyROIHistory         = "auto-accept-roi-history"
	KeyFirstInstall       = "auto-accept-first-install-complete"
	KeyLastVerified       = "auto-accept-last-verified"
	KeyBackgroundMode     = "auto-accept-background-mode"
	KeyBackgroundDontShow = "auto-accept-background-dont-show"
	KeyUserID             = "auto-accept-userId"
)

const (
	// DefaultFrequency is the default click poll interval in milliseconds.
	DefaultFrequency = 1000
	// MinFrequency is the smallest accepted poll interval in milliseconds.
	MinFrequency = 200
	// MaxFrequency is the largest accepted poll interval in milliseconds.
	MaxFrequency = 10000
)

// ErrInvalidFrequency is returned for a poll interval outside the accepted range.
var ErrInvalidFrequency = errors.New("frequency out of range")

// LockKey returns the leader lease key for ide.
func LockKey(ide string) string {
	ide = strings.ToLower(strings.TrimSpace(ide))
	if ide == "" {
		ide = "code"
	}
	return ide + "-instance-lock"
}

// Settings reads and writes typed values in a KV.
type Settings struct {
	kv kvstore.KV
}

// New wraps kv.
func New(kv kvstore.KV) (*Settings, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	return &Settings{kv: kv}, nil
}

// KV exposes the underlying store.
func (s *Settings) KV() kvstore.KV {
	return s.kv
}

// Enabled reports whether automation is switched on.
func (s *Settings) Enabled(ctx context.Context) (bool, error) {
	return getOr(ctx, s.kv, KeyEnabled, false)
}

// SetEnabled switches automation on or off.
func (s *Settings) SetEnabled(ctx context.Context, enabled bool) error {
	return s.kv.Set(ctx, KeyEnabled, enabled)
}

// Pro reports the cached license state.
func (s *Settings) Pro(ctx context.Context) (bool, error) {
	return getOr(ctx, s.kv, KeyPro, false)
}

// SetPro caches the license state.
func (s *Settings) SetPro(ctx context.Context, pro bool) error {
	return s.kv.Set(ctx, KeyPro, pro)
}

// Frequency returns the click poll interval in milliseconds.
func (s *Settings) Frequency(ctx context.Context) (int, error) {
	value, err := getOr(ctx, s.kv, KeyFrequency, DefaultFrequency)
	if err != nil {
		return DefaultFrequency, err
	}
	if value < MinFrequency || value > MaxFrequency {
		return DefaultFrequency, nil
	}
	return value, nil
}

// SetFrequency stores the click poll interval in milliseconds.
func (s *Settings) SetFrequency(ctx context.Context, ms int) error {
	if ms < MinFrequency || ms > MaxFrequency {
		return fmt.Errorf("%w: %dms not in [%d, %d]", ErrInvalidFrequency, ms, MinFrequency, MaxFrequency)
	}
	return s.kv.Set(ctx, KeyFrequency, ms)
}

// BannedCommands returns the banned pattern list; an unset list yields the defaults.
func (s *Settings) BannedCommands(ctx context.Context) ([]string, error) {
	var patterns []string
	found, err := s.kv.Get(ctx, KeyBannedCommands, &patterns)
	if err != nil {
		return append([]string(nil), banned.DefaultPatterns...), err
	}
	if !found {
		return append([]string(nil), banned.DefaultPatterns...), nil
	}
	return patterns, nil
}

// SetBannedCommands stores patterns, dropping blanks.
func (s *Settings) SetBannedCommands(ctx context.Context, patterns []string) error {
	cleaned := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			cleaned = append(cleaned, pattern)
		}
	}
	return s.kv.Set(ctx, KeyBannedCommands, cleaned)
}

// Background reports whether background mode is selected.
func (s *Settings) Background(ctx context.Context) (bool, error) {
	return getOr(ctx, s.kv, KeyBackgroundMode, false)
}

// SetBackground selects background mode.
func (s *Settings) SetBackground(ctx context.Context, on bool) error {
	return s.kv.Set(ctx, KeyBackgroundMode, on)
}

// BackgroundDontShow reports whether the background confirmation was dismissed permanently.
func (s *Settings) BackgroundDontShow(ctx context.Context) (bool, error) {
	return getOr(ctx, s.kv, KeyBackgroundDontShow, false)
}

// SetBackgroundDontShow records the confirmation preference.
func (s *Settings) SetBackgroundDontShow(ctx context.Context, dontShow bool) error {
	return s.kv.Set(ctx, KeyBackgroundDontShow, dontShow)
}

// FirstInstallComplete reports whether the first-run guide was shown.
func (s *Settings) FirstInstallComplete(ctx context.Context) (bool, error) {
	return getOr(ctx, s.kv, KeyFirstInstall, false)
}

// MarkFirstInstallComplete records that the first-run guide was shown.
func (s *Settings) MarkFirstInstallComplete(ctx context.Context) error {
	return s.kv.Set(ctx, KeyFirstInstall, true)
}

// LastVerified returns the last successful license verification time.
func (s *Settings) LastVerified(ctx context.Context) (time.Time, error) {
	return getOr(ctx, s.kv, KeyLastVerified, time.Time{})
}

// SetLastVerified records a license verification time.
func (s *Settings) SetLastVerified(ctx context.Context, at time.Time) error {
	return s.kv.Set(ctx, KeyLastVerified, at.UTC())
}

// UserID returns the stable anonymous user id, creating one on first use.
func (s *Settings) UserID(ctx context.Context) (string, error) {
	var id string
	err := s.kv.Update(ctx, KeyUserID, func(current json.RawMessage, found bool) (any, error) {
		if found {
			var existing string
			if err := json.Unmarshal(current, &existing); err == nil && existing != "" {
				id = existing
				return existing, nil
			}
		}
		id = uuid.NewString()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func getOr[T any](ctx context.Context, kv kvstore.KV, key string, fallback T) (T, error) {
	var value T
	found, err := kv.Get(ctx, key, &value)
	if err != nil {
		return fallback, err
	}
	if !found {
		return fallback, nil
	}
	return value, nil
}
