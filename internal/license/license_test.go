package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-commander/autoaccept/internal/kvstore"
	"github.com/ship-commander/autoaccept/internal/settings"
)

type scriptedChecker struct {
	mu      sync.Mutex
	results []checkResult
	calls   int
}

type checkResult struct {
	pro bool
	err error
}

func (c *scriptedChecker) CheckLicense(context.Context, string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	if idx >= len(c.results) {
		idx = len(c.results) - 1
	}
	return c.results[idx].pro, c.results[idx].err
}

func newVerifier(t *testing.T, checker Checker, options ...Option) (*Verifier, *settings.Settings) {
	t.Helper()
	store, err := settings.New(kvstore.NewMemory())
	require.NoError(t, err)
	options = append([]Option{WithRetryStep(time.Millisecond), WithPollInterval(time.Millisecond)}, options...)
	v, err := NewVerifier(checker, store, options...)
	require.NoError(t, err)
	return v, store
}

var errNetwork = errors.New("dial tcp: connection refused")

func TestVerifyRetriesThenSucceeds(t *testing.T) {
	checker := &scriptedChecker{results: []checkResult{{err: errNetwork}, {err: errNetwork}, {pro: true}}}
	v, store := newVerifier(t, checker)

	status, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPro, status)
	assert.Equal(t, 3, checker.calls)

	last, err := store.LastVerified(context.Background())
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestVerifyGivesUpAfterThreeAttempts(t *testing.T) {
	checker := &scriptedChecker{results: []checkResult{{err: errNetwork}}}
	v, _ := newVerifier(t, checker)

	status, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)
	assert.Equal(t, 3, checker.calls)
}

func TestRefreshPreservesCachedStatusOnNetworkError(t *testing.T) {
	checker := &scriptedChecker{results: []checkResult{{err: errNetwork}}}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v, store := newVerifier(t, checker, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	require.NoError(t, store.SetPro(ctx, true))
	require.NoError(t, store.SetLastVerified(ctx, now.Add(-2*time.Hour)))

	result, err := v.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, result.Pro)
	assert.False(t, result.Changed)
	assert.False(t, result.Stale)

	require.NoError(t, store.SetLastVerified(ctx, now.Add(-48*time.Hour)))
	result, err = v.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, result.Pro)
	assert.True(t, result.Stale)
}

func TestRefreshStoresDefiniteAnswer(t *testing.T) {
	checker := &scriptedChecker{results: []checkResult{{pro: false}}}
	v, store := newVerifier(t, checker)
	ctx := context.Background()
	require.NoError(t, store.SetPro(ctx, true))

	result, err := v.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, result.Pro)
	assert.True(t, result.Changed)

	pro, err := store.Pro(ctx)
	require.NoError(t, err)
	assert.False(t, pro)
	assert.ErrorIs(t, v.Require(ctx), ErrLicenseRequired)
}

func TestPollUntilProSkipsNetworkErrors(t *testing.T) {
	checker := &scriptedChecker{results: []checkResult{
		{pro: false},
		{err: errNetwork}, {err: errNetwork}, {err: errNetwork},
		{pro: true},
	}}
	v, store := newVerifier(t, checker)
	ctx := context.Background()

	require.NoError(t, v.PollUntilPro(ctx))
	pro, err := store.Pro(ctx)
	require.NoError(t, err)
	assert.True(t, pro)
	require.NoError(t, v.Require(ctx))
}

func TestPollUntilProExhausts(t *testing.T) {
	checker := &scriptedChecker{results: []checkResult{{pro: false}}}
	v, _ := newVerifier(t, checker)
	v.pollAttempts = 3

	err := v.PollUntilPro(context.Background())
	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, 3, checker.calls)
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: time.Second}
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}
