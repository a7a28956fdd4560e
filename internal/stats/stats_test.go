package stats

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-commander/autoaccept/internal/kvstore"
	"github.com/ship-commander/autoaccept/internal/settings"
	"github.com/ship-commander/autoaccept/internal/surface"
)

func TestWeekStartIsSundayMidnight(t *testing.T) {
	wednesday := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), WeekStart(wednesday, time.UTC))

	sunday := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, sunday, WeekStart(sunday, time.UTC))
}

func TestAddMergesIntoCurrentWeek(t *testing.T) {
	kv := kvstore.NewMemory()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	store, err := NewStore(kv, WithClock(func() time.Time { return now }), WithLocation(time.UTC))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Add(ctx, surface.Counters{Accepted: 3, Blocked: 1})
	require.NoError(t, err)
	week, err := store.Add(ctx, surface.Counters{Accepted: 2})
	require.NoError(t, err)
	_, err = store.IncrementSessions(ctx)
	require.NoError(t, err)

	week, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, week.Clicks)
	assert.Equal(t, 1, week.Blocked)
	assert.Equal(t, 1, week.Sessions)
}

func TestRolloverArchivesAndNotifiesOnce(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	oldStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, kv.Set(ctx, settings.KeyROIStats, Weekly{WeekStart: oldStart, Clicks: 40, Blocked: 2, Sessions: 3}))

	var notified []Weekly
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	store, err := NewStore(kv,
		WithClock(func() time.Time { return now }),
		WithLocation(time.UTC),
		WithRollover(func(_ context.Context, previous Weekly) { notified = append(notified, previous) }),
	)
	require.NoError(t, err)

	week, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Weekly{WeekStart: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)}, week)

	_, err = store.Load(ctx)
	require.NoError(t, err)

	require.Len(t, notified, 1)
	assert.Equal(t, 40, notified[0].Clicks)

	history, err := store.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].WeekStart.Equal(oldStart))
}

func TestRolloverWithoutClicksIsSilent(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, settings.KeyROIStats, Weekly{WeekStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Blocked: 4}))

	calls := 0
	store, err := NewStore(kv,
		WithClock(func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }),
		WithLocation(time.UTC),
		WithRollover(func(context.Context, Weekly) { calls++ }),
	)
	require.NoError(t, err)
	_, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestHistoryIsCapped(t *testing.T) {
	kv := kvstore.NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)
	store, err := NewStore(kv, WithClock(func() time.Time { return now }), WithLocation(time.UTC))
	require.NoError(t, err)

	for i := 0; i < HistoryLimit+3; i++ {
		_, err := store.Add(ctx, surface.Counters{Accepted: 1})
		require.NoError(t, err)
		now = now.AddDate(0, 0, 7)
	}
	history, err := store.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, HistoryLimit)
}

func TestWeeklyMessage(t *testing.T) {
	message := WeeklyMessage(Weekly{Clicks: 1440, Sessions: 2, Blocked: 1})
	assert.True(t, strings.Contains(message, "2.0 hours"), message)
	assert.Contains(t, message, "1440 buttons")
	assert.Contains(t, message, "Recovered 2 stuck sessions.")
	assert.Contains(t, message, "Blocked 1 dangerous commands.")

	assert.Equal(t, "3 minutes", FormatTimeSaved(TimeSaved(36)))
}
