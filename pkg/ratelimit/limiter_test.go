package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limits Limits) (*Limiter, *time.Time) {
	t.Helper()

	limiter, err := NewLimiter(limits, NewMemoryStore())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	limiter.lastCleanup = now
	return limiter, &now
}

func TestNewLimiterValidation(t *testing.T) {
	_, err := NewLimiter(Limits{PerIPPerMinute: 10, PerIPPerHour: 100, GlobalPerMinute: 1000}, nil)
	assert.Error(t, err)

	_, err = NewLimiter(Limits{PerIPPerMinute: 0, PerIPPerHour: 100, GlobalPerMinute: 1000}, NewMemoryStore())
	assert.Error(t, err)
}

func TestPerIPMinuteLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, Limits{PerIPPerMinute: 3, PerIPPerHour: 100, GlobalPerMinute: 1000})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckAndRecord(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.CheckAndRecord(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, LimitPerIPMinute, result.Kind)
	require.NotNil(t, result.RetryAfter)
	assert.Greater(t, *result.RetryAfter, time.Duration(0))

	// Other IPs are unaffected
	other, err := limiter.CheckAndRecord(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestPerIPHourLimit(t *testing.T) {
	limiter, now := newTestLimiter(t, Limits{PerIPPerMinute: 10, PerIPPerHour: 12, GlobalPerMinute: 1000})
	ctx := context.Background()

	// Spread requests over several minutes so the minute window never trips
	for i := 0; i < 12; i++ {
		result, err := limiter.CheckAndRecord(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		*now = now.Add(2 * time.Minute)
	}

	result, err := limiter.CheckAndRecord(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, LimitPerIPHour, result.Kind)
}

func TestGlobalLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, Limits{PerIPPerMinute: 100, PerIPPerHour: 1000, GlobalPerMinute: 2})
	ctx := context.Background()

	for _, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		result, err := limiter.CheckAndRecord(ctx, ip)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.CheckAndRecord(ctx, "3.3.3.3")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, LimitGlobalMinute, result.Kind)
}

func TestWindowSlides(t *testing.T) {
	limiter, now := newTestLimiter(t, Limits{PerIPPerMinute: 1, PerIPPerHour: 100, GlobalPerMinute: 1000})
	ctx := context.Background()

	result, err := limiter.CheckAndRecord(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = limiter.CheckAndRecord(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	*now = now.Add(61 * time.Second)
	result, err = limiter.CheckAndRecord(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckDoesNotRecord(t *testing.T) {
	limiter, _ := newTestLimiter(t, Limits{PerIPPerMinute: 1, PerIPPerHour: 100, GlobalPerMinute: 1000})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
}

func TestCleanupDropsStaleEntries(t *testing.T) {
	limiter, now := newTestLimiter(t, Limits{PerIPPerMinute: 10, PerIPPerHour: 100, GlobalPerMinute: 1000})
	ctx := context.Background()

	_, err := limiter.CheckAndRecord(ctx, "1.2.3.4")
	require.NoError(t, err)

	stats, err := limiter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TrackedIPs)

	// Cleanup runs on the next check after the interval elapses
	*now = now.Add(2 * time.Hour)
	_, err = limiter.Check(ctx, "9.9.9.9")
	require.NoError(t, err)

	stats, err = limiter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TrackedIPs)
	assert.Equal(t, 0, stats.GlobalLastHour)
}
