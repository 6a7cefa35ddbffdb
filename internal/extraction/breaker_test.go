package extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown, maxCooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		MaxCooldown:      maxCooldown,
	})
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 10*time.Minute)

	assert.NoError(t, b.Allow())
	assert.False(t, b.RecordFailure())
	assert.False(t, b.RecordFailure())
	assert.True(t, b.RecordFailure())

	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrProviderDegraded)
	assert.Equal(t, 1, b.TripCount())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 10*time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerAdmitsSingleTrialAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute, 10*time.Minute)

	require.True(t, b.RecordFailure())
	assert.ErrorIs(t, b.Allow(), ErrProviderDegraded)

	*now = now.Add(61 * time.Second)

	assert.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	// A second caller must wait for the trial outcome
	assert.ErrorIs(t, b.Allow(), ErrProviderDegraded)
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute, 10*time.Minute)

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerTrialFailureDoublesCooldown(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute, 10*time.Minute)

	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	require.True(t, b.RecordFailure())

	// One base cooldown is no longer enough after the failed trial
	*now = now.Add(time.Minute + time.Second)
	assert.ErrorIs(t, b.Allow(), ErrProviderDegraded)

	*now = now.Add(time.Minute)
	assert.NoError(t, b.Allow())
}

func TestBreakerCooldownGrowthIsCapped(t *testing.T) {
	b, now := newTestBreaker(1, 4*time.Minute, 10*time.Minute)

	b.RecordFailure()
	for i := 0; i < 5; i++ {
		*now = now.Add(11 * time.Minute)
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}

	// Cooldown is capped, so the max window always readmits a trial
	*now = now.Add(10*time.Minute + time.Second)
	assert.NoError(t, b.Allow())
}
