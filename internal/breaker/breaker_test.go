package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3, Cooldown: 50 * time.Millisecond})

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State(), "breaker should stay closed below threshold")

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State(), "breaker should trip on the Nth consecutive failure")
	assert.False(t, b.Allow(), "open breaker rejects immediately")
}

func TestBreaker_HalfOpenAdmitsOneProbe(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	assert.True(t, b.Allow(), "half_open admits exactly one probe")
	assert.False(t, b.Allow(), "a second concurrent request is rejected while the probe is in flight")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, Cooldown: 10 * time.Millisecond})
	require.True(t, b.Allow())
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, Cooldown: 10 * time.Millisecond})
	require.True(t, b.Allow())
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestManager_GetIsIdempotentPerName(t *testing.T) {
	m := NewManager(DefaultConfig(""))
	a := m.Get("bus-publish")
	b := m.Get("bus-publish")
	assert.Same(t, a, b)
}
