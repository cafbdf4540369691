package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRejectsSubSecondInterval(t *testing.T) {
	s := New()
	err := s.Start(func() {}, 500*time.Millisecond)
	require.ErrorIs(t, err, ErrInvalidInterval)
	assert.False(t, s.Running())
}

func TestStartRejectsNilFunc(t *testing.T) {
	s := New()
	require.Error(t, s.Start(nil, time.Second))
	assert.False(t, s.Running())
}

func TestStartRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	s := New()
	require.NoError(t, s.Start(func() { calls.Add(1) }, time.Hour))
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, s.Running())
	assert.Equal(t, time.Hour, s.Interval())
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.NextRun(), 2*time.Second)
}

func TestRestartReplacesTimer(t *testing.T) {
	var calls atomic.Int32
	fn := func() { calls.Add(1) }

	s := New()
	require.NoError(t, s.Start(fn, 10*time.Second))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Start(fn, time.Second))
	defer s.Stop()

	assert.Equal(t, 1, s.entryCount())
	assert.Equal(t, time.Second, s.Interval())

	// Two immediate runs plus at least one tick of the new one-second timer.
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 3*time.Second, 50*time.Millisecond)
}

func TestStopHaltsTicks(t *testing.T) {
	var calls atomic.Int32
	s := New()
	require.NoError(t, s.Start(func() { calls.Add(1) }, time.Second))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	assert.Zero(t, s.Interval())
	assert.True(t, s.NextRun().IsZero())

	after := calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	// Stop is idempotent.
	s.Stop()
}

func maxConcurrency(t *testing.T, s *Scheduler, hold time.Duration, window time.Duration) int32 {
	t.Helper()
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
	)
	fn := func() {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(hold)
		inFlight.Add(-1)
	}

	require.NoError(t, s.Start(fn, time.Second))
	time.Sleep(window)
	s.Stop()
	return peak.Load()
}

func TestTicksOverlapByDefault(t *testing.T) {
	peak := maxConcurrency(t, New(), 2500*time.Millisecond, 2200*time.Millisecond)
	assert.GreaterOrEqual(t, peak, int32(2))
}

func TestSkipOverlapKeepsOneInFlight(t *testing.T) {
	peak := maxConcurrency(t, New(WithSkipOverlap(true)), 2500*time.Millisecond, 2200*time.Millisecond)
	assert.Equal(t, int32(1), peak)
}

func TestSetSkipOverlapAppliesOnNextStart(t *testing.T) {
	s := New()
	assert.False(t, s.SkipOverlap())

	s.SetSkipOverlap(true)
	assert.True(t, s.SkipOverlap())
	peak := maxConcurrency(t, s, 2500*time.Millisecond, 2200*time.Millisecond)
	assert.Equal(t, int32(1), peak)
}

func TestPanickingTickIsRecovered(t *testing.T) {
	var calls atomic.Int32
	s := New()
	require.NoError(t, s.Start(func() {
		calls.Add(1)
		panic("boom")
	}, time.Hour))
	defer s.Stop()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, s.Running())
}
