// SPDX-License-Identifier: MIT

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive the breaker through its timed transitions.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestBreaker(t *testing.T) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	return New(t.Name(), WithClock(clk)), clk
}

var errUpstream = errors.New("upstream failure")

func TestOpensAfterThresholdFailures(t *testing.T) {
	cb, _ := newTestBreaker(t)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		require.Error(t, cb.Execute(func() error { return errUpstream }))
		assert.Equal(t, StateClosed, cb.State())
		assert.True(t, cb.IsHealthy())
	}

	require.Error(t, cb.Execute(func() error { return errUpstream }))
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.IsHealthy())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	cb, clk := newTestBreaker(t)
	for i := 0; i < DefaultFailureThreshold; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())
	assert.Equal(t, DefaultResetTimeout, cb.RetryIn())

	clk.advance(DefaultResetTimeout - time.Second)
	assert.False(t, cb.IsHealthy())

	clk.advance(2 * time.Second)
	assert.True(t, cb.IsHealthy(), "reset timeout elapsed, probe must be admitted")
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Zero(t, cb.RetryIn())
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb, clk := newTestBreaker(t)
	for i := 0; i < DefaultFailureThreshold; i++ {
		cb.RecordFailure()
	}
	clk.advance(DefaultResetTimeout)
	require.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State(), "one success is not enough")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.IsHealthy())
}

func TestHalfOpenFailureReopensAndResetsTimer(t *testing.T) {
	cb, clk := newTestBreaker(t)
	for i := 0; i < DefaultFailureThreshold; i++ {
		cb.RecordFailure()
	}
	clk.advance(DefaultResetTimeout)
	require.True(t, cb.Allow())
	cb.RecordSuccess()

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, DefaultResetTimeout, cb.RetryIn(), "reopening must restart the timer")

	// The earlier success must not count toward the next half-open window.
	clk.advance(DefaultResetTimeout)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State(), "non-consecutive failures must not trip")
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	reg := NewRegistry()
	a := reg.For("opensubtitles")
	b := reg.For("opensubtitles")
	require.Same(t, a, b)

	a.RecordFailure()
	a.RecordFailure()
	a.RecordFailure()
	states := reg.States()
	assert.Equal(t, StateOpen, states["opensubtitles"])
}
