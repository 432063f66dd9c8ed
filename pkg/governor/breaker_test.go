package governor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerTripTransitionsOnce(t *testing.T) {
	clk := newFakeClock()
	b := newBreaker(30*time.Second, 3, clk)

	assert.Equal(t, BreakerClosed, b.currentState())
	assert.True(t, b.trip(0.8, 0), "first trip performs the transition")
	assert.False(t, b.trip(0.9, 0), "second trip is a no-op")
	assert.Equal(t, BreakerOpen, b.currentState())
}

func TestBreakerCooldownElapsesToHalfOpen(t *testing.T) {
	clk := newFakeClock()
	b := newBreaker(30*time.Second, 3, clk)
	b.trip(1.0, 0)

	ok, half := b.allow()
	assert.False(t, ok)
	assert.False(t, half)

	clk.Advance(29 * time.Second)
	ok, _ = b.allow()
	assert.False(t, ok, "still within cooldown")

	clk.Advance(time.Second)
	ok, half = b.allow()
	assert.True(t, ok)
	assert.True(t, half, "the call after the cooldown performs the transition")

	ok, half = b.allow()
	assert.True(t, ok)
	assert.False(t, half, "transition fires only once")
	assert.Equal(t, BreakerHalfOpen, b.currentState())
}

func TestBreakerRecoveryRequiresConsecutiveSuccesses(t *testing.T) {
	clk := newFakeClock()
	b := newBreaker(30*time.Second, 3, clk)
	b.trip(1.0, 0)
	clk.Advance(30 * time.Second)
	_, _ = b.allow()

	assert.False(t, b.recordSuccess())
	assert.False(t, b.recordSuccess())
	assert.True(t, b.recordSuccess(), "third success closes the breaker")
	assert.Equal(t, BreakerClosed, b.currentState())
	assert.False(t, b.recordSuccess(), "successes while closed are ignored")
}

func TestBreakerFailureWhileHalfOpenReopens(t *testing.T) {
	clk := newFakeClock()
	b := newBreaker(30*time.Second, 3, clk)

	assert.False(t, b.recordFailure(), "failures while closed do not reopen")

	b.trip(1.0, 0)
	clk.Advance(30 * time.Second)
	_, _ = b.allow()
	b.recordSuccess()

	require.True(t, b.recordFailure())
	assert.Equal(t, BreakerOpen, b.currentState())

	// The reopen resets the cooldown from the failure instant.
	clk.Advance(29 * time.Second)
	ok, _ := b.allow()
	assert.False(t, ok)
	clk.Advance(time.Second)
	ok, _ = b.allow()
	assert.True(t, ok)
}

func TestBreakerInfoReportsRetryTime(t *testing.T) {
	clk := newFakeClock()
	b := newBreaker(30*time.Second, 3, clk)

	info := b.info()
	assert.Equal(t, "closed", info.Status)
	assert.Nil(t, info.NextRetryAt)
	assert.Nil(t, info.LastTriggered)

	opened := clk.Now()
	b.trip(0.75, 1.2)
	info = b.info()
	assert.Equal(t, "open", info.Status)
	assert.InDelta(t, 0.75, info.ErrorRate, 1e-9)
	require.NotNil(t, info.NextRetryAt)
	assert.Equal(t, opened.Add(30*time.Second), *info.NextRetryAt)
	require.NotNil(t, info.LastTriggered)
	assert.Equal(t, opened, *info.LastTriggered)

	// Status polls observe the half-open transition without a request.
	clk.Advance(31 * time.Second)
	info = b.info()
	assert.Equal(t, "half-open", info.Status)
	assert.Nil(t, info.NextRetryAt)
}
