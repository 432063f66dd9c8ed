package governor

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's tri-state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerInfo is a point-in-time view of breaker state.
type BreakerInfo struct {
	Status        string     `json:"status"`
	ErrorRate     float64    `json:"error_rate"`
	CostSpike     float64    `json:"cost_spike"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

// breaker is the process-wide fault detector. A single mutex guards every
// transition so concurrent trip attempts are linearizable: exactly one caller
// observes the closed->open edge and fires side effects.
//
// The open->half-open transition is evaluated lazily against the injected
// clock instead of a fire-and-forget timer, so tests advance virtual time.
// Recovery from half-open requires recoveryTarget consecutive successes; any
// failure while half-open reopens immediately.
type breaker struct {
	mu             sync.Mutex
	state          BreakerState
	errorRate      float64
	costSpike      float64
	lastTriggered  time.Time
	openedAt       time.Time
	cooldown       time.Duration
	recoveryTarget int
	successes      int
	clock          Clock
}

func newBreaker(cooldown time.Duration, recoveryTarget int, clock Clock) *breaker {
	if recoveryTarget <= 0 {
		recoveryTarget = 1
	}
	return &breaker{
		state:          BreakerClosed,
		cooldown:       cooldown,
		recoveryTarget: recoveryTarget,
		clock:          clock,
	}
}

// trip opens the breaker. Returns true only for the caller that performed the
// closed/half-open -> open transition, so pause side effects fire once.
func (b *breaker) trip(errorRate, costSpike float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errorRate = errorRate
	b.costSpike = costSpike

	if b.state == BreakerOpen {
		return false
	}

	now := b.clock.Now()
	b.state = BreakerOpen
	b.lastTriggered = now
	b.openedAt = now
	b.successes = 0
	return true
}

// allow reports whether a request may proceed, applying the lazy
// open -> half-open transition when the cooldown has elapsed. The second
// return value is true on the call that performed that transition.
func (b *breaker) allow() (ok bool, becameHalfOpen bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true, false
	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.successes = 0
			return true, true
		}
		return false, false
	}
	return true, false
}

// recordSuccess counts an approved operation toward half-open recovery.
// Returns true on the transition back to closed.
func (b *breaker) recordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerHalfOpen {
		return false
	}
	b.successes++
	if b.successes >= b.recoveryTarget {
		b.state = BreakerClosed
		b.successes = 0
		b.errorRate = 0
		b.costSpike = 0
		return true
	}
	return false
}

// recordFailure reopens a half-open breaker. Returns true if it reopened.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerHalfOpen {
		return false
	}
	now := b.clock.Now()
	b.state = BreakerOpen
	b.lastTriggered = now
	b.openedAt = now
	b.successes = 0
	return true
}

func (b *breaker) setCooldown(d time.Duration, recoveryTarget int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldown = d
	if recoveryTarget > 0 {
		b.recoveryTarget = recoveryTarget
	}
}

func (b *breaker) info() BreakerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Report half-open once the cooldown has elapsed even if no request has
	// touched allow() yet; status polls must see the transition too.
	state := b.state
	if state == BreakerOpen && b.clock.Now().Sub(b.openedAt) >= b.cooldown {
		state = BreakerHalfOpen
		b.state = BreakerHalfOpen
		b.successes = 0
	}

	inf := BreakerInfo{
		Status:    state.String(),
		ErrorRate: b.errorRate,
		CostSpike: b.costSpike,
	}
	if !b.lastTriggered.IsZero() {
		t := b.lastTriggered
		inf.LastTriggered = &t
	}
	if state == BreakerOpen {
		retry := b.openedAt.Add(b.cooldown)
		inf.NextRetryAt = &retry
	}
	return inf
}

func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
