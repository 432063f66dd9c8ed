// Package agent implements the cognitive execution unit: a three-phase loop
// (emerge, adapt, integrate) that may recursively spawn child agents, every
// resource-consuming step gated by the governor.
package agent

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kyra-ai/kyra/pkg/governor"
	"github.com/kyra-ai/kyra/pkg/resource"
	"github.com/kyra-ai/kyra/pkg/thread"
)

// Config holds agent construction parameters. Thread and Governor are
// required; a nil Provider restricts emergence to the local heuristic.
type Config struct {
	Thread   *thread.Thread
	Role     Role
	UserID   string
	RootID   string
	Governor *governor.Governor
	Provider Provider
	Logger   zerolog.Logger
	Clock    governor.Clock
	Rand     *rand.Rand
}

// Agent runs the cognitive loop for one thread. Identity and role are fixed
// at construction; cognitive state mutates every iteration.
type Agent struct {
	id     string
	role   Role
	userID string
	rootID string

	thread   *thread.Thread
	gov      *governor.Governor
	provider Provider
	clock    governor.Clock
	logger   zerolog.Logger

	// loopMu serializes loop iterations; mu guards the fields below and is
	// never held across provider or governor calls.
	loopMu sync.Mutex
	mu     sync.Mutex

	state        State
	active       bool
	halted       bool
	children     map[string]*Agent
	failures     []failureRecord
	adaptation   *adaptContext
	plan         *tacticalPlan
	lastResult   string
	startedAt    time.Time
	lastActivity time.Time
	rng          *rand.Rand
}

// New constructs an agent without registering it with the governor; the
// factory registers roots and Clone registers children, so registration
// always carries the right hierarchy metadata.
func New(cfg Config) (*Agent, error) {
	if cfg.Thread == nil {
		return nil, fmt.Errorf("thread is required")
	}
	if cfg.Governor == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if cfg.Role == "" {
		cfg.Role = RoleCore
	}
	if cfg.Clock == nil {
		cfg.Clock = governor.SystemClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(cfg.Clock.Now().UnixNano()))
	}

	id := uuid.New().String()
	rootID := cfg.RootID
	if rootID == "" {
		rootID = id
	}

	entry := PhaseEmerge
	if cfg.Thread.Profile.EntryPhase != "" {
		entry = Phase(cfg.Thread.Profile.EntryPhase)
	}

	now := cfg.Clock.Now()
	return &Agent{
		id:       id,
		role:     cfg.Role,
		userID:   cfg.UserID,
		rootID:   rootID,
		thread:   cfg.Thread,
		gov:      cfg.Governor,
		provider: cfg.Provider,
		clock:    cfg.Clock,
		logger: cfg.Logger.With().
			Str("component", "agent").
			Str("agent_id", id).
			Str("role", string(cfg.Role)).
			Logger(),
		state: State{
			Phase:      entry,
			Resonance:  0.5,
			Confidence: 0.5,
			Timestamp:  now,
		},
		active:       true,
		children:     make(map[string]*Agent),
		startedAt:    now,
		lastActivity: now,
		rng:          cfg.Rand,
	}, nil
}

// ID returns the agent's immutable identifier.
func (a *Agent) ID() string { return a.id }

// Role returns the agent's fixed role.
func (a *Agent) Role() Role { return a.role }

// Thread returns the agent's context thread.
func (a *Agent) Thread() *thread.Thread { return a.thread }

// Phase returns the current loop phase.
func (a *Agent) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Phase
}

// State returns a copy of the agent's cognitive state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Status returns a read-only snapshot for status polls.
func (a *Agent) Status() Status {
	usage, _ := a.gov.AgentUsage(a.id)

	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		ID:            a.id,
		Role:          a.role,
		Phase:         a.state.Phase,
		Active:        a.active,
		ChildCount:    len(a.children),
		ResourceUsage: usage,
		LastActivity:  a.lastActivity,
	}
}

// Children returns the ids of the agent's live children.
func (a *Agent) Children() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.children))
	for id := range a.children {
		ids = append(ids, id)
	}
	return ids
}

func (a *Agent) isActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// recordFailure appends to the failure history under the lock.
func (a *Agent) recordFailure(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, failureRecord{
		at:      a.clock.Now(),
		message: message,
		errType: classifyFailure(message),
	})
}

// recentFailures counts failures within the trailing window.
func (a *Agent) recentFailures(window time.Duration) []failureRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.clock.Now().Add(-window)
	recent := make([]failureRecord, 0, len(a.failures))
	for _, f := range a.failures {
		if !f.at.Before(cutoff) {
			recent = append(recent, f)
		}
	}
	return recent
}

func (a *Agent) usage() resource.Usage {
	u, _ := a.gov.AgentUsage(a.id)
	return u
}
