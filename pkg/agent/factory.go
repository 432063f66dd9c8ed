package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kyra-ai/kyra/pkg/governor"
	"github.com/kyra-ai/kyra/pkg/resource"
	"github.com/kyra-ai/kyra/pkg/thread"
)

// Factory creates and tracks top-level agents. Child agents are spawned via
// Clone and tracked by their parents, not the factory.
type Factory struct {
	gov      *governor.Governor
	provider Provider
	logger   zerolog.Logger
	clock    governor.Clock
	rng      *rand.Rand

	mu    sync.RWMutex
	roots map[string]*Agent
}

// FactoryConfig holds factory construction parameters.
type FactoryConfig struct {
	Governor *governor.Governor
	Provider Provider
	Logger   zerolog.Logger
	Clock    governor.Clock
	Rand     *rand.Rand
}

// NewFactory creates a factory. Governor is required.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.Governor == nil {
		return nil, fmt.Errorf("governor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = governor.SystemClock()
	}
	return &Factory{
		gov:      cfg.Governor,
		provider: cfg.Provider,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		rng:      cfg.Rand,
		roots:    make(map[string]*Agent),
	}, nil
}

// CreateParams describes a root agent to create.
type CreateParams struct {
	UserID         string
	Role           Role
	TopLevelGoal   string
	TaskDefinition string
	Profile        thread.Profile
	ResourceBudget resource.Budget
}

// Create builds a root agent with a fresh thread and registers it with the
// governor before returning it.
func (f *Factory) Create(_ context.Context, p CreateParams) (*Agent, error) {
	th, err := thread.New(thread.Params{
		TopLevelGoal:   p.TopLevelGoal,
		TaskDefinition: p.TaskDefinition,
		Profile:        p.Profile,
		ResourceBudget: p.ResourceBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}

	a, err := New(Config{
		Thread:   th,
		Role:     p.Role,
		UserID:   p.UserID,
		Governor: f.gov,
		Provider: f.provider,
		Logger:   f.logger,
		Clock:    f.clock,
		Rand:     f.rng,
	})
	if err != nil {
		return nil, err
	}

	if err := f.gov.RegisterAgent(governor.RegisterParams{
		AgentID: a.id,
		UserID:  p.UserID,
		Budget:  p.ResourceBudget,
	}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.roots[a.id] = a
	f.mu.Unlock()

	f.logger.Info().
		Str("agent_id", a.id).
		Str("user_id", p.UserID).
		Str("goal", p.TopLevelGoal).
		Msg("Root agent created")
	return a, nil
}

// Get returns a tracked root agent by id.
func (f *Factory) Get(id string) (*Agent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.roots[id]
	return a, ok
}

// List returns a status snapshot for every tracked root.
func (f *Factory) List() []Status {
	f.mu.RLock()
	agents := make([]*Agent, 0, len(f.roots))
	for _, a := range f.roots {
		agents = append(agents, a)
	}
	f.mu.RUnlock()

	statuses := make([]Status, 0, len(agents))
	for _, a := range agents {
		statuses = append(statuses, a.Status())
	}
	return statuses
}

// Remove untracks a root agent without terminating it.
func (f *Factory) Remove(id string) {
	f.mu.Lock()
	delete(f.roots, id)
	f.mu.Unlock()
}

// TerminateAll terminates every tracked root agent and clears the registry.
func (f *Factory) TerminateAll(ctx context.Context) {
	f.mu.Lock()
	agents := make([]*Agent, 0, len(f.roots))
	for _, a := range f.roots {
		agents = append(agents, a)
	}
	f.roots = make(map[string]*Agent)
	f.mu.Unlock()

	for _, a := range agents {
		a.Terminate(ctx)
	}
	f.logger.Info().Int("terminated", len(agents)).Msg("All root agents terminated")
}
