package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyra-ai/kyra/pkg/governor"
	"github.com/kyra-ai/kyra/pkg/resource"
	"github.com/kyra-ai/kyra/pkg/thread"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubProvider replays scripted replies, repeating the last one.
type stubProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, _ CompletionRequest) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.calls++
	return &Completion{Text: s.replies[idx], Usage: TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil
}

type testRig struct {
	gov   *governor.Governor
	clock *stubClock
	agent *Agent
}

func newTestRig(t *testing.T, provider Provider, budget resource.Budget, profile thread.Profile) *testRig {
	t.Helper()

	clk := newStubClock()
	gov := governor.New(governor.Config{Clock: clk, Logger: zerolog.Nop()})

	th, err := thread.New(thread.Params{
		TopLevelGoal:   "stabilize the workload",
		TaskDefinition: "triage incoming tasks",
		Profile:        profile,
		ResourceBudget: budget,
	})
	require.NoError(t, err)

	a, err := New(Config{
		Thread:   th,
		Role:     RoleCoordinator,
		UserID:   "u-1",
		Governor: gov,
		Provider: provider,
		Logger:   zerolog.Nop(),
		Clock:    clk,
		Rand:     rand.New(rand.NewSource(42)),
	})
	require.NoError(t, err)

	require.NoError(t, gov.RegisterAgent(governor.RegisterParams{
		AgentID: a.ID(),
		UserID:  "u-1",
		Budget:  budget,
	}))

	return &testRig{gov: gov, clock: clk, agent: a}
}

func ampleBudget() resource.Budget {
	return resource.Budget{MaxCalls: 1000, MaxComputeUnits: 100000, MaxStorageBytes: 1 << 30, MaxExecutionTimeMs: 0}
}

func TestNewAgentDefaults(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{LLMModel: "test-model"})

	assert.Equal(t, PhaseEmerge, rig.agent.Phase())
	assert.Equal(t, RoleCoordinator, rig.agent.Role())
	assert.True(t, rig.agent.Status().Active)
	assert.Empty(t, rig.agent.Children())
}

func TestEntryPhaseFromProfile(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{EntryPhase: string(PhaseAdapt)})
	assert.Equal(t, PhaseAdapt, rig.agent.Phase())
}

func TestEmergenceFailureForcesAdapt(t *testing.T) {
	provider := &stubProvider{replies: []string{"FAILURE: wrong approach"}}
	rig := newTestRig(t, provider, ampleBudget(), thread.Profile{LLMModel: "test-model"})

	_, err := rig.agent.ProcessInput(context.Background(), Input{Text: "go"})
	require.ErrorIs(t, err, ErrEmergenceFailure)
	assert.Equal(t, PhaseAdapt, rig.agent.Phase())
	assert.True(t, rig.agent.Status().Active, "a single failure is not terminal")
}

func TestLoopCyclesBackToEmerge(t *testing.T) {
	provider := &stubProvider{replies: []string{"FAILURE: wrong approach", "SUCCESS: done"}}
	rig := newTestRig(t, provider, ampleBudget(), thread.Profile{LLMModel: "test-model"})
	ctx := context.Background()

	_, err := rig.agent.ProcessInput(ctx, Input{Text: "go"})
	require.ErrorIs(t, err, ErrEmergenceFailure)

	// Adaptation proceeds (ample budget, one minor failure) into integration.
	resp, err := rig.agent.ProcessInput(ctx, Input{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, PhaseIntegrate, resp.Phase)

	// Integration synthesizes a plan and returns to emerge. The failure text
	// classified as a logic fault selects the alternative approach.
	resp, err = rig.agent.ProcessInput(ctx, Input{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, PhaseEmerge, resp.Phase)

	rig.agent.mu.Lock()
	plan := rig.agent.plan
	rig.agent.mu.Unlock()
	require.NotNil(t, plan)
	assert.Equal(t, "alternative-logic", plan.approach)

	// The next emergence attempt succeeds and stays in emerge.
	resp, err = rig.agent.ProcessInput(ctx, Input{Text: "go"})
	require.NoError(t, err)
	assert.Equal(t, PhaseEmerge, resp.Phase)
	assert.Contains(t, resp.Text, "done")
}

func TestAdaptHaltsOnExhaustedBudget(t *testing.T) {
	rig := newTestRig(t, nil, resource.Budget{MaxComputeUnits: 2}, thread.Profile{})

	rig.gov.UpdateResourceUsage(rig.agent.ID(), resource.Usage{ComputeUnits: 2})
	rig.agent.mu.Lock()
	rig.agent.state.Phase = PhaseAdapt
	rig.agent.mu.Unlock()

	err := rig.agent.adapt(context.Background())
	require.ErrorIs(t, err, ErrStrategicHalt)
	assert.Contains(t, err.Error(), "budget")
	assert.False(t, rig.agent.Status().Active)

	_, err = rig.agent.ProcessInput(context.Background(), Input{Text: "go"})
	assert.ErrorIs(t, err, ErrAgentInactive)
}

func TestAdaptHaltsOnCriticalFailures(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{})

	for i := 0; i < 4; i++ {
		rig.agent.recordFailure(fmt.Sprintf("flawed assumption %d", i))
	}
	rig.agent.mu.Lock()
	rig.agent.state.Phase = PhaseAdapt
	rig.agent.mu.Unlock()

	err := rig.agent.adapt(context.Background())
	require.ErrorIs(t, err, ErrStrategicHalt)
	assert.Contains(t, err.Error(), "critical")
}

func TestAdaptProceedsBelowCriticalThreshold(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{})

	rig.agent.recordFailure("flawed assumption")
	rig.agent.recordFailure("another flaw")
	rig.agent.mu.Lock()
	rig.agent.state.Phase = PhaseAdapt
	rig.agent.mu.Unlock()

	require.NoError(t, rig.agent.adapt(context.Background()))
	assert.Equal(t, PhaseIntegrate, rig.agent.Phase())
}

func TestAdaptHaltsNearRecursionLimit(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{MaxRecursionDepth: 5})
	rig.agent.thread.RecursionDepth = 4
	rig.agent.mu.Lock()
	rig.agent.state.Phase = PhaseAdapt
	rig.agent.mu.Unlock()

	err := rig.agent.adapt(context.Background())
	require.ErrorIs(t, err, ErrStrategicHalt)
	assert.Contains(t, err.Error(), "recursion")
}

func TestAdaptHaltsOnTimeBudget(t *testing.T) {
	budget := ampleBudget()
	budget.MaxExecutionTimeMs = 1000
	rig := newTestRig(t, nil, budget, thread.Profile{})

	rig.clock.Advance(900 * time.Millisecond)
	rig.agent.mu.Lock()
	rig.agent.state.Phase = PhaseAdapt
	rig.agent.mu.Unlock()

	err := rig.agent.adapt(context.Background())
	require.ErrorIs(t, err, ErrStrategicHalt)
	assert.Contains(t, err.Error(), "time")
}

func TestIntegrateWithoutContextFails(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{EntryPhase: string(PhaseIntegrate)})

	_, err := rig.agent.ProcessInput(context.Background(), Input{Text: "go"})
	require.ErrorIs(t, err, ErrTacticalPlanInvalid)
	assert.Equal(t, PhaseAdapt, rig.agent.Phase(), "errors outside adapt force the phase to adapt")
}

func TestProviderErrorFallsBackToHeuristic(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("connection reset")}
	rig := newTestRig(t, provider, ampleBudget(), thread.Profile{LLMModel: "test-model"})

	// The heuristic path decides the outcome; whatever it is, the loop stays
	// within its three phases and the agent survives.
	_, err := rig.agent.ProcessInput(context.Background(), Input{Text: "go"})
	if err != nil {
		require.ErrorIs(t, err, ErrEmergenceFailure)
		assert.Equal(t, PhaseAdapt, rig.agent.Phase())
	} else {
		assert.Equal(t, PhaseEmerge, rig.agent.Phase())
	}
	assert.True(t, rig.agent.Status().Active)
}

func TestProcessInputComputesDelta(t *testing.T) {
	provider := &stubProvider{replies: []string{"SUCCESS: done"}}
	rig := newTestRig(t, provider, ampleBudget(), thread.Profile{LLMModel: "test-model"})

	resp, err := rig.agent.ProcessInput(context.Background(), Input{
		Text:      "how is it going",
		UserState: &UserState{Fight: 0.9, Timestamp: rig.clock.Now()},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Delta)
	assert.Equal(t, StrategyListen, resp.Delta.Strategy)
}

func TestProcessInputAccumulatesUsage(t *testing.T) {
	provider := &stubProvider{replies: []string{"SUCCESS: done"}}
	rig := newTestRig(t, provider, ampleBudget(), thread.Profile{LLMModel: "test-model"})

	_, err := rig.agent.ProcessInput(context.Background(), Input{Text: "go"})
	require.NoError(t, err)

	usage, ok := rig.gov.AgentUsage(rig.agent.ID())
	require.True(t, ok)
	assert.Equal(t, int64(1), usage.Calls, "one model call")
	assert.GreaterOrEqual(t, usage.ComputeUnits, int64(3), "model call plus iteration bookkeeping")
}

func TestCloneBuildsChildHierarchy(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{})

	child, err := rig.agent.Clone(context.Background(), thread.Profile{}, "analyze subtask")
	require.NoError(t, err)

	assert.Equal(t, rig.agent.ID(), child.thread.ParentAgentID)
	assert.Equal(t, 1, child.thread.RecursionDepth)
	assert.Equal(t, rig.agent.thread.TopLevelGoal, child.thread.TopLevelGoal)
	assert.Contains(t, rig.agent.Children(), child.ID())
	assert.Equal(t, 2, rig.gov.LiveAgentCount())

	// Child budget is the 30% share of the parent's remaining headroom.
	expected := rig.agent.thread.ResourceBudget.DeriveChild(resource.Usage{}, 0.3)
	assert.Equal(t, expected, child.thread.ResourceBudget)
}

func TestThreeSuccessiveClonesExhaustHeadroom(t *testing.T) {
	budget := resource.Budget{MaxCalls: 10, MaxComputeUnits: 100, MaxStorageBytes: 1024, MaxExecutionTimeMs: 30000}
	rig := newTestRig(t, nil, budget, thread.Profile{})
	ctx := context.Background()

	_, err := rig.agent.Clone(ctx, thread.Profile{}, "first delegation")
	require.NoError(t, err)
	_, err = rig.agent.Clone(ctx, thread.Profile{}, "second delegation")
	require.NoError(t, err)

	_, err = rig.agent.Clone(ctx, thread.Profile{}, "third delegation")
	require.Error(t, err)
	assert.ErrorIs(t, err, governor.ErrBudgetInsufficient)
	assert.Len(t, rig.agent.Children(), 2, "the denied clone is never constructed")
}

func TestCloneDenialRecordsFailure(t *testing.T) {
	clk := newStubClock()
	gov := governor.New(governor.Config{Clock: clk, Logger: zerolog.Nop()})

	th, err := thread.New(thread.Params{
		TopLevelGoal:   "goal",
		TaskDefinition: "task",
		ResourceBudget: ampleBudget(),
	})
	require.NoError(t, err)

	a, err := New(Config{Thread: th, Role: RoleCore, UserID: "u-1", Governor: gov, Logger: zerolog.Nop(), Clock: clk})
	require.NoError(t, err)

	// Registered at the depth limit: every clone request is refused.
	require.NoError(t, gov.RegisterAgent(governor.RegisterParams{
		AgentID: a.ID(), UserID: "u-1", Budget: ampleBudget(), Depth: 5,
	}))

	_, err = a.Clone(context.Background(), thread.Profile{}, "too deep")
	require.ErrorIs(t, err, governor.ErrRecursionLimit)
	assert.Len(t, a.recentFailures(time.Hour), 1)
	assert.Empty(t, a.Children())
}

func TestTerminateCollectsChildReports(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{})
	ctx := context.Background()

	c1, err := rig.agent.Clone(ctx, thread.Profile{}, "first")
	require.NoError(t, err)
	_, err = c1.Clone(ctx, thread.Profile{}, "nested")
	require.NoError(t, err)
	_, err = rig.agent.Clone(ctx, thread.Profile{}, "second")
	require.NoError(t, err)
	require.Equal(t, 4, rig.gov.LiveAgentCount())

	reports := rig.agent.Terminate(ctx)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, ReportCompleted, r.Status)
		assert.NotEmpty(t, r.TaskDefinition)
	}

	assert.Equal(t, 0, rig.gov.LiveAgentCount(), "the whole subtree deregisters")
	assert.False(t, rig.agent.Status().Active)
	assert.Empty(t, rig.agent.Children())
}

func TestTerminateReportsHaltedChildAsFailed(t *testing.T) {
	rig := newTestRig(t, nil, ampleBudget(), thread.Profile{})
	ctx := context.Background()

	child, err := rig.agent.Clone(ctx, thread.Profile{}, "doomed task")
	require.NoError(t, err)

	child.recordFailure("unrecoverable fault")
	child.mu.Lock()
	child.halted = true
	child.active = false
	child.mu.Unlock()

	reports := rig.agent.Terminate(ctx)
	require.Len(t, reports, 1)
	assert.Equal(t, ReportFailed, reports[0].Status)
	assert.Equal(t, "unrecoverable fault", reports[0].Error)
}

func TestFactoryLifecycle(t *testing.T) {
	clk := newStubClock()
	gov := governor.New(governor.Config{Clock: clk, Logger: zerolog.Nop()})
	factory, err := NewFactory(FactoryConfig{Governor: gov, Logger: zerolog.Nop(), Clock: clk})
	require.NoError(t, err)
	ctx := context.Background()

	a1, err := factory.Create(ctx, CreateParams{
		UserID:         "u-1",
		Role:           RoleCoordinator,
		TopLevelGoal:   "goal one",
		TaskDefinition: "task one",
		ResourceBudget: ampleBudget(),
	})
	require.NoError(t, err)
	_, err = factory.Create(ctx, CreateParams{
		UserID:         "u-2",
		Role:           RoleCore,
		TopLevelGoal:   "goal two",
		TaskDefinition: "task two",
		ResourceBudget: ampleBudget(),
	})
	require.NoError(t, err)

	assert.Len(t, factory.List(), 2)
	got, ok := factory.Get(a1.ID())
	require.True(t, ok)
	assert.Equal(t, a1.ID(), got.ID())
	assert.Equal(t, 2, gov.LiveAgentCount())

	factory.TerminateAll(ctx)
	assert.Empty(t, factory.List())
	assert.Equal(t, 0, gov.LiveAgentCount())
}

func TestFactoryRejectsInvalidParams(t *testing.T) {
	clk := newStubClock()
	gov := governor.New(governor.Config{Clock: clk, Logger: zerolog.Nop()})
	factory, err := NewFactory(FactoryConfig{Governor: gov, Logger: zerolog.Nop(), Clock: clk})
	require.NoError(t, err)

	_, err = factory.Create(context.Background(), CreateParams{
		UserID: "u-1", TaskDefinition: "task", ResourceBudget: ampleBudget(),
	})
	assert.ErrorContains(t, err, "goal")
}

func TestParseClosure(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		success bool
		result  string
	}{
		{"success prefix", "SUCCESS: step complete", true, "step complete"},
		{"failure prefix", "FAILURE: missing context", false, "missing context"},
		{"unprefixed treated as success", "plain result", true, "plain result"},
		{"whitespace trimmed", "  SUCCESS:  done \n", true, "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, result := parseClosure(tt.text)
			assert.Equal(t, tt.success, ok)
			assert.Equal(t, tt.result, result)
		})
	}
}
