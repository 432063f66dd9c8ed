package agent

import (
	"context"

	"github.com/kyra-ai/kyra/internal/tracing"
	"github.com/kyra-ai/kyra/pkg/governor"
	"github.com/kyra-ai/kyra/pkg/thread"
)

// Clone spawns a child agent for a delegated task. The child receives its own
// derived thread one recursion level down, with a budget carved from the
// parent's remaining headroom unless the profile carries an override. The
// estimated cost submitted for approval is the child's full budget, which the
// governor reserves against the parent's on approval. Spawning is an
// all-or-nothing gate: a denial records the failure against this agent and
// returns the denial, never a partial child.
func (a *Agent) Clone(ctx context.Context, profile thread.Profile, taskDefinition string) (*Agent, error) {
	if !a.isActive() {
		return nil, ErrAgentInactive
	}

	childThread, err := a.thread.Derive(a.id, taskDefinition, profile, a.usage(), a.gov.Limits().ChildBudgetShare)
	if err != nil {
		return nil, err
	}

	decision := a.gov.RequestApproval(ctx, governor.Request{
		AgentID:   a.id,
		Operation: governor.OpCloneAgent,
		Estimate:  childThread.ResourceBudget.AsUsage(),
		Detail:    taskDefinition,
	})
	if !decision.Approved {
		a.recordFailure(decision.Reason)
		a.logger.Warn().
			Str("task", taskDefinition).
			Str("reason", decision.Reason).
			Msg("Clone denied")
		return nil, decision.Denial
	}

	child, err := New(Config{
		Thread:   childThread,
		Role:     a.role,
		UserID:   a.userID,
		RootID:   a.rootID,
		Governor: a.gov,
		Provider: a.provider,
		Logger:   a.logger,
		Clock:    a.clock,
		Rand:     a.rng,
	})
	if err != nil {
		return nil, err
	}

	// Same trace as the parent, fresh run ID for the child's own work.
	childCtx := tracing.PropagateToSubAgent(ctx, child.id)
	child.logger = child.logger.With().
		Str("trace_id", tracing.GetTraceID(childCtx)).
		Str("run_id", tracing.GetRunID(childCtx)).
		Logger()

	if err := a.gov.RegisterAgent(governor.RegisterParams{
		AgentID:  child.id,
		UserID:   a.userID,
		RootID:   a.rootID,
		ParentID: a.id,
		Budget:   childThread.ResourceBudget,
		Depth:    childThread.RecursionDepth,
	}); err != nil {
		// The child never materialized; hand its reserved share back.
		a.gov.ReleaseReservation(a.id, childThread.ResourceBudget.AsUsage())
		return nil, err
	}

	// The child must be visible in the child map before Clone returns.
	a.mu.Lock()
	a.children[child.id] = child
	a.mu.Unlock()

	a.logger.Info().
		Str("child_id", child.id).
		Str("task", taskDefinition).
		Int("depth", childThread.RecursionDepth).
		Msg("Child agent spawned")
	return child, nil
}
