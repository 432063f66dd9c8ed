package governor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kyra-ai/kyra/internal/observability"
	"github.com/kyra-ai/kyra/internal/tracing"
	"github.com/kyra-ai/kyra/pkg/audit"
	"github.com/kyra-ai/kyra/pkg/resource"
)

// RequestApproval is the single admission gate for resource-consuming
// operations. The checks run in a fixed order so denials are deterministic:
// registry lookup, hierarchy pause, circuit breaker, tempo gate, then the
// operation-specific validation (budget projection for model calls and
// generic operations, plus user quotas for model calls; depth, cap and
// reservation ceiling for spawns).
func (g *Governor) RequestApproval(ctx context.Context, req Request) Decision {
	started := g.clock.Now()
	ctx, span := tracing.StartSpan(ctx, "governor", "governor.request_approval",
		attribute.String("agent_id", req.AgentID),
		attribute.String("operation", string(req.Operation)),
	)
	defer span.End()

	decision := g.evaluate(ctx, req)

	elapsed := g.clock.Now().Sub(started)
	observability.RecordApproval(string(req.Operation), decision.Approved, elapsed)
	if req.Operation == OpCloneAgent {
		observability.RecordClone(decision.Approved)
	}

	entry, known := g.entryFor(req.AgentID)
	userID := ""
	if known {
		userID = entry.userID
	}

	event := "approval_granted"
	if !decision.Approved {
		event = "approval_denied"
	}
	g.emit(audit.Record{
		AgentID: req.AgentID,
		UserID:  userID,
		Event:   event,
		Detail:  decision.Reason,
		Fields: map[string]interface{}{
			"operation": string(req.Operation),
			"estimate":  req.Estimate,
		},
	})

	logEvent := g.logger.Debug()
	if !decision.Approved {
		logEvent = g.logger.Warn()
	}
	logEvent.
		Str("agent_id", req.AgentID).
		Str("operation", string(req.Operation)).
		Bool("approved", decision.Approved).
		Str("reason", decision.Reason).
		Dur("elapsed", elapsed).
		Msg("Admission decision")

	return decision
}

func (g *Governor) evaluate(_ context.Context, req Request) Decision {
	now := g.clock.Now()

	entry, ok := g.entryFor(req.AgentID)
	if !ok {
		return deny(ErrUnknownAgent, fmt.Sprintf("agent %s is not registered", req.AgentID))
	}

	g.opsWindow.add(now, 1)

	if reason, paused := g.isPausedRoot(entry.rootID); paused {
		return deny(ErrHierarchyPaused, fmt.Sprintf("hierarchy %s paused: %s", entry.rootID, reason))
	}

	allowed, becameHalfOpen := g.breaker.allow()
	if becameHalfOpen {
		observability.SetBreakerState(int(BreakerHalfOpen))
		g.emit(audit.Record{Event: "breaker_half_open", Timestamp: now})
		g.logger.Info().Msg("Circuit breaker half-open, probing")
	}
	if !allowed {
		info := g.breaker.info()
		reason := "circuit breaker open"
		if info.NextRetryAt != nil {
			reason = fmt.Sprintf("circuit breaker open, retry after %s", info.NextRetryAt.Format(time.RFC3339))
		}
		return deny(ErrCircuitOpen, reason)
	}

	tempo := g.tempo.current()
	if tempo == TempoSleep && req.Operation != OpMemoryAccess {
		return deny(ErrTempoThrottled, "system tempo is sleep; only memory access is permitted")
	}

	var decision Decision
	switch req.Operation {
	case OpCloneAgent:
		// Clone estimates are the child's full derived budget and are never
		// tempo-scaled: the reservation must match exactly what
		// DeregisterAgent hands back when the child terminates.
		decision = g.checkAndReserveClone(req.AgentID, req.Estimate)
	case OpLLMCall:
		decision = g.evaluateLLMCall(entry, g.tempo.scaleEstimate(req.Operation, req.Estimate))
	case OpMemoryAccess, OpExternalAPI:
		decision = g.evaluateGeneric(entry, g.tempo.scaleEstimate(req.Operation, req.Estimate))
	default:
		return deny(ErrApprovalDenied, fmt.Sprintf("unknown operation %q", req.Operation))
	}
	if !decision.Approved {
		return decision
	}

	if recovered := g.breaker.recordSuccess(); recovered {
		observability.SetBreakerState(int(BreakerClosed))
		g.emit(audit.Record{Event: "breaker_closed", Timestamp: now})
		g.logger.Info().Msg("Circuit breaker closed after successful probes")
	}

	remaining := entry.budget.Remaining(entry.usage)
	decision.UpdatedBudget = &remaining
	return decision
}

// checkAndReserveClone enforces the structural limits on agent spawning:
// recursion depth, the system-wide live-agent cap, and the parent's budget
// headroom. Headroom counts prior reservations, and the check and the
// reservation commit happen in one critical section so concurrent spawns
// against the same parent are judged against each other's commitments.
func (g *Governor) checkAndReserveClone(agentID string, estimate resource.Usage) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.agents[agentID]
	if !ok {
		return deny(ErrUnknownAgent, fmt.Sprintf("agent %s is not registered", agentID))
	}

	limits := g.limits
	if entry.depth >= limits.MaxRecursionDepth {
		return deny(ErrRecursionLimit,
			fmt.Sprintf("recursion depth %d at limit %d", entry.depth, limits.MaxRecursionDepth))
	}
	if len(g.agents) >= limits.MaxSystemAgents {
		return deny(ErrSystemAgentCap,
			fmt.Sprintf("live agent count at system cap %d", limits.MaxSystemAgents))
	}

	projected := entry.usage.Add(entry.reserved).Add(estimate)
	if dim := entry.budget.AtOrAboveDimension(projected, limits.CloneBudgetThreshold); dim != "" {
		return deny(ErrBudgetInsufficient,
			fmt.Sprintf("clone would push %s to %.0f%% of budget", dim, limits.CloneBudgetThreshold*100))
	}

	entry.reserved = entry.reserved.Add(estimate)
	return approve("clone within depth, cap and budget limits")
}

// evaluateLLMCall denies once the projected usage would exceed the agent's
// full budget on any dimension. Model calls are also the only operation
// gated by the per-user quotas.
func (g *Governor) evaluateLLMCall(entry agentEntry, estimate resource.Usage) Decision {
	projected := entry.usage.Add(estimate)
	if dim := entry.budget.ExceededDimension(projected, 1.0); dim != "" {
		return deny(ErrBudgetInsufficient,
			fmt.Sprintf("llm call would exceed %s budget", dim))
	}

	if violations := g.CheckUserQuotas(entry.userID); len(violations) > 0 {
		for _, v := range violations {
			observability.RecordQuotaViolation(v.Limit)
		}
		d := deny(ErrQuotaViolation, fmt.Sprintf("user quota exceeded: %s", violations[0]))
		d.Violations = violations
		return d
	}

	return approve("llm call within budget and quotas")
}

func (g *Governor) evaluateGeneric(entry agentEntry, estimate resource.Usage) Decision {
	projected := entry.usage.Add(estimate)
	if dim := entry.budget.ExceededDimension(projected, 1.0); dim != "" {
		return deny(ErrBudgetInsufficient,
			fmt.Sprintf("operation would exceed %s budget", dim))
	}
	return approve("within budget")
}

func approve(reason string) Decision {
	return Decision{Approved: true, Reason: reason}
}

func deny(sentinel error, reason string) Decision {
	return Decision{Approved: false, Reason: reason, Denial: fmt.Errorf("%w: %s", sentinel, reason)}
}
