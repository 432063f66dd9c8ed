package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyra-ai/kyra/internal/observability"
	"github.com/kyra-ai/kyra/internal/tracing"
	"github.com/kyra-ai/kyra/pkg/governor"
	"github.com/kyra-ai/kyra/pkg/resource"
)

// Failure history older than this no longer influences severity grading.
const failureWindow = 10 * time.Minute

// Fraction of the execution-time budget after which adaptation halts the
// agent rather than letting it run the budget dry mid-attempt.
const timeBudgetHaltFraction = 0.8

// Input is one unit of work fed to the loop. A non-nil UserState additionally
// produces a relational delta on the response.
type Input struct {
	Text      string
	UserState *UserState
}

// ProcessInput runs one loop iteration and produces a response. Any loop
// failure surfaces to the caller after the phase has been forced to adapt;
// the caller decides whether to retry, escalate or terminate.
func (a *Agent) ProcessInput(ctx context.Context, input Input) (*Response, error) {
	a.loopMu.Lock()
	defer a.loopMu.Unlock()

	if !a.isActive() {
		return nil, ErrAgentInactive
	}

	ctx, span := tracing.StartSpan(ctx, "agent", "agent.process_input")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, a.logger)
	ctx = tracing.WithAgentID(ctx, a.id)

	started := a.clock.Now()
	defer func() {
		elapsed := a.clock.Now().Sub(started)
		a.gov.UpdateResourceUsage(a.id, resource.Usage{
			ComputeUnits:    1,
			ExecutionTimeMs: elapsed.Milliseconds(),
		})
		a.mu.Lock()
		a.lastActivity = a.clock.Now()
		a.state.Timestamp = a.lastActivity
		a.mu.Unlock()
	}()

	if err := a.step(ctx); err != nil {
		return nil, err
	}

	var delta *RelationalDelta
	if input.UserState != nil {
		d := ComputeRelationalDelta(a.State(), *input.UserState, a.clock.Now())
		delta = &d
	}

	logger.Debug().Str("phase", string(a.Phase())).Msg("Loop iteration complete")

	return &Response{
		AgentID: a.id,
		Text:    a.respond(input, delta),
		Phase:   a.Phase(),
		Delta:   delta,
	}, nil
}

// step dispatches one iteration of the loop. An error raised outside the
// adapt phase forces the phase to adapt before propagating, so the loop can
// never stall in an undefined state.
func (a *Agent) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	phase := a.Phase()
	var err error
	switch phase {
	case PhaseEmerge:
		err = a.emerge(ctx)
	case PhaseAdapt:
		err = a.adapt(ctx)
	case PhaseIntegrate:
		err = a.integrate()
	default:
		err = fmt.Errorf("unknown phase %q", phase)
	}

	observability.RecordLoopIteration(string(phase), err != nil)

	if err != nil && !errors.Is(err, ErrStrategicHalt) {
		a.mu.Lock()
		if a.state.Phase != PhaseAdapt {
			a.state.Phase = PhaseAdapt
		}
		a.mu.Unlock()
	}
	return err
}

// emerge attempts role-specific closure of the current tactical step.
// Success keeps the agent in emerge, ready for the next cycle; failure
// transitions to adapt and surfaces the reason.
func (a *Agent) emerge(ctx context.Context) error {
	success, result := a.attemptClosure(ctx)

	a.mu.Lock()
	if success {
		a.lastResult = result
		a.state.Confidence = clamp01(a.state.Confidence + 0.1)
		a.state.Resonance = clamp01(a.state.Resonance + 0.05)
		a.mu.Unlock()

		a.logger.Debug().Str("result", result).Msg("Emergence closure succeeded")
		return nil
	}
	a.state.Confidence = clamp01(a.state.Confidence - 0.15)
	a.state.Phase = PhaseAdapt
	a.mu.Unlock()

	a.recordFailure(result)
	a.gov.RecordError(a.id, result)
	a.logger.Warn().Str("reason", result).Msg("Emergence closure failed")
	return fmt.Errorf("%w: %s", ErrEmergenceFailure, result)
}

// attemptClosure runs the model-backed path for coordinators with a provider
// and the local probabilistic heuristic otherwise. Provider denials and call
// failures fall back to the heuristic rather than failing the step outright.
func (a *Agent) attemptClosure(ctx context.Context) (bool, string) {
	if a.role == RoleCoordinator && a.provider != nil {
		estimate := resource.Usage{Calls: 1, ComputeUnits: 2}
		decision := a.gov.RequestApproval(ctx, governor.Request{
			AgentID:   a.id,
			Operation: governor.OpLLMCall,
			Estimate:  estimate,
			Detail:    a.thread.TaskDefinition,
		})
		if decision.Approved {
			completion, err := a.provider.Complete(ctx, CompletionRequest{
				Model:       a.thread.Profile.LLMModel,
				System:      a.systemPrompt(),
				Prompt:      a.closurePrompt(),
				Temperature: 0.7,
				MaxTokens:   512,
			})
			if err == nil {
				a.gov.UpdateResourceUsage(a.id, estimate)
				return parseClosure(completion.Text)
			}
			a.logger.Warn().Err(err).Str("provider", a.provider.Name()).
				Msg("Provider call failed, falling back to local heuristic")
		} else {
			a.logger.Debug().Str("reason", decision.Reason).
				Msg("Model call not approved, falling back to local heuristic")
		}
	}

	if a.rng.Float64() < closureProbability(a.role) {
		return true, fmt.Sprintf("heuristic closure of %q", a.thread.TaskDefinition)
	}
	return false, fmt.Sprintf("closure attempt failed for %q", a.thread.TaskDefinition)
}

// adapt grades the accumulated failure history and makes the binary
// strategic decision: proceed to integration or halt and report failure.
// The halt conditions are checked in order; any match is terminal.
func (a *Agent) adapt(_ context.Context) error {
	recent := a.recentFailures(failureWindow)
	severity := gradeSeverity(len(recent))
	errType := dominantFailureType(recent)

	usage := a.usage()
	budget := a.thread.ResourceBudget

	haltReason := ""
	switch {
	case budget.Exhausted(usage):
		haltReason = "resource budget exhausted"
	case len(recent) >= 3 && severity == SeverityCritical:
		haltReason = fmt.Sprintf("%d recent failures at critical severity", len(recent))
	case a.thread.RecursionDepth >= a.maxRecursionDepth()-1:
		haltReason = fmt.Sprintf("recursion depth %d within one of maximum %d",
			a.thread.RecursionDepth, a.maxRecursionDepth())
	case a.timeBudgetSpent():
		haltReason = "execution time budget nearly exhausted"
	}

	if haltReason != "" {
		a.mu.Lock()
		a.halted = true
		a.active = false
		a.mu.Unlock()

		a.logger.Error().
			Str("severity", string(severity)).
			Str("reason", haltReason).
			Msg("Strategic halt")
		return fmt.Errorf("%w: %s", ErrStrategicHalt, haltReason)
	}

	a.mu.Lock()
	a.adaptation = &adaptContext{
		severity:  severity,
		errType:   errType,
		failures:  len(recent),
		decidedAt: a.clock.Now(),
	}
	a.state.Phase = PhaseIntegrate
	a.mu.Unlock()

	a.logger.Info().
		Str("severity", string(severity)).
		Str("error_type", errType).
		Int("failures", len(recent)).
		Msg("Adaptation decided to proceed")
	return nil
}

// integrate synthesizes the next tactical approach from the stored
// adaptation context. Resource-constrained failures bias toward a
// resource-optimized approach, logic failures toward an alternative one.
func (a *Agent) integrate() error {
	a.mu.Lock()
	adaptation := a.adaptation
	a.mu.Unlock()

	if adaptation == nil {
		return fmt.Errorf("%w: no adaptation context", ErrTacticalPlanInvalid)
	}

	var approach, rationale string
	switch adaptation.errType {
	case "resource":
		approach = "resource-optimized"
		rationale = "recent failures were resource-constrained"
	case "logic":
		approach = "alternative-logic"
		rationale = "recent failures indicate a flawed approach"
	default:
		approach = "conservative-retry"
		rationale = "no dominant failure pattern"
	}

	a.mu.Lock()
	a.plan = &tacticalPlan{
		approach:  approach,
		rationale: rationale,
		createdAt: a.clock.Now(),
	}
	a.adaptation = nil
	a.state.Phase = PhaseEmerge
	a.mu.Unlock()

	a.logger.Info().Str("approach", approach).Msg("Tactical plan synthesized")
	return nil
}

// respond renders a role- and strategy-flavored reply.
func (a *Agent) respond(input Input, delta *RelationalDelta) string {
	a.mu.Lock()
	result := a.lastResult
	a.mu.Unlock()

	if delta != nil {
		switch delta.Strategy {
		case StrategyListen:
			return fmt.Sprintf("[%s] acknowledging input: %s", a.role, input.Text)
		case StrategyMirror:
			return fmt.Sprintf("[%s] reflecting: %s", a.role, input.Text)
		}
	}
	if result != "" {
		return fmt.Sprintf("[%s] %s", a.role, result)
	}
	return fmt.Sprintf("[%s] working on %q", a.role, a.thread.TaskDefinition)
}

func (a *Agent) systemPrompt() string {
	return fmt.Sprintf(
		"You are a %s agent working toward: %s. Reply with SUCCESS: <result> if the step is complete, or FAILURE: <reason> if it is not.",
		a.role, a.thread.TopLevelGoal)
}

func (a *Agent) closurePrompt() string {
	a.mu.Lock()
	plan := a.plan
	a.mu.Unlock()

	if plan != nil {
		return fmt.Sprintf("Task: %s\nApproach: %s (%s)", a.thread.TaskDefinition, plan.approach, plan.rationale)
	}
	return fmt.Sprintf("Task: %s", a.thread.TaskDefinition)
}

func (a *Agent) maxRecursionDepth() int {
	if a.thread.Profile.MaxRecursionDepth > 0 {
		return a.thread.Profile.MaxRecursionDepth
	}
	return a.gov.Limits().MaxRecursionDepth
}

func (a *Agent) timeBudgetSpent() bool {
	budgetMs := a.thread.ResourceBudget.MaxExecutionTimeMs
	if budgetMs <= 0 {
		return false
	}
	elapsed := a.clock.Now().Sub(a.startedAt).Milliseconds()
	return float64(elapsed) > timeBudgetHaltFraction*float64(budgetMs)
}

// parseClosure interprets the provider's SUCCESS:/FAILURE: protocol.
// Unprefixed text is treated as a successful free-form result.
func parseClosure(text string) (bool, string) {
	trimmed := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(trimmed, "FAILURE:"); ok {
		return false, strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(trimmed, "SUCCESS:"); ok {
		return true, strings.TrimSpace(rest)
	}
	return true, trimmed
}

func closureProbability(role Role) float64 {
	switch role {
	case RoleCoordinator:
		return 0.75
	case RoleConscious:
		return 0.65
	default:
		return 0.85
	}
}

func gradeSeverity(failures int) Severity {
	switch {
	case failures >= 4:
		return SeverityCritical
	case failures >= 2:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// dominantFailureType returns the most frequent failure class, preferring the
// most recent on ties.
func dominantFailureType(failures []failureRecord) string {
	if len(failures) == 0 {
		return "none"
	}
	counts := map[string]int{}
	for _, f := range failures {
		counts[f.errType]++
	}
	best := failures[len(failures)-1].errType
	for i := len(failures) - 1; i >= 0; i-- {
		if counts[failures[i].errType] > counts[best] {
			best = failures[i].errType
		}
	}
	return best
}

// classifyFailure infers a coarse failure type from error text.
func classifyFailure(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "budget"), strings.Contains(lower, "resource"), strings.Contains(lower, "quota"):
		return "resource"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		return "timeout"
	case strings.Contains(lower, "api"), strings.Contains(lower, "provider"), strings.Contains(lower, "connection"), strings.Contains(lower, "external"):
		return "external"
	default:
		return "logic"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
