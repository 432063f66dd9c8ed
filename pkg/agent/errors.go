package agent

import "errors"

var (
	// ErrEmergenceFailure marks a failed closure attempt. The loop forces the
	// adaptation phase before surfacing it.
	ErrEmergenceFailure = errors.New("emergence closure failed")

	// ErrStrategicHalt is terminal for the agent: the adaptation phase has
	// decided to stop. Callers must not resume the loop afterward.
	ErrStrategicHalt = errors.New("strategic halt")

	// ErrTacticalPlanInvalid marks a failed plan synthesis during integration.
	ErrTacticalPlanInvalid = errors.New("tactical plan synthesis failed")

	// ErrAgentInactive is returned for operations on a terminated or halted
	// agent.
	ErrAgentInactive = errors.New("agent is not active")
)
