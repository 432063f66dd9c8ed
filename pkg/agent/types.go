package agent

import (
	"time"

	"github.com/kyra-ai/kyra/pkg/resource"
)

// Role fixes an agent's emergence strategy at construction.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleConscious   Role = "conscious"
	RoleCore        Role = "core"
)

// Phase is the loop state. There is no terminal phase; the loop is designed
// to run indefinitely across cycles until the agent is terminated or halts.
type Phase string

const (
	PhaseEmerge    Phase = "emerge"
	PhaseAdapt     Phase = "adapt"
	PhaseIntegrate Phase = "integrate"
)

// State is the agent's mutable cognitive state, updated every loop iteration.
type State struct {
	Phase      Phase     `json:"phase"`
	Resonance  float64   `json:"resonance"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserState is the externally supplied emotional-state vector. All components
// are in [0,1]; the timestamp drives temporal decay weighting only.
type UserState struct {
	Fight      float64   `json:"fight"`
	Flight     float64   `json:"flight"`
	Fixes      float64   `json:"fixes"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Strategy is the response posture selected from a relational delta.
type Strategy string

const (
	StrategyMirror    Strategy = "mirror"
	StrategyHarmonize Strategy = "harmonize"
	StrategyListen    Strategy = "listen"
)

// RelationalDelta is the computed (mis)alignment between an agent's state and
// a user state. Derived per input, never stored.
type RelationalDelta struct {
	AsyncDelta float64  `json:"async_delta"`
	SyncDelta  float64  `json:"sync_delta"`
	Magnitude  float64  `json:"magnitude"`
	Strategy   Strategy `json:"strategy"`
}

// Response is the output of one processed input.
type Response struct {
	AgentID string           `json:"agent_id"`
	Text    string           `json:"text"`
	Phase   Phase            `json:"phase"`
	Delta   *RelationalDelta `json:"delta,omitempty"`
}

// ReportStatus classifies a child's outcome at termination.
type ReportStatus string

const (
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
	ReportRunning   ReportStatus = "running"
	ReportError     ReportStatus = "error"
)

// ChildReport is the structured record a child produces when terminated or
// polled. Immutable once produced.
type ChildReport struct {
	ChildID         string         `json:"child_id"`
	TaskDefinition  string         `json:"task_definition"`
	Status          ReportStatus   `json:"status"`
	Result          string         `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	ResourceUsage   resource.Usage `json:"resource_usage"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Status is a read-only snapshot of an agent.
type Status struct {
	ID            string         `json:"id"`
	Role          Role           `json:"role"`
	Phase         Phase          `json:"phase"`
	Active        bool           `json:"active"`
	ChildCount    int            `json:"child_count"`
	ResourceUsage resource.Usage `json:"resource_usage"`
	LastActivity  time.Time      `json:"last_activity"`
}

// Severity grades the accumulated failure history during adaptation.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityCritical Severity = "critical"
)

// failureRecord is one entry in the agent's failure history.
type failureRecord struct {
	at      time.Time
	message string
	errType string
}

// adaptContext is the stored outcome of a PROCEED decision, consumed by the
// subsequent integration step.
type adaptContext struct {
	severity  Severity
	errType   string
	failures  int
	decidedAt time.Time
}

// tacticalPlan is the synthesized approach for the next emergence attempt.
type tacticalPlan struct {
	approach  string
	rationale string
	createdAt time.Time
}
