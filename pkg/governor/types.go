package governor

import (
	"time"

	"github.com/kyra-ai/kyra/pkg/resource"
)

// Operation identifies a resource-consuming operation gated by the governor.
type Operation string

const (
	OpCloneAgent   Operation = "clone_agent"
	OpLLMCall      Operation = "llm_call"
	OpMemoryAccess Operation = "memory_access"
	OpExternalAPI  Operation = "external_api"
)

// Clock abstracts time so breaker cooldowns and window pruning are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

// Request is a single admission-control request. The governor resolves the
// requesting agent's budget, owner and hierarchy root from its registry.
type Request struct {
	AgentID   string         `json:"agent_id"`
	Operation Operation      `json:"operation"`
	Estimate  resource.Usage `json:"estimate"`
	Detail    string         `json:"detail,omitempty"`
}

// Decision is the outcome of an admission request. Denial carries the
// sentinel error classifying the denial so callers can distinguish
// "retry later" from "not entitled" from "structurally impossible".
type Decision struct {
	Approved      bool             `json:"approved"`
	Reason        string           `json:"reason"`
	Denial        error            `json:"-"`
	Violations    []QuotaViolation `json:"violations,omitempty"`
	UpdatedBudget *resource.Budget `json:"updated_budget,omitempty"`
}

// RegisterParams describes an agent entering the governor's registry.
type RegisterParams struct {
	AgentID  string
	UserID   string
	RootID   string
	ParentID string
	Budget   resource.Budget
	Depth    int
}

// Snapshot is a read-only view of governor state for status surfaces.
type Snapshot struct {
	Breaker     BreakerInfo `json:"breaker"`
	Tempo       string      `json:"tempo"`
	LiveAgents  int         `json:"live_agents"`
	PausedRoots []string    `json:"paused_roots"`
}

// Limits holds every tunable admission threshold. Loaded from config and
// hot-reloadable via ApplyLimits.
type Limits struct {
	MaxRecursionDepth    int     `json:"max_recursion_depth" mapstructure:"max_recursion_depth"`
	MaxSystemAgents      int     `json:"max_system_agents" mapstructure:"max_system_agents"`
	ChildBudgetShare     float64 `json:"child_budget_share" mapstructure:"child_budget_share"`
	CloneBudgetThreshold float64 `json:"clone_budget_threshold" mapstructure:"clone_budget_threshold"`

	BreakerErrorRate         float64       `json:"breaker_error_rate" mapstructure:"breaker_error_rate"`
	BreakerMinSamples        int           `json:"breaker_min_samples" mapstructure:"breaker_min_samples"`
	BreakerCooldown          time.Duration `json:"breaker_cooldown" mapstructure:"breaker_cooldown"`
	BreakerRecoverySuccesses int           `json:"breaker_recovery_successes" mapstructure:"breaker_recovery_successes"`
	ErrorWindow              time.Duration `json:"error_window" mapstructure:"error_window"`

	CostWindow          time.Duration `json:"cost_window" mapstructure:"cost_window"`
	CostBaseline        float64       `json:"cost_baseline" mapstructure:"cost_baseline"`
	CostSpikeThreshold  float64       `json:"cost_spike_threshold" mapstructure:"cost_spike_threshold"`
	CostSpikeMinSamples int           `json:"cost_spike_min_samples" mapstructure:"cost_spike_min_samples"`
	CostSpikeMinTotal   float64       `json:"cost_spike_min_total" mapstructure:"cost_spike_min_total"`

	TempoDegradeErrorRate float64 `json:"tempo_degrade_error_rate" mapstructure:"tempo_degrade_error_rate"`
	TempoRecoverErrorRate float64 `json:"tempo_recover_error_rate" mapstructure:"tempo_recover_error_rate"`
	TempoDegradeCostSpike float64 `json:"tempo_degrade_cost_spike" mapstructure:"tempo_degrade_cost_spike"`
	TempoRecoverCostSpike float64 `json:"tempo_recover_cost_spike" mapstructure:"tempo_recover_cost_spike"`

	MaintenanceSchedule string `json:"maintenance_schedule" mapstructure:"maintenance_schedule"`
}

// DefaultLimits returns production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxRecursionDepth:    5,
		MaxSystemAgents:      50,
		ChildBudgetShare:     0.3,
		CloneBudgetThreshold: 0.9,

		BreakerErrorRate:         0.5,
		BreakerMinSamples:        5,
		BreakerCooldown:          30 * time.Second,
		BreakerRecoverySuccesses: 3,
		ErrorWindow:              time.Minute,

		CostWindow:          time.Minute,
		CostBaseline:        10,
		CostSpikeThreshold:  3.0,
		CostSpikeMinSamples: 5,
		CostSpikeMinTotal:   100,

		TempoDegradeErrorRate: 0.5,
		TempoRecoverErrorRate: 0.2,
		TempoDegradeCostSpike: 2.5,
		TempoRecoverCostSpike: 1.5,

		MaintenanceSchedule: "@every 5m",
	}
}
