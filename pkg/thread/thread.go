package thread

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kyra-ai/kyra/pkg/resource"
)

// Profile configures how an agent executes its task.
type Profile struct {
	LLMModel          string           `json:"llm_model"`
	Toolkit           []string         `json:"toolkit,omitempty"`
	MemoryScope       string           `json:"memory_scope"`
	EntryPhase        string           `json:"entry_phase,omitempty"`
	MaxRecursionDepth int              `json:"max_recursion_depth,omitempty"`
	ResourceBudget    *resource.Budget `json:"resource_budget,omitempty"`
}

// Thread is the per-agent bundle of goal, task, configuration, memory scope,
// budget and recursion depth. It is created once per agent and never shared:
// a child receives its own derived thread, not its parent's.
type Thread struct {
	ID             string          `json:"id"`
	TopLevelGoal   string          `json:"top_level_goal"`
	ParentAgentID  string          `json:"parent_agent_id,omitempty"`
	TaskDefinition string          `json:"task_definition"`
	Profile        Profile         `json:"configuration_profile"`
	MemoryScope    string          `json:"memory_scope"`
	ResourceBudget resource.Budget `json:"resource_budget"`
	RecursionDepth int             `json:"recursion_depth"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Params holds the inputs for creating a root thread.
type Params struct {
	TopLevelGoal   string
	TaskDefinition string
	Profile        Profile
	ResourceBudget resource.Budget
}

// New creates a root-level thread at recursion depth zero.
func New(p Params) (*Thread, error) {
	if p.TopLevelGoal == "" {
		return nil, fmt.Errorf("top-level goal is required")
	}
	if p.TaskDefinition == "" {
		return nil, fmt.Errorf("task definition is required")
	}
	if err := p.ResourceBudget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resource budget: %w", err)
	}

	now := time.Now()
	return &Thread{
		ID:             uuid.New().String(),
		TopLevelGoal:   p.TopLevelGoal,
		TaskDefinition: p.TaskDefinition,
		Profile:        p.Profile,
		MemoryScope:    p.Profile.MemoryScope,
		ResourceBudget: p.ResourceBudget,
		RecursionDepth: 0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Derive builds a child thread one recursion level below t. The child budget
// is the explicit override when given, otherwise share of the parent's
// remaining headroom given the parent's current usage.
func (t *Thread) Derive(parentAgentID, taskDefinition string, profile Profile, parentUsage resource.Usage, share float64) (*Thread, error) {
	if taskDefinition == "" {
		return nil, fmt.Errorf("task definition is required")
	}

	budget := t.ResourceBudget.DeriveChild(parentUsage, share)
	if profile.ResourceBudget != nil {
		if err := profile.ResourceBudget.Validate(); err != nil {
			return nil, fmt.Errorf("invalid budget override: %w", err)
		}
		budget = *profile.ResourceBudget
	}

	scope := profile.MemoryScope
	if scope == "" {
		scope = t.MemoryScope
	}

	now := time.Now()
	return &Thread{
		ID:             uuid.New().String(),
		TopLevelGoal:   t.TopLevelGoal,
		ParentAgentID:  parentAgentID,
		TaskDefinition: taskDefinition,
		Profile:        profile,
		MemoryScope:    scope,
		ResourceBudget: budget,
		RecursionDepth: t.RecursionDepth + 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Touch updates the bookkeeping timestamp. Everything else on a thread is
// immutable after creation.
func (t *Thread) Touch() {
	t.UpdatedAt = time.Now()
}
