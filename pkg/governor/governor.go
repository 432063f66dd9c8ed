// Package governor implements the centralized admission-control service every
// resource-consuming operation must pass through: agent spawning, model
// invocation, memory access and external API calls. It owns the usage
// ledgers, user quotas, circuit breaker, tempo throttle and hierarchy
// pause state. Agents never mutate this state directly.
package governor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kyra-ai/kyra/internal/observability"
	"github.com/kyra-ai/kyra/pkg/audit"
	"github.com/kyra-ai/kyra/pkg/resource"
)

// UnattributedUser owns usage reported for agents that were never registered.
const UnattributedUser = "unattributed"

// agentEntry is the governor's ledger record for one live agent.
type agentEntry struct {
	userID       string
	rootID       string
	parentID     string
	budget       resource.Budget
	depth        int
	usage        resource.Usage
	reserved     resource.Usage
	registeredAt time.Time
}

// Governor is the single admission gate. One instance is shared by every
// agent in the process; all state behind it is mutex-guarded.
type Governor struct {
	mu     sync.RWMutex
	limits Limits

	agents        map[string]*agentEntry
	tierQuotas    map[Tier]UserQuotas
	userQuotas    map[string]UserQuotas
	userStorage   map[string]int64
	userHistories map[string]*usageHistory
	pausedRoots   map[string]string

	errorWindow *sampleWindow
	opsWindow   *sampleWindow
	costWindow  *sampleWindow

	breaker *breaker
	tempo   *tempoController

	clock  Clock
	logger zerolog.Logger
	sink   audit.Sink

	maintenance *cron.Cron
}

// Config holds governor construction parameters. Zero-value Clock and Sink
// default to the system clock and a no-op sink.
type Config struct {
	Limits Limits
	Clock  Clock
	Logger zerolog.Logger
	Sink   audit.Sink
}

// New creates a governor. Callers inject the instance everywhere it is
// needed; there is no process-wide singleton.
func New(cfg Config) *Governor {
	observability.EnsureRegistered()

	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Sink == nil {
		cfg.Sink = audit.NopSink{}
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}

	g := &Governor{
		limits:        cfg.Limits,
		agents:        make(map[string]*agentEntry),
		tierQuotas:    make(map[Tier]UserQuotas),
		userQuotas:    make(map[string]UserQuotas),
		userStorage:   make(map[string]int64),
		userHistories: make(map[string]*usageHistory),
		pausedRoots:   make(map[string]string),
		errorWindow:   newSampleWindow(cfg.Limits.ErrorWindow),
		opsWindow:     newSampleWindow(cfg.Limits.ErrorWindow),
		costWindow:    newSampleWindow(cfg.Limits.CostWindow),
		breaker:       newBreaker(cfg.Limits.BreakerCooldown, cfg.Limits.BreakerRecoverySuccesses, cfg.Clock),
		tempo: newTempoController(tempoThresholds{
			degradeErrorRate: cfg.Limits.TempoDegradeErrorRate,
			recoverErrorRate: cfg.Limits.TempoRecoverErrorRate,
			degradeCostSpike: cfg.Limits.TempoDegradeCostSpike,
			recoverCostSpike: cfg.Limits.TempoRecoverCostSpike,
		}),
		clock:  cfg.Clock,
		logger: cfg.Logger.With().Str("component", "governor").Logger(),
		sink:   cfg.Sink,
	}

	observability.SetBreakerState(int(BreakerClosed))
	observability.SetTempoLevel(int(TempoHighPerformance))
	return g
}

// Limits returns a copy of the active limits.
func (g *Governor) Limits() Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// ApplyLimits atomically swaps in new limits at runtime (config hot-reload).
// Breaker and tempo state carry over; only the thresholds change.
func (g *Governor) ApplyLimits(l Limits) {
	g.mu.Lock()
	g.limits = l
	g.mu.Unlock()

	g.errorWindow.setSpan(l.ErrorWindow)
	g.opsWindow.setSpan(l.ErrorWindow)
	g.costWindow.setSpan(l.CostWindow)
	g.breaker.setCooldown(l.BreakerCooldown, l.BreakerRecoverySuccesses)
	g.tempo.setThresholds(tempoThresholds{
		degradeErrorRate: l.TempoDegradeErrorRate,
		recoverErrorRate: l.TempoRecoverErrorRate,
		degradeCostSpike: l.TempoDegradeCostSpike,
		recoverCostSpike: l.TempoRecoverCostSpike,
	})

	g.logger.Info().Msg("Governor limits applied")
}

// RegisterAgent adds an agent to the ledger registry. Clone requests are
// gated separately via RequestApproval; registration itself only records the
// agent's identity, budget and place in the hierarchy.
func (g *Governor) RegisterAgent(p RegisterParams) error {
	if p.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if err := p.Budget.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	if _, exists := g.agents[p.AgentID]; exists {
		g.mu.Unlock()
		return fmt.Errorf("agent %s already registered", p.AgentID)
	}
	rootID := p.RootID
	if rootID == "" {
		rootID = p.AgentID
	}
	g.agents[p.AgentID] = &agentEntry{
		userID:       p.UserID,
		rootID:       rootID,
		parentID:     p.ParentID,
		budget:       p.Budget,
		depth:        p.Depth,
		registeredAt: g.clock.Now(),
	}
	count := len(g.agents)
	g.mu.Unlock()

	observability.SetLiveAgents(count)
	g.emit(audit.Record{
		AgentID: p.AgentID,
		UserID:  p.UserID,
		Event:   "agent_registered",
		Fields:  map[string]interface{}{"root_id": rootID, "depth": p.Depth},
	})
	g.logger.Info().
		Str("agent_id", p.AgentID).
		Str("root_id", rootID).
		Int("depth", p.Depth).
		Msg("Agent registered")
	return nil
}

// DeregisterAgent removes the agent's ledger entry and releases the budget
// its parent reserved for it. Callers invoke this only after the agent's
// children have been given the chance to terminate.
func (g *Governor) DeregisterAgent(agentID string) {
	g.mu.Lock()
	entry, existed := g.agents[agentID]
	delete(g.agents, agentID)
	if existed && entry.parentID != "" {
		if parent, ok := g.agents[entry.parentID]; ok {
			parent.reserved = subtractFloor(parent.reserved, entry.budget.AsUsage())
		}
	}
	count := len(g.agents)
	g.mu.Unlock()

	if !existed {
		return
	}

	observability.SetLiveAgents(count)
	g.emit(audit.Record{
		AgentID: agentID,
		UserID:  entry.userID,
		Event:   "agent_deregistered",
	})
	g.logger.Info().Str("agent_id", agentID).Msg("Agent deregistered")
}

// AgentUsage returns the accumulated usage for an agent.
func (g *Governor) AgentUsage(agentID string) (resource.Usage, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.agents[agentID]
	if !ok {
		return resource.Usage{}, false
	}
	return entry.usage, true
}

// LiveAgentCount returns the number of registered agents.
func (g *Governor) LiveAgentCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.agents)
}

// UpdateResourceUsage accumulates a usage delta into the agent's ledger
// entry, attributes it to the owning user's windowed history, and feeds the
// cost-spike detector. Entries are created lazily for agents first seen here.
func (g *Governor) UpdateResourceUsage(agentID string, delta resource.Usage) {
	now := g.clock.Now()

	g.mu.Lock()
	entry, ok := g.agents[agentID]
	if !ok {
		// Usage reported for an agent the registry never saw is kept, but
		// attributed to a sentinel user so it cannot land in a real user's
		// quota history or storage total.
		entry = &agentEntry{userID: UnattributedUser, rootID: agentID, registeredAt: now}
		g.agents[agentID] = entry
	}
	entry.usage = entry.usage.Add(delta)
	userID := entry.userID
	rootID := entry.rootID
	g.userStorage[userID] += delta.StorageBytes
	g.mu.Unlock()

	g.historyFor(userID).add(now, delta)
	g.opsWindow.add(now, 1)

	observability.RecordUsage("calls", delta.Calls)
	observability.RecordUsage("compute_units", delta.ComputeUnits)
	observability.RecordUsage("storage_bytes", delta.StorageBytes)
	observability.RecordUsage("execution_time_ms", delta.ExecutionTimeMs)

	// Weighted cost: model calls dominate compute by an order of magnitude.
	cost := float64(delta.ComputeUnits) + 10*float64(delta.Calls)
	g.costWindow.add(now, cost)

	spike := g.currentCostSpike(now)
	limits := g.Limits()
	if spike > limits.CostSpikeThreshold &&
		g.costWindow.count(now) >= limits.CostSpikeMinSamples &&
		g.costWindow.sum(now) >= limits.CostSpikeMinTotal {
		if g.breaker.trip(g.currentErrorRate(now), spike) {
			observability.SetBreakerState(int(BreakerOpen))
			g.emit(audit.Record{
				AgentID: agentID,
				Event:   "breaker_open",
				Detail:  fmt.Sprintf("cost spike %.2fx baseline", spike),
				Fields:  map[string]interface{}{"cost_spike": spike},
			})
			g.logger.Warn().
				Str("agent_id", agentID).
				Float64("cost_spike", spike).
				Msg("Circuit breaker opened on cost spike")
			g.PauseHierarchy(rootID, fmt.Sprintf("cost spike %.2fx baseline", spike))
		}
	}

	g.observeTempo(g.currentErrorRate(now), spike)
}

// RecordError appends to the time-windowed error history and opens the
// breaker when the windowed error rate crosses the configured threshold.
func (g *Governor) RecordError(agentID, message string) {
	now := g.clock.Now()
	errType := classifyError(message)
	observability.RecordAgentError(errType)

	g.errorWindow.add(now, 1)

	// A failure while half-open reopens immediately.
	if g.breaker.recordFailure() {
		observability.SetBreakerState(int(BreakerOpen))
		g.emit(audit.Record{AgentID: agentID, Event: "breaker_open", Detail: "failure during half-open probe"})
		g.logger.Warn().Str("agent_id", agentID).Msg("Circuit breaker reopened during half-open probe")
	}

	limits := g.Limits()
	rate := g.currentErrorRate(now)
	if g.errorWindow.count(now) >= limits.BreakerMinSamples && rate > limits.BreakerErrorRate {
		if g.breaker.trip(rate, g.currentCostSpike(now)) {
			observability.SetBreakerState(int(BreakerOpen))
			g.emit(audit.Record{
				AgentID: agentID,
				Event:   "breaker_open",
				Detail:  fmt.Sprintf("error rate %.2f over threshold %.2f", rate, limits.BreakerErrorRate),
				Fields:  map[string]interface{}{"error_rate": rate},
			})
			g.logger.Warn().
				Str("agent_id", agentID).
				Float64("error_rate", rate).
				Msg("Circuit breaker opened on error rate")
		}
	}

	g.observeTempo(rate, g.currentCostSpike(now))

	g.logger.Debug().
		Str("agent_id", agentID).
		Str("error_type", errType).
		Str("message", message).
		Msg("Error recorded")
}

// BreakerInfo returns the current circuit breaker view.
func (g *Governor) BreakerInfo() BreakerInfo {
	return g.breaker.info()
}

// TempoLevel returns the current throttle level.
func (g *Governor) TempoLevel() Tempo {
	return g.tempo.current()
}

// PauseHierarchy denies every subsequent request whose root ancestor is
// rootID until resumed.
func (g *Governor) PauseHierarchy(rootID, reason string) {
	g.mu.Lock()
	g.pausedRoots[rootID] = reason
	count := len(g.pausedRoots)
	g.mu.Unlock()

	observability.SetPausedRoots(count)
	g.emit(audit.Record{AgentID: rootID, Event: "hierarchy_paused", Detail: reason})
	g.logger.Warn().Str("root_id", rootID).Str("reason", reason).Msg("Hierarchy paused")
}

// ResumeHierarchy lifts a pause.
func (g *Governor) ResumeHierarchy(rootID string) {
	g.mu.Lock()
	delete(g.pausedRoots, rootID)
	count := len(g.pausedRoots)
	g.mu.Unlock()

	observability.SetPausedRoots(count)
	g.emit(audit.Record{AgentID: rootID, Event: "hierarchy_resumed"})
	g.logger.Info().Str("root_id", rootID).Msg("Hierarchy resumed")
}

// Snapshot returns a read-only view for status surfaces.
func (g *Governor) Snapshot() Snapshot {
	g.mu.RLock()
	paused := make([]string, 0, len(g.pausedRoots))
	for root := range g.pausedRoots {
		paused = append(paused, root)
	}
	live := len(g.agents)
	g.mu.RUnlock()

	return Snapshot{
		Breaker:     g.breaker.info(),
		Tempo:       g.tempo.current().String(),
		LiveAgents:  live,
		PausedRoots: paused,
	}
}

// StartMaintenance schedules the periodic window-pruning pass.
func (g *Governor) StartMaintenance() error {
	spec := g.Limits().MaintenanceSchedule
	if spec == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, g.PruneWindows); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	c.Start()

	g.mu.Lock()
	g.maintenance = c
	g.mu.Unlock()

	g.logger.Info().Str("schedule", spec).Msg("Governor maintenance scheduled")
	return nil
}

// StopMaintenance stops the maintenance scheduler, waiting for any running
// pass to finish.
func (g *Governor) StopMaintenance() {
	g.mu.Lock()
	c := g.maintenance
	g.maintenance = nil
	g.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// PruneWindows discards expired samples and drops idle user histories.
func (g *Governor) PruneWindows() {
	now := g.clock.Now()
	g.errorWindow.prune(now)
	g.opsWindow.prune(now)
	g.costWindow.prune(now)

	g.mu.Lock()
	for userID, hist := range g.userHistories {
		hist.prune(now)
		if hist.empty() {
			delete(g.userHistories, userID)
		}
	}
	g.mu.Unlock()
}

func (g *Governor) historyFor(userID string) *usageHistory {
	g.mu.Lock()
	defer g.mu.Unlock()

	hist, ok := g.userHistories[userID]
	if !ok {
		hist = &usageHistory{}
		g.userHistories[userID] = hist
	}
	return hist
}

// currentErrorRate divides windowed errors by the estimated total operations
// in the same window. With no gated operations recorded, the error count
// itself is the denominator so a pure error burst still registers as rate 1.
func (g *Governor) currentErrorRate(now time.Time) float64 {
	errs := g.errorWindow.count(now)
	if errs == 0 {
		return 0
	}
	ops := g.opsWindow.count(now)
	if ops < errs {
		ops = errs
	}
	return float64(errs) / float64(ops)
}

func (g *Governor) currentCostSpike(now time.Time) float64 {
	baseline := g.Limits().CostBaseline
	if baseline <= 0 {
		return 0
	}
	return g.costWindow.avg(now) / baseline
}

func (g *Governor) observeTempo(errorRate, costSpike float64) {
	level, changed := g.tempo.observe(errorRate, costSpike)
	if changed {
		observability.SetTempoLevel(int(level))
		g.emit(audit.Record{
			Event:  "tempo_changed",
			Detail: level.String(),
			Fields: map[string]interface{}{"error_rate": errorRate, "cost_spike": costSpike},
		})
		g.logger.Info().
			Str("tempo", level.String()).
			Float64("error_rate", errorRate).
			Float64("cost_spike", costSpike).
			Msg("System tempo changed")
	}
}

func (g *Governor) isPausedRoot(rootID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	reason, ok := g.pausedRoots[rootID]
	return reason, ok
}

// entryFor returns a value snapshot so callers never read ledger fields
// outside the lock.
func (g *Governor) entryFor(agentID string) (agentEntry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.agents[agentID]
	if !ok {
		return agentEntry{}, false
	}
	return *entry, true
}

// ReleaseReservation hands an approved clone reservation back to the parent.
// Callers use this when the child never materialized; children that did
// register release their share through DeregisterAgent instead.
func (g *Governor) ReleaseReservation(agentID string, estimate resource.Usage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.agents[agentID]; ok {
		entry.reserved = subtractFloor(entry.reserved, estimate)
	}
}

func subtractFloor(u, d resource.Usage) resource.Usage {
	return resource.Usage{
		Calls:           maxInt64(0, u.Calls-d.Calls),
		ComputeUnits:    maxInt64(0, u.ComputeUnits-d.ComputeUnits),
		StorageBytes:    maxInt64(0, u.StorageBytes-d.StorageBytes),
		ExecutionTimeMs: maxInt64(0, u.ExecutionTimeMs-d.ExecutionTimeMs),
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// emit writes an audit record best-effort; sink failures are logged, never
// propagated to admission paths.
func (g *Governor) emit(rec audit.Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = g.clock.Now()
	}
	if err := g.sink.Write(context.Background(), rec); err != nil {
		g.logger.Warn().Err(err).Str("event", rec.Event).Msg("Audit sink write failed")
	}
}

// classifyError infers a coarse failure type from error text.
func classifyError(message string) string {
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
