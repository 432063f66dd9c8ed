package governor

import (
	"sync"

	"github.com/kyra-ai/kyra/pkg/resource"
)

// Tempo is the global throttling level.
type Tempo int

const (
	TempoHighPerformance Tempo = iota
	TempoLowIntensity
	TempoSleep
)

func (t Tempo) String() string {
	switch t {
	case TempoHighPerformance:
		return "high-performance"
	case TempoLowIntensity:
		return "low-intensity"
	case TempoSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// tempoThresholds are the hysteresis bounds: degrade thresholds push the
// level down the ladder, the lower recover thresholds relax it back up.
// Using distinct bounds avoids oscillation around a single cut-off.
type tempoThresholds struct {
	degradeErrorRate float64
	recoverErrorRate float64
	degradeCostSpike float64
	recoverCostSpike float64
}

// tempoController derives the throttle level from the same error/cost signals
// that drive the breaker. Levels move one step at a time in both directions.
type tempoController struct {
	mu         sync.Mutex
	level      Tempo
	thresholds tempoThresholds
}

func newTempoController(th tempoThresholds) *tempoController {
	return &tempoController{level: TempoHighPerformance, thresholds: th}
}

// observe feeds the latest signal pair and returns (newLevel, changed).
func (c *tempoController) observe(errorRate, costSpike float64) (Tempo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.level
	switch {
	case errorRate >= c.thresholds.degradeErrorRate || costSpike >= c.thresholds.degradeCostSpike:
		if c.level < TempoSleep {
			c.level++
		}
	case errorRate <= c.thresholds.recoverErrorRate && costSpike <= c.thresholds.recoverCostSpike:
		if c.level > TempoHighPerformance {
			c.level--
		}
	}
	return c.level, c.level != prev
}

func (c *tempoController) current() Tempo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *tempoController) setThresholds(th tempoThresholds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds = th
}

// scaleEstimate shrinks a cost estimate according to the current level.
// Low-intensity halves the LLM-call and compute dimensions. Sleep clamps
// non-memory operations to a minimal fixed cost and passes memory access
// through untouched (memory access is also the only operation admitted at
// sleep tempo).
func (c *tempoController) scaleEstimate(op Operation, est resource.Usage) resource.Usage {
	switch c.current() {
	case TempoLowIntensity:
		est.Calls = est.Calls / 2
		est.ComputeUnits = est.ComputeUnits / 2
		return est
	case TempoSleep:
		if op == OpMemoryAccess {
			return est
		}
		return resource.Usage{ComputeUnits: 1}
	default:
		return est
	}
}
