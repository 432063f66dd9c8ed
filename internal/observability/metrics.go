package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	approvalTotal    *prometheus.CounterVec
	approvalDuration *prometheus.HistogramVec

	breakerState prometheus.Gauge
	tempoLevel   prometheus.Gauge

	liveAgents      prometheus.Gauge
	pausedRoots     prometheus.Gauge
	usageTotal      *prometheus.CounterVec
	errorsRecorded  *prometheus.CounterVec
	quotaViolations *prometheus.CounterVec

	loopIterations    *prometheus.CounterVec
	loopFailures      *prometheus.CounterVec
	clonesTotal       *prometheus.CounterVec
	terminationsTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			approvalTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "governor_approval_total",
					Help: "Total admission decisions by operation and outcome.",
				},
				[]string{"operation", "outcome"},
			),
			approvalDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "governor_approval_duration_seconds",
					Help:    "Admission decision latency in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
			breakerState: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "governor_breaker_state",
					Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
				},
			),
			tempoLevel: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "governor_tempo_level",
					Help: "System tempo (0 high-performance, 1 low-intensity, 2 sleep).",
				},
			),
			liveAgents: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "governor_live_agents",
					Help: "Currently registered agent count.",
				},
			),
			pausedRoots: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "governor_paused_hierarchies",
					Help: "Currently paused agent hierarchies.",
				},
			),
			usageTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "governor_usage_total",
					Help: "Accumulated resource usage by dimension.",
				},
				[]string{"dimension"},
			),
			errorsRecorded: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "governor_errors_recorded_total",
					Help: "Errors recorded against agents by inferred type.",
				},
				[]string{"type"},
			),
			quotaViolations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "governor_quota_violations_total",
					Help: "User quota violations by limit.",
				},
				[]string{"limit"},
			),
			loopIterations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_loop_iterations_total",
					Help: "Roundabout loop iterations by phase.",
				},
				[]string{"phase"},
			),
			loopFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_loop_failures_total",
					Help: "Roundabout loop failures by phase.",
				},
				[]string{"phase"},
			),
			clonesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_clones_total",
					Help: "Agent clone attempts by outcome.",
				},
				[]string{"outcome"},
			),
			terminationsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "agent_terminations_total",
					Help: "Agent terminations.",
				},
			),
		}

		prometheus.MustRegister(
			m.approvalTotal,
			m.approvalDuration,
			m.breakerState,
			m.tempoLevel,
			m.liveAgents,
			m.pausedRoots,
			m.usageTotal,
			m.errorsRecorded,
			m.quotaViolations,
			m.loopIterations,
			m.loopFailures,
			m.clonesTotal,
			m.terminationsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordApproval(operation string, approved bool, duration time.Duration) {
	m := getMetrics()
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	m.approvalTotal.WithLabelValues(operation, outcome).Inc()
	m.approvalDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func SetBreakerState(state int) {
	getMetrics().breakerState.Set(float64(state))
}

func SetTempoLevel(level int) {
	getMetrics().tempoLevel.Set(float64(level))
}

func SetLiveAgents(count int) {
	getMetrics().liveAgents.Set(float64(count))
}

func SetPausedRoots(count int) {
	getMetrics().pausedRoots.Set(float64(count))
}

func RecordUsage(dimension string, amount int64) {
	if amount <= 0 {
		return
	}
	getMetrics().usageTotal.WithLabelValues(dimension).Add(float64(amount))
}

func RecordAgentError(errType string) {
	getMetrics().errorsRecorded.WithLabelValues(errType).Inc()
}

func RecordQuotaViolation(limit string) {
	getMetrics().quotaViolations.WithLabelValues(limit).Inc()
}

func RecordLoopIteration(phase string, failed bool) {
	m := getMetrics()
	m.loopIterations.WithLabelValues(phase).Inc()
	if failed {
		m.loopFailures.WithLabelValues(phase).Inc()
	}
}

func RecordClone(approved bool) {
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	getMetrics().clonesTotal.WithLabelValues(outcome).Inc()
}

func RecordTermination() {
	getMetrics().terminationsTotal.Inc()
}
