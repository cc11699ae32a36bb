package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "steward"

type moduleMetrics struct {
	runTotal    *prometheus.CounterVec
	runDuration prometheus.Histogram
	runSteps    prometheus.Histogram

	plannerCallTotal    *prometheus.CounterVec
	plannerCallDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	policyDecisionTotal     *prometheus.CounterVec
	approvalResolutionTotal *prometheus.CounterVec
	pendingApprovals        prometheus.Gauge

	secondaryFailuresTotal *prometheus.CounterVec
	memoryContextDuration  prometheus.Histogram

	rpcTotal             *prometheus.CounterVec
	websocketConnections prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "run_total",
					Help:      "Total agent runs by outcome mode and terminal status.",
				},
				[]string{"mode", "status"},
			),
			runDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "run_duration_seconds",
					Help:      "Agent run duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			runSteps: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "run_steps",
					Help:      "Planner steps taken per run.",
					Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
				},
			),
			plannerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "planner_call_total",
					Help:      "Total planner calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			plannerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "planner_call_duration_seconds",
					Help:      "Planner call duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool, path and status.",
				},
				[]string{"tool", "path", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			policyDecisionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "policy_decision_total",
					Help:      "Total policy decisions by tool and outcome.",
				},
				[]string{"tool", "outcome"},
			),
			approvalResolutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "approval_resolution_total",
					Help:      "Total approval resolutions by decision and result.",
				},
				[]string{"decision", "result"},
			),
			pendingApprovals: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "pending_approvals",
					Help:      "Approvals currently waiting for a decision.",
				},
			),
			secondaryFailuresTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "secondary_persistence_failures_total",
					Help:      "Best-effort writes that failed while recording another failure.",
				},
				[]string{"operation"},
			),
			memoryContextDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "memory_context_duration_seconds",
					Help:      "Time to build the user memory block in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			rpcTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "rpc_total",
					Help:      "Total gateway RPC calls by method and status.",
				},
				[]string{"method", "status"},
			),
			websocketConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "websocket_connections",
					Help:      "Open gateway websocket connections.",
				},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runSteps,
			m.plannerCallTotal,
			m.plannerCallDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.policyDecisionTotal,
			m.approvalResolutionTotal,
			m.pendingApprovals,
			m.secondaryFailuresTotal,
			m.memoryContextDuration,
			m.rpcTotal,
			m.websocketConnections,
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

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordRun(mode, status string, steps int, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(mode, status).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.runSteps.Observe(float64(steps))
}

func RecordPlannerCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.plannerCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.plannerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordToolExecution counts one execute call. path is "run" or "approval".
func RecordToolExecution(tool, path string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, path, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordPolicyDecision(tool, outcome string) {
	getMetrics().policyDecisionTotal.WithLabelValues(tool, outcome).Inc()
}

func RecordApprovalResolution(decision, result string) {
	getMetrics().approvalResolutionTotal.WithLabelValues(decision, result).Inc()
}

func SetPendingApprovals(count int) {
	getMetrics().pendingApprovals.Set(float64(count))
}

func RecordSecondaryFailure(operation string) {
	getMetrics().secondaryFailuresTotal.WithLabelValues(operation).Inc()
}

func RecordMemoryContext(duration time.Duration) {
	getMetrics().memoryContextDuration.Observe(duration.Seconds())
}

func RecordRPC(method string, success bool) {
	getMetrics().rpcTotal.WithLabelValues(method, statusLabel(success)).Inc()
}

func AddWebsocketConnections(delta int) {
	getMetrics().websocketConnections.Add(float64(delta))
}
