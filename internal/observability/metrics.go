package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec

	streamChunksTotal      *prometheus.CounterVec
	streamErrorsTotal      *prometheus.CounterVec
	providerRequestLatency *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	confirmationsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session snapshot load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session snapshot save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_errors_total",
					Help: "Total agent errors by provider.",
				},
				[]string{"provider"},
			),
			streamChunksTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_chunks_total",
					Help: "Total normalized stream chunks by provider.",
				},
				[]string{"provider"},
			),
			streamErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_errors_total",
					Help: "Total stream failures by provider and reason.",
				},
				[]string{"provider", "reason"},
			),
			providerRequestLatency: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_request_latency_seconds",
					Help:    "Provider endpoint round-trip latency in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			confirmationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_confirmations_total",
					Help: "Total tool confirmation outcomes by decision.",
				},
				[]string{"decision"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
			m.streamChunksTotal,
			m.streamErrorsTotal,
			m.providerRequestLatency,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.confirmationsTotal,
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

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func RecordStreamChunk(provider string) {
	getMetrics().streamChunksTotal.WithLabelValues(provider).Inc()
}

func RecordStreamError(provider, reason string) {
	getMetrics().streamErrorsTotal.WithLabelValues(provider, reason).Inc()
}

func RecordProviderLatency(provider string, duration time.Duration) {
	getMetrics().providerRequestLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordConfirmation(decision string) {
	getMetrics().confirmationsTotal.WithLabelValues(decision).Inc()
}
