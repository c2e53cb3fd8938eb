package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestration core.
type Metrics struct {
	registry *prometheus.Registry

	AgentRunsTotal   *prometheus.CounterVec
	AgentRunDuration *prometheus.HistogramVec

	ToolExecutionsTotal   *prometheus.CounterVec
	ProviderRetriesTotal  prometheus.Counter
	RateLimitRejectsTotal *prometheus.CounterVec

	SubAgentRunsTotal  *prometheus.CounterVec
	SubAgentWaitTime   prometheus.Histogram
	ServerConnectTotal *prometheus.CounterVec
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AgentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runs_total",
				Help: "Total number of agent runs",
			},
			[]string{"provider", "status"},
		),
		AgentRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "status"},
		),
		ProviderRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provider_retries_total",
				Help: "Total number of retried model backend requests",
			},
		),
		RateLimitRejectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_rate_limit_rejects_total",
				Help: "Total number of tool calls rejected by rate limiting",
			},
			[]string{"tool_name"},
		),
		SubAgentRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subagent_runs_total",
				Help: "Total number of delegated sub-agent runs",
			},
			[]string{"status"},
		),
		SubAgentWaitTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "subagent_semaphore_wait_seconds",
				Help:    "Time sub-agent runs spent waiting for a concurrency slot",
				Buckets: prometheus.DefBuckets,
			},
		),
		ServerConnectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_server_connects_total",
				Help: "Total number of external tool server connection attempts",
			},
			[]string{"server", "status"},
		),
	}

	registry.MustRegister(
		m.AgentRunsTotal,
		m.AgentRunDuration,
		m.ToolExecutionsTotal,
		m.ProviderRetriesTotal,
		m.RateLimitRejectsTotal,
		m.SubAgentRunsTotal,
		m.SubAgentWaitTime,
		m.ServerConnectTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAgentRun records one completed agent run. Safe on a nil receiver so
// metrics stay optional in tests.
func (m *Metrics) RecordAgentRun(provider string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.AgentRunsTotal.WithLabelValues(provider, status).Inc()
	m.AgentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordToolExecution records one tool execution outcome.
func (m *Metrics) RecordToolExecution(toolName string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionsTotal.WithLabelValues(toolName, status).Inc()
}

// RecordRetry records one retried backend request.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.ProviderRetriesTotal.Inc()
}

// RecordRateLimitReject records a rate-limited tool call.
func (m *Metrics) RecordRateLimitReject(toolName string) {
	if m == nil {
		return
	}
	m.RateLimitRejectsTotal.WithLabelValues(toolName).Inc()
}

// RecordSubAgentRun records one completed sub-agent run.
func (m *Metrics) RecordSubAgentRun(success bool, waited time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.SubAgentRunsTotal.WithLabelValues(status).Inc()
	m.SubAgentWaitTime.Observe(waited.Seconds())
}

// RecordServerConnect records an external tool server connection attempt.
func (m *Metrics) RecordServerConnect(server string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ServerConnectTotal.WithLabelValues(server, status).Inc()
}
