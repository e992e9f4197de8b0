// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proposagent"

// Metrics is a private registry plus the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	SearchExecutions *prometheus.CounterVec
	SearchDuration   prometheus.Histogram
	RateLimited      prometheus.Counter
	ToolCalls        *prometheus.CounterVec
	AgentRuns        *prometheus.CounterVec
	AgentRunDuration prometheus.Histogram
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SearchExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "executions_total",
			Help:      "Search executions by final status.",
		}, []string{"status"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream SearXNG requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "rate_limited_total",
			Help:      "Execute requests rejected by the rate limiter.",
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool executions by tool and status.",
		}, []string{"tool", "status"}),
		AgentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Agent runs by status.",
		}, []string{"status"}),
		AgentRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "run_duration_seconds",
			Help:      "Wall time of agent runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SearchExecutions,
		m.SearchDuration,
		m.RateLimited,
		m.ToolCalls,
		m.AgentRuns,
		m.AgentRunDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAgentRun records one agent run.
func (m *Metrics) ObserveAgentRun(status string, started time.Time) {
	if m == nil {
		return
	}
	m.AgentRuns.WithLabelValues(status).Inc()
	m.AgentRunDuration.Observe(time.Since(started).Seconds())
}

// ObserveToolCall records one MCP tool execution.
func (m *Metrics) ObserveToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}
