// Package observability provides Prometheus metrics and structured logging
// for the gateway.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the gateway's Prometheus instrumentation, registered once at
// startup on the default registry and served from /metrics.
type Metrics struct {
	// HTTPRequestCounter counts API requests.
	// Labels: endpoint, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency in seconds.
	// Labels: endpoint
	HTTPRequestDuration *prometheus.HistogramVec

	// SessionCounter counts finished sessions by terminal status.
	// Labels: status (completed|failed|cancelled)
	SessionCounter *prometheus.CounterVec

	// SessionDuration measures session wallclock in seconds.
	SessionDuration prometheus.Histogram

	// SessionDepth observes the depth of each session, including task
	// recursion children.
	SessionDepth prometheus.Histogram

	// ActiveSessions gauges currently running sessions.
	ActiveSessions prometheus.Gauge

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// UpstreamTokens tracks generator token consumption.
	// Labels: type (input|output)
	UpstreamTokens *prometheus.CounterVec

	// CompileRepairCounter counts tool compilations that needed the repair
	// turn.
	// Labels: outcome (recovered|failed)
	CompileRepairCounter *prometheus.CounterVec

	// RateLimitDenials counts requests rejected by the per-tenant bucket.
	RateLimitDenials prometheus.Counter
}

// NewMetrics creates and registers all gateway metrics. Call once per
// process.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rants_http_requests_total",
				Help: "Total API requests by endpoint and status code",
			},
			[]string{"endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rants_http_request_duration_seconds",
				Help:    "API request latency in seconds",
				Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 15, 60, 120},
			},
			[]string{"endpoint"},
		),
		SessionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rants_sessions_total",
				Help: "Finished sessions by terminal status",
			},
			[]string{"status"},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rants_session_duration_seconds",
				Help:    "Session wallclock duration in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		SessionDepth: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rants_session_depth",
				Help:    "Recursion depth of finished sessions",
				Buckets: []float64{0, 1, 2, 3, 4},
			},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rants_active_sessions",
				Help: "Currently running sessions",
			},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rants_tool_executions_total",
				Help: "Tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rants_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		UpstreamTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rants_upstream_tokens_total",
				Help: "Generator tokens consumed by type",
			},
			[]string{"type"},
		),
		CompileRepairCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rants_compile_repairs_total",
				Help: "Tool compilations that required the repair turn",
			},
			[]string{"outcome"},
		),
		RateLimitDenials: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rants_rate_limit_denials_total",
				Help: "Requests rejected by the per-tenant token bucket",
			},
		),
	}
}

// ObserveToolExecution records one tool run.
func (m *Metrics) ObserveToolExecution(tool string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(seconds)
}

// ObserveSession records one finished session.
func (m *Metrics) ObserveSession(status string, depth int, seconds float64) {
	if m == nil {
		return
	}
	m.SessionCounter.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(seconds)
	m.SessionDepth.Observe(float64(depth))
}

// ObserveCompileRepair records a tool compilation that needed the repair
// turn and whether it recovered.
func (m *Metrics) ObserveCompileRepair(recovered bool) {
	if m == nil {
		return
	}
	outcome := "recovered"
	if !recovered {
		outcome = "failed"
	}
	m.CompileRepairCounter.WithLabelValues(outcome).Inc()
}

// ObserveTokens records generator token usage.
func (m *Metrics) ObserveTokens(input, output int) {
	if m == nil {
		return
	}
	m.UpstreamTokens.WithLabelValues("input").Add(float64(input))
	m.UpstreamTokens.WithLabelValues("output").Add(float64(output))
}
