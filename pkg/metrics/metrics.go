// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMCallDuration tracks generation call duration.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "LLM generation call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ToolCallsTotal tracks tool envelope invocations by outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total tool invocations",
		},
		[]string{"tool", "outcome"},
	)

	// ToolCallDuration tracks external tool latency (cache hits excluded).
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tool_call_duration_seconds",
			Help:    "External tool call duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	// ToolCacheHits tracks tool envelope cache hits.
	ToolCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_cache_hits_total",
			Help: "Tool envelope cache hits",
		},
		[]string{"tool"},
	)

	// RetrievalSearches tracks similarity searches by outcome.
	RetrievalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_searches_total",
			Help: "Total retrieval searches",
		},
		[]string{"outcome"},
	)

	// MemoryOps tracks memory adapter operations.
	MemoryOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_operations_total",
			Help: "Memory adapter operations",
		},
		[]string{"op", "outcome"},
	)

	// RouterTurns tracks routed turns per branch.
	RouterTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_turns_total",
			Help: "Conversational turns by route",
		},
		[]string{"route"},
	)

	// WorkflowRuns tracks compliance workflow outputs.
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_workflow_runs_total",
			Help: "Compliance workflow runs by output kind",
		},
		[]string{"output"},
	)

	// DigestsTotal tracks produced digests by status.
	DigestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_digests_total",
			Help: "Pulse digests by status",
		},
		[]string{"status"},
	)

	// DigestChanges tracks change events by severity.
	DigestChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_digest_changes_total",
			Help: "Pulse change events by severity",
		},
		[]string{"severity"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMCall records metrics for a completed generation call.
func RecordLLMCall(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMCallDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordToolCall records one tool invocation outcome.
func RecordToolCall(tool, outcome string, duration float64) {
	ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	if outcome != "cached" {
		ToolCallDuration.WithLabelValues(tool).Observe(duration)
	}
}
