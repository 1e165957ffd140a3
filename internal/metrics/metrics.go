// Package metrics exposes Prometheus collectors for sessions, model calls,
// tool calls, approvals, gates, scheduled jobs and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chief_of_staff"

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions finished, by trigger and final status",
		},
		[]string{"trigger", "status"},
	)

	sessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of finished sessions",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"trigger"},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Model calls, by model and status",
		},
		[]string{"model", "status"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens billed, by model and direction",
		},
		[]string{"model", "type"},
	)

	llmCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Model spend in USD",
		},
		[]string{"model"},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls, by tool and outcome (executed, error, pending_approval)",
		},
		[]string{"tool", "outcome"},
	)

	toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool execution time",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"tool"},
	)

	approvalsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_resolved_total",
			Help:      "Approvals resolved, by action type and outcome",
		},
		[]string{"action_type", "outcome"},
	)

	gateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Session starts refused by the governor",
		},
		[]string{"gate"},
	)

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job runs, by job and result (ok, failed, skipped)",
		},
		[]string{"job", "result"},
	)

	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Connected event stream clients",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordSession records a finished session.
func RecordSession(trigger, status string, d time.Duration) {
	sessionsTotal.WithLabelValues(trigger, status).Inc()
	sessionDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// RecordLLMCall records one model call and its usage.
func RecordLLMCall(model, status string, inputTokens, outputTokens int, costUSD float64) {
	llmCallsTotal.WithLabelValues(model, status).Inc()
	if status != "ok" {
		return
	}
	llmTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	llmTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	llmCostTotal.WithLabelValues(model).Add(costUSD)
}

// RecordToolCall records one tool call. d is zero for calls that were queued.
func RecordToolCall(tool, outcome string, d time.Duration) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	if d > 0 {
		toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// RecordApproval records an approval resolution.
func RecordApproval(actionType, outcome string) {
	approvalsResolved.WithLabelValues(actionType, outcome).Inc()
}

// RecordGateRejection records a refused session start.
func RecordGateRejection(gate string) {
	gateRejections.WithLabelValues(gate).Inc()
}

// RecordJob records a scheduler job run.
func RecordJob(job, result string) {
	jobRuns.WithLabelValues(job, result).Inc()
}

// AddEventSubscribers moves the event stream client gauge by delta.
func AddEventSubscribers(delta int) {
	eventSubscribers.Add(float64(delta))
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
