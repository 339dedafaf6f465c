package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasona_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasona_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Synapse metrics
	synapseEnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasona_synapse_envelopes_total",
			Help: "Total number of envelopes emitted by the synapse",
		},
		[]string{"type"},
	)

	synapseDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasona_synapse_delivery_duration_seconds",
			Help:    "Time spent delivering a message to an agent",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent", "status"},
	)

	synapseConnectedAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reasona_synapse_connected_agents",
			Help: "Number of agents connected to the synapse",
		},
	)

	// Workflow metrics
	workflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasona_workflow_runs_total",
			Help: "Total number of workflow runs",
		},
		[]string{"workflow", "status"},
	)

	workflowRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasona_workflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	workflowStageAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasona_workflow_stage_attempts_total",
			Help: "Total number of stage attempts",
		},
		[]string{"workflow", "stage", "status"},
	)

	// LLM metrics
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasona_llm_requests_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"provider", "model", "status"},
	)

	llmRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasona_llm_request_duration_seconds",
			Help:    "LLM completion latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasona_llm_tokens_total",
			Help: "Total number of tokens consumed",
		},
		[]string{"provider", "model", "kind"},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reasona_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reasona_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Health metrics
	healthCheckUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reasona_health_check_up",
			Help: "Whether the last run of a health check passed (1) or failed (0)",
		},
		[]string{"check"},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			synapseEnvelopesTotal,
			synapseDeliveryDuration,
			synapseConnectedAgents,
			workflowRunsTotal,
			workflowRunDuration,
			workflowStageAttemptsTotal,
			llmRequestsTotal,
			llmRequestDuration,
			llmTokensTotal,
			toolCallsTotal,
			toolCallDuration,
			healthCheckUp,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordEnvelope counts an envelope by type
func RecordEnvelope(envelopeType string) {
	synapseEnvelopesTotal.WithLabelValues(envelopeType).Inc()
}

// RecordDelivery records one synapse delivery
func RecordDelivery(agent, status string, duration time.Duration) {
	synapseDeliveryDuration.WithLabelValues(agent, status).Observe(duration.Seconds())
}

// SetConnectedAgents sets the connected agents gauge
func SetConnectedAgents(count int) {
	synapseConnectedAgents.Set(float64(count))
}

// RecordWorkflowRun records a completed workflow run
func RecordWorkflowRun(workflow, status string, duration time.Duration) {
	workflowRunsTotal.WithLabelValues(workflow, status).Inc()
	workflowRunDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordStageAttempt records a single stage attempt
func RecordStageAttempt(workflow, stage, status string) {
	workflowStageAttemptsTotal.WithLabelValues(workflow, stage, status).Inc()
}

// RecordLLMRequest records an LLM request and its token usage
func RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		llmTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		llmTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolCall records tool call metrics
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func recordHealthCheck(check string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	healthCheckUp.WithLabelValues(check).Set(v)
}
