package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting kernel metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Dialogue message flow and LLM request performance
//   - Tool execution patterns and latencies
//   - Event bus throughput and queue depth
//   - Plugin RPC round-trips and restarts
//   - Memory pipeline ingestion and recall
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.DialogueMessage("user")
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds(), 120, 450)
type Metrics struct {
	// DialogueMessages counts dialogue messages by role.
	// Labels: role (user|assistant|tool)
	DialogueMessages *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (dialogue|bus|plugin|memory|emotion), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	// Labels: character
	ActiveSessions *prometheus.GaugeVec

	// SessionDuration measures session lifetime in seconds.
	// Labels: character
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration *prometheus.HistogramVec

	// BusQueueDepth tracks the async publish queue depth.
	BusQueueDepth prometheus.Gauge

	// BusEventsPublished counts published events by namespace (the
	// first dotted segment of the event type, to bound cardinality).
	// Labels: namespace
	BusEventsPublished *prometheus.CounterVec

	// BusDispatchDuration measures per-event dispatch time across all
	// matching handlers.
	// Labels: namespace
	// Buckets: 0.0001s, 0.001s, 0.01s, 0.1s, 1s
	BusDispatchDuration *prometheus.HistogramVec

	// PluginRPCCounter counts plugin RPC round-trips.
	// Labels: plugin, method, status (success|error|timeout)
	PluginRPCCounter *prometheus.CounterVec

	// PluginRPCDuration measures plugin RPC latency in seconds.
	// Labels: plugin, method
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s
	PluginRPCDuration *prometheus.HistogramVec

	// PluginRestarts counts plugin reload/crash-recovery cycles.
	// Labels: plugin
	PluginRestarts *prometheus.CounterVec

	// MemoryRecordsIngested counts memory records by role.
	// Labels: role
	MemoryRecordsIngested *prometheus.CounterVec

	// MemoryRecallResults measures how many records a recall returned.
	// Buckets: 0, 1, 2, 5, 10, 20
	MemoryRecallResults prometheus.Histogram

	// EmotionAnalyses counts completed emotion analyses by primary.
	// Labels: primary
	EmotionAnalyses *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000
	ContextWindowUsed *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on reg, or
// on the default registry when reg is nil. Call once at startup.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		DialogueMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_dialogue_messages_total",
				Help: "Total number of dialogue messages by role",
			},
			[]string{"role"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_kernel_llm_request_duration_seconds",
				Help:    "LLM API request duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_llm_tokens_total",
				Help: "Total LLM tokens used by type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_kernel_tool_execution_duration_seconds",
				Help:    "Tool execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "companion_kernel_active_sessions",
				Help: "Current number of active sessions by character",
			},
			[]string{"character"},
		),

		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_kernel_session_duration_seconds",
				Help:    "Session lifetime in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
			[]string{"character"},
		),

		BusQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "companion_kernel_bus_queue_depth",
				Help: "Current depth of the event bus async queue",
			},
		),

		BusEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_bus_events_published_total",
				Help: "Total events published by namespace",
			},
			[]string{"namespace"},
		),

		BusDispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_kernel_bus_dispatch_duration_seconds",
				Help:    "Per-event dispatch duration across matching handlers",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
			},
			[]string{"namespace"},
		),

		PluginRPCCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_plugin_rpc_total",
				Help: "Total plugin RPC round-trips by plugin, method, and status",
			},
			[]string{"plugin", "method", "status"},
		),

		PluginRPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_kernel_plugin_rpc_duration_seconds",
				Help:    "Plugin RPC round-trip duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"plugin", "method"},
		),

		PluginRestarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_plugin_restarts_total",
				Help: "Total plugin reload and crash-recovery cycles",
			},
			[]string{"plugin"},
		),

		MemoryRecordsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_memory_records_total",
				Help: "Total memory records ingested by role",
			},
			[]string{"role"},
		),

		MemoryRecallResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "companion_kernel_memory_recall_results",
				Help:    "Number of records returned per recall query",
				Buckets: []float64{0, 1, 2, 5, 10, 20},
			},
		),

		EmotionAnalyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_emotion_analyses_total",
				Help: "Total emotion analyses by primary emotion",
			},
			[]string{"primary"},
		),

		LLMCostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_kernel_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ContextWindowUsed: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_kernel_context_window_tokens",
				Help:    "Context window tokens used",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),
	}
}

// DialogueMessage increments the message counter for a role.
func (m *Metrics) DialogueMessage(role string) {
	m.DialogueMessages.WithLabelValues(role).Inc()
}

// RecordLLMRequest records a completed LLM request with its duration
// and token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records a completed tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(character string) {
	m.ActiveSessions.WithLabelValues(character).Inc()
}

// SessionEnded decrements the gauge and records the lifetime.
func (m *Metrics) SessionEnded(character string, durationSeconds float64) {
	m.ActiveSessions.WithLabelValues(character).Dec()
	m.SessionDuration.WithLabelValues(character).Observe(durationSeconds)
}

// SetBusQueueDepth records the current async queue depth.
func (m *Metrics) SetBusQueueDepth(depth int) {
	m.BusQueueDepth.Set(float64(depth))
}

// RecordEventPublished counts one published event under its namespace.
func (m *Metrics) RecordEventPublished(namespace string) {
	m.BusEventsPublished.WithLabelValues(namespace).Inc()
}

// RecordEventDispatched records one event's total dispatch time.
func (m *Metrics) RecordEventDispatched(namespace string, durationSeconds float64) {
	m.BusDispatchDuration.WithLabelValues(namespace).Observe(durationSeconds)
}

// RecordPluginRPC records one plugin RPC round-trip.
func (m *Metrics) RecordPluginRPC(plugin, method, status string, durationSeconds float64) {
	m.PluginRPCCounter.WithLabelValues(plugin, method, status).Inc()
	m.PluginRPCDuration.WithLabelValues(plugin, method).Observe(durationSeconds)
}

// RecordPluginRestart counts one reload or crash-recovery cycle.
func (m *Metrics) RecordPluginRestart(plugin string) {
	m.PluginRestarts.WithLabelValues(plugin).Inc()
}

// RecordMemoryIngest counts one ingested record.
func (m *Metrics) RecordMemoryIngest(role string) {
	m.MemoryRecordsIngested.WithLabelValues(role).Inc()
}

// RecordRecall records the result count of one recall query.
func (m *Metrics) RecordRecall(resultCount int) {
	m.MemoryRecallResults.Observe(float64(resultCount))
}

// RecordEmotionAnalysis counts one completed analysis.
func (m *Metrics) RecordEmotionAnalysis(primary string) {
	m.EmotionAnalyses.WithLabelValues(primary).Inc()
}

// RecordLLMCost adds the estimated cost of one request.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}
