package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for the service.
// Uses a custom registry, not the global default.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Tool invocation metrics.
	ToolInvocationsTotal   *prometheus.CounterVec
	ToolInvocationDuration *prometheus.HistogramVec
	BudgetExceededTotal    *prometheus.CounterVec

	// Cache metrics.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheSizeBytes   prometheus.Gauge
	CacheSweptTotal  prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quantagent",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		ToolInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "tool",
			Name:      "invocations_total",
			Help:      "Total tool invocations.",
		}, []string{"tool", "status"}),

		ToolInvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quantagent",
			Subsystem: "tool",
			Name:      "invocation_duration_seconds",
			Help:      "Tool invocation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
		}, []string{"tool"}),

		BudgetExceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "tool",
			Name:      "budget_exceeded_total",
			Help:      "Tool requests rejected because the per-request call budget was reached.",
		}, []string{"tool"}),

		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits per provider namespace.",
		}, []string{"namespace"}),

		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses per provider namespace.",
		}, []string{"namespace"}),

		CacheSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quantagent",
			Subsystem: "cache",
			Name:      "size_bytes",
			Help:      "Total payload bytes held by the cache store.",
		}),

		CacheSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "cache",
			Name:      "swept_entries_total",
			Help:      "Expired entries removed by the background sweep.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantagent",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled by the gateway.",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quantagent",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quantagent",
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "In-flight HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolInvocationsTotal,
		m.ToolInvocationDuration,
		m.BudgetExceededTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheSizeBytes,
		m.CacheSweptTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
