// Package observability exposes Prometheus metrics and health checks for
// framework deployments.
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
			Name: "agora_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Bus metrics
	busMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_bus_messages_total",
			Help: "Total number of messages recorded on the bus",
		},
		[]string{"type"},
	)

	// Agent metrics
	agentTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_agent_tasks_total",
			Help: "Total number of agent task executions",
		},
		[]string{"agent", "status"},
	)

	agentTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_agent_task_duration_seconds",
			Help:    "Agent task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	// Orchestrator metrics
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_orchestrator_dispatches_total",
			Help: "Total number of orchestrator dispatches",
		},
		[]string{"strategy", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_orchestrator_dispatch_duration_seconds",
			Help:    "Orchestrator dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Provider metrics
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_provider_requests_total",
			Help: "Total number of LLM provider completion requests",
		},
		[]string{"provider", "status"},
	)

	// System metrics
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agora_ws_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	registeredAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agora_registered_agents",
			Help: "Number of agents registered with the orchestrator",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all metrics with the default Prometheus registry.
// Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			busMessagesTotal,
			agentTasksTotal,
			agentTaskDuration,
			dispatchesTotal,
			dispatchDuration,
			providerRequestsTotal,
			wsConnections,
			registeredAgents,
		)
	})
}

// MetricsHandler returns an HTTP handler serving the Prometheus scrape
// endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBusMessage records one message passing through a bus.
func RecordBusMessage(msgType string) {
	busMessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordAgentTask records one agent task execution and its outcome.
func RecordAgentTask(agent, status string, duration time.Duration) {
	agentTasksTotal.WithLabelValues(agent, status).Inc()
	agentTaskDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordDispatch records one orchestrator dispatch and its outcome.
func RecordDispatch(strategy, status string, duration time.Duration) {
	dispatchesTotal.WithLabelValues(strategy, status).Inc()
	dispatchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordProviderRequest records one LLM provider completion request.
func RecordProviderRequest(provider, status string) {
	providerRequestsTotal.WithLabelValues(provider, status).Inc()
}

// SetWSConnections sets the active WebSocket connections gauge.
func SetWSConnections(count int) {
	wsConnections.Set(float64(count))
}

// SetRegisteredAgents sets the registered agents gauge.
func SetRegisteredAgents(count int) {
	registeredAgents.Set(float64(count))
}
