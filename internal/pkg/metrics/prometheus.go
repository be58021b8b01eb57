package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Workflow execution metrics
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_workflow_executions_total",
			Help: "Total number of workflow executions",
		},
		[]string{"workflow_id", "status"},
	)

	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"workflow_id"},
	)

	WorkflowExecutionsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_workflow_executions_in_progress",
			Help: "Number of workflow executions currently running",
		},
	)

	// Action metrics
	ActionExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_action_executions_total",
			Help: "Total number of action attempts",
		},
		[]string{"action_type", "status"},
	)

	ActionExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_action_execution_duration_seconds",
			Help:    "Action attempt duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action_type"},
	)

	ActionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_action_retries_total",
			Help: "Total number of action retries",
		},
		[]string{"action_type"},
	)

	// Catalog metrics
	CatalogRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_catalog_refreshes_total",
			Help: "Total number of catalog refreshes",
		},
		[]string{"status"},
	)

	CatalogActionsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_catalog_actions_registered",
			Help: "Number of enabled actions in the catalog snapshot",
		},
	)

	// Queue metrics
	QueueTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_queue_tasks_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"task_type"},
	)

	QueueTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_queue_tasks_processed_total",
			Help: "Total number of tasks processed",
		},
		[]string{"task_type", "status"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conductor_circuit_breaker_state",
			Help: "Circuit breaker state per connector (0=closed, 1=half-open, 2=open)",
		},
		[]string{"connector"},
	)
)

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func RecordWorkflowExecution(workflowID, status string, durationSeconds float64) {
	WorkflowExecutionsTotal.WithLabelValues(workflowID, status).Inc()
	if durationSeconds > 0 {
		WorkflowExecutionDuration.WithLabelValues(workflowID).Observe(durationSeconds)
	}
}

func RecordActionExecution(actionType, status string, durationSeconds float64) {
	ActionExecutionsTotal.WithLabelValues(actionType, status).Inc()
	if durationSeconds > 0 {
		ActionExecutionDuration.WithLabelValues(actionType).Observe(durationSeconds)
	}
}
