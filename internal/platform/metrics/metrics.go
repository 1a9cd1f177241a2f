package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the ingestion pipeline.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	tasksStartedTotal   prometheus.Counter
	tasksCompletedTotal prometheus.Counter
	tasksFailedTotal    prometheus.Counter
	artifactsUploaded   prometheus.Counter
	uploadRetriesTotal  prometheus.Counter
	activeTasks         prometheus.Gauge
	openStreams         prometheus.Gauge
	errorsTotal         prometheus.Counter
}

// New creates and registers Prometheus metrics for the pipeline.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_requests_total",
		Help: "Total number of HTTP requests received",
	})
	tasksStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_tasks_started_total",
		Help: "Total number of processing tasks accepted",
	})
	tasksCompletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_tasks_completed_total",
		Help: "Total number of tasks that reached complete",
	})
	tasksFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_tasks_failed_total",
		Help: "Total number of tasks that reached error",
	})
	artifactsUploaded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_artifacts_uploaded_total",
		Help: "Total number of artifacts persisted to the store",
	})
	uploadRetriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_upload_retries_total",
		Help: "Total number of per-artifact upload retry attempts",
	})
	activeTasks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_active_tasks",
		Help: "Number of tasks currently pending or processing",
	})
	openStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_open_progress_streams",
		Help: "Number of currently open progress push streams",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		tasksStartedTotal,
		tasksCompletedTotal,
		tasksFailedTotal,
		artifactsUploaded,
		uploadRetriesTotal,
		activeTasks,
		openStreams,
		errorsTotal,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		tasksStartedTotal:   tasksStartedTotal,
		tasksCompletedTotal: tasksCompletedTotal,
		tasksFailedTotal:    tasksFailedTotal,
		artifactsUploaded:   artifactsUploaded,
		uploadRetriesTotal:  uploadRetriesTotal,
		activeTasks:         activeTasks,
		openStreams:         openStreams,
		errorsTotal:         errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncTasksStarted increments the accepted-tasks counter.
func (m *Metrics) IncTasksStarted() {
	m.tasksStartedTotal.Inc()
}

// IncTasksCompleted increments the completed-tasks counter.
func (m *Metrics) IncTasksCompleted() {
	m.tasksCompletedTotal.Inc()
}

// IncTasksFailed increments the failed-tasks counter.
func (m *Metrics) IncTasksFailed() {
	m.tasksFailedTotal.Inc()
}

// IncArtifactsUploaded increments the uploaded-artifacts counter.
func (m *Metrics) IncArtifactsUploaded() {
	m.artifactsUploaded.Inc()
}

// IncUploadRetries increments the upload-retries counter.
func (m *Metrics) IncUploadRetries() {
	m.uploadRetriesTotal.Inc()
}

// SetActiveTasks sets the active tasks gauge.
func (m *Metrics) SetActiveTasks(n int) {
	m.activeTasks.Set(float64(n))
}

// IncOpenStreams increments the open progress streams gauge.
func (m *Metrics) IncOpenStreams() {
	m.openStreams.Inc()
}

// DecOpenStreams decrements the open progress streams gauge.
func (m *Metrics) DecOpenStreams() {
	m.openStreams.Dec()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active tasks).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
