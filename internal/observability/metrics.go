package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the coordinator exposes. It
// implements dispatch.MetricsRecorder so a *Metrics can be handed straight
// to dispatch.New without that package importing Prometheus itself.
type Metrics struct {
	JobsTotal           *prometheus.CounterVec
	JobsActive          prometheus.Gauge
	JobDuration         prometheus.Histogram
	TasksAssignedTotal  prometheus.Counter
	TasksCompletedTotal prometheus.Counter
	TasksFailedTotal    prometheus.Counter
	TasksRequeuedTotal  prometheus.Counter
	PendingQueueGauge   prometheus.Gauge

	WorkersRegisteredTotal prometheus.Counter
	WorkersDeadTotal       prometheus.Counter
	WorkersActive          prometheus.Gauge
}

// NewMetrics creates and registers every coordinator metric.
func NewMetrics() *Metrics {
	return &Metrics{
		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskmesh_jobs_total",
				Help: "Total map() jobs submitted, labeled by terminal outcome",
			},
			[]string{"outcome"},
		),
		JobsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskmesh_jobs_active",
				Help: "Jobs currently awaiting completion",
			},
		),
		JobDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskmesh_job_duration_seconds",
				Help:    "map() wall-clock duration from submission to terminal state",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
		),
		TasksAssignedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskmesh_tasks_assigned_total",
				Help: "Total TASK_ASSIGNMENT messages sent",
			},
		),
		TasksCompletedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskmesh_tasks_completed_total",
				Help: "Total TASK_RESULT messages accepted",
			},
		),
		TasksFailedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskmesh_tasks_failed_total",
				Help: "Total TASK_ERROR messages accepted, plus attempt-cap failures",
			},
		),
		TasksRequeuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskmesh_tasks_requeued_total",
				Help: "Total tasks re-queued after their worker died",
			},
		),
		PendingQueueGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskmesh_pending_queue_depth",
				Help: "Tasks currently waiting for a free worker slot",
			},
		),
		WorkersRegisteredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskmesh_workers_registered_total",
				Help: "Total successful worker registrations",
			},
		),
		WorkersDeadTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskmesh_workers_dead_total",
				Help: "Total workers marked dead, by timeout or disconnect",
			},
		),
		WorkersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskmesh_workers_active",
				Help: "Currently registered (live) workers",
			},
		),
	}
}

// TaskAssigned implements dispatch.MetricsRecorder.
func (m *Metrics) TaskAssigned() { m.TasksAssignedTotal.Inc() }

// TaskCompleted implements dispatch.MetricsRecorder.
func (m *Metrics) TaskCompleted() { m.TasksCompletedTotal.Inc() }

// TaskFailed implements dispatch.MetricsRecorder.
func (m *Metrics) TaskFailed() { m.TasksFailedTotal.Inc() }

// TaskRequeued implements dispatch.MetricsRecorder.
func (m *Metrics) TaskRequeued() { m.TasksRequeuedTotal.Inc() }

// WorkerRegistered implements dispatch.MetricsRecorder.
func (m *Metrics) WorkerRegistered() {
	m.WorkersRegisteredTotal.Inc()
	m.WorkersActive.Inc()
}

// WorkerDead implements dispatch.MetricsRecorder.
func (m *Metrics) WorkerDead() {
	m.WorkersDeadTotal.Inc()
	m.WorkersActive.Dec()
}

// PendingQueueDepth implements dispatch.MetricsRecorder.
func (m *Metrics) PendingQueueDepth(n int) {
	m.PendingQueueGauge.Set(float64(n))
}

// JobStarted implements dispatch.MetricsRecorder.
func (m *Metrics) JobStarted() { m.JobsActive.Inc() }

// JobFinished implements dispatch.MetricsRecorder.
func (m *Metrics) JobFinished() { m.JobsActive.Dec() }

// RecordJobOutcome implements dispatch.MetricsRecorder. It records a
// terminal job disposition and its duration.
func (m *Metrics) RecordJobOutcome(outcome string, durationSeconds float64) {
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(durationSeconds)
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
