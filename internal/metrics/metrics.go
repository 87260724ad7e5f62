// Package metrics holds the node's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EntriesStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "node_entries_stored_total",
		Help: "Total number of entries accepted into the log store.",
	})

	EntriesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "node_entries_rejected_total",
		Help: "Total number of entries rejected by ingest, labeled by error kind.",
	}, []string{"reason"})

	TasksEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "node_tasks_enqueued_total",
		Help: "Total number of materializer tasks enqueued, labeled by worker name.",
	}, []string{"worker"})

	TasksSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "node_tasks_succeeded_total",
		Help: "Total number of materializer tasks that completed successfully.",
	}, []string{"worker"})

	TasksFailedRetryable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "node_tasks_failed_retryable_total",
		Help: "Total number of materializer tasks that failed retryably.",
	}, []string{"worker"})

	TasksFailedCritical = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "node_tasks_failed_critical_total",
		Help: "Total number of materializer tasks that failed critically.",
	}, []string{"worker"})

	TaskQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "node_task_queue_depth",
		Help: "Current number of queued tasks per worker pool.",
	}, []string{"worker"})

	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "node_task_duration_seconds",
		Help:    "Materializer task execution duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})

	ReplicationSessionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "node_replication_sessions_active",
		Help: "Number of active replication sessions, labeled by mode.",
	}, []string{"mode"})

	ReplicationEntriesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "node_replication_entries_sent_total",
		Help: "Total number of entries sent to peers during replication.",
	})

	ReplicationEntriesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "node_replication_entries_received_total",
		Help: "Total number of entries received from peers during replication.",
	})

	SchemasRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "node_schemas_registered",
		Help: "Number of schemas currently known to the registry.",
	})
)

// Timer measures elapsed wall-clock duration for a histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on the given observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(time.Since(t.start).Seconds())
}

func init() {
	prometheus.MustRegister(
		EntriesStored,
		EntriesRejected,
		TasksEnqueued,
		TasksSucceeded,
		TasksFailedRetryable,
		TasksFailedCritical,
		TaskQueueDepth,
		TaskDuration,
		ReplicationSessionsActive,
		ReplicationEntriesSent,
		ReplicationEntriesReceived,
		SchemasRegistered,
	)
}
