// Package metrics wires the master and worker into Prometheus exposition,
// grounded on cuemby/warren and hrygo/divinesense, both of which expose
// prometheus/client_golang collectors from their control planes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Master counters/gauges.
var (
	JobsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_master_jobs_admitted_total",
		Help: "Jobs accepted by the master.",
	})
	JobsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_master_jobs_succeeded_total",
		Help: "Jobs that reached SUCCEEDED.",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_master_jobs_failed_total",
		Help: "Jobs that reached FAILED.",
	})
	TasksDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_master_tasks_dispatched_total",
		Help: "Tasks handed out in heartbeat responses.",
	})
	TasksSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_master_tasks_succeeded_total",
		Help: "Tasks reported SUCCEEDED.",
	})
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_master_tasks_failed_total",
		Help: "Tasks reported FAILED (including retried attempts).",
	})
	WorkersDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_master_workers_dead_total",
		Help: "Workers declared dead by the liveness check.",
	})
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mini_spark_master_active_workers",
		Help: "Workers currently considered alive.",
	})
)

// Worker counters.
var (
	ShuffleBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_worker_shuffle_bytes_written_total",
		Help: "Bytes written to shuffle bucket files.",
	})
	ShuffleBytesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_worker_shuffle_bytes_fetched_total",
		Help: "Bytes fetched from remote shuffle buckets.",
	})
	SpillEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_worker_spill_events_total",
		Help: "Times an in-memory aggregation map was flushed to disk.",
	})
	TasksExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mini_spark_worker_tasks_executed_total",
		Help: "Tasks this worker has executed, success or failure.",
	})
)
