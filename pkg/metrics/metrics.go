package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doctriage_jobs_submitted_total",
		Help: "Total number of jobs admitted into the pipeline",
	})

	JobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctriage_jobs_rejected_total",
		Help: "Total number of submissions rejected at admission",
	}, []string{"reason"}) // reason: validation, overloaded, queue_unavailable

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctriage_jobs_processed_total",
		Help: "Total number of jobs that reached a terminal status",
	}, []string{"status"}) // status: completed, failed

	JobsRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctriage_jobs_requeued_total",
		Help: "Total number of job redeliveries",
	}, []string{"cause"}) // cause: processor_failure, stuck_sweep

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doctriage_job_duration_seconds",
		Help:    "Per-job processing duration as observed by workers",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doctriage_queue_depth",
		Help: "Number of pending job descriptors in the queue",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doctriage_active_workers",
		Help: "Number of workers with a fresh heartbeat",
	})

	TargetWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doctriage_target_workers",
		Help: "Worker count most recently requested from the scaling backend",
	})

	ScalerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctriage_scaler_decisions_total",
		Help: "Scaling actions issued by the controller",
	}, []string{"direction"}) // direction: up, down

	SweeperRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doctriage_sweeper_requeued_total",
		Help: "Stuck jobs reclaimed and requeued by the sweep",
	})

	SweeperFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doctriage_sweeper_failed_total",
		Help: "Stuck jobs failed terminally by the sweep after exhausting attempts",
	})
)
