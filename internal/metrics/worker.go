package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	workerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Total number of tasks processed by type and status",
		},
		[]string{"task_type", "status"}, // status: completed, failed
	)

	workerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Duration of task processing by type",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"task_type"},
	)

	workerTasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_active",
			Help:      "Number of currently active tasks by type",
		},
		[]string{"task_type"},
	)

	workerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "errors_total",
			Help:      "Total number of errors by task type and error type",
		},
		[]string{"task_type", "error_type"},
	)

	workerLastTaskTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "last_task_timestamp",
			Help:      "Timestamp of when worker last processed a task",
		},
	)
)

// WorkerMetrics provides methods to update worker-related metrics
type WorkerMetrics struct{}

func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{}
}

func (wm *WorkerMetrics) RecordTaskCompleted(taskType string, duration float64) {
	workerTasksTotal.WithLabelValues(taskType, "completed").Inc()
	workerTaskDuration.WithLabelValues(taskType).Observe(duration)
	workerLastTaskTimestamp.SetToCurrentTime()
}

func (wm *WorkerMetrics) RecordTaskFailed(taskType string, duration float64) {
	workerTasksTotal.WithLabelValues(taskType, "failed").Inc()
	workerTaskDuration.WithLabelValues(taskType).Observe(duration)
	workerLastTaskTimestamp.SetToCurrentTime()
}

func (wm *WorkerMetrics) RecordTaskStarted(taskType string) {
	workerTasksActive.WithLabelValues(taskType).Inc()
}

func (wm *WorkerMetrics) RecordTaskFinished(taskType string) {
	workerTasksActive.WithLabelValues(taskType).Dec()
}

func (wm *WorkerMetrics) RecordError(taskType, errorType string) {
	workerErrorsTotal.WithLabelValues(taskType, errorType).Inc()
}

// WithWorkerMetrics wraps a task handler with worker metrics collection
func WithWorkerMetrics(handler asynq.HandlerFunc, taskType string, metrics *WorkerMetrics) asynq.HandlerFunc {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		if metrics == nil {
			return handler.ProcessTask(ctx, task)
		}

		start := time.Now()
		metrics.RecordTaskStarted(taskType)
		defer metrics.RecordTaskFinished(taskType)

		err := handler.ProcessTask(ctx, task)
		duration := time.Since(start).Seconds()

		if err != nil {
			metrics.RecordTaskFailed(taskType, duration)
			metrics.RecordError(taskType, classifyError(err))
		} else {
			metrics.RecordTaskCompleted(taskType, duration)
		}
		return err
	})
}

func classifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, asynq.SkipRetry):
		return "invalid_payload"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "context_cancelled"
	default:
		return "unknown"
	}
}
