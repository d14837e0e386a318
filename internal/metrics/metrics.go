// Package metrics exposes the Prometheus collectors of the process.
// Collectors register on the default registry at init; the HTTP server
// mounts Handler at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/recarr/internal/models"
)

const namespace = "recarr"

var (
	// TasksTotal counts finished task attempts by queue, type, and
	// outcome (completed, failed, cancelled, retry).
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "tasks_total",
		Help:      "Finished task attempts by queue, type, and outcome.",
	}, []string{"queue", "type", "outcome"})

	// TaskDuration observes attempt durations by queue and type.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "task_duration_seconds",
		Help:      "Task attempt duration by queue and type.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"queue", "type"})

	// QueueDepth tracks runnable tasks per queue, sampled by the
	// dispatcher janitor.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Runnable tasks per queue.",
	}, []string{"queue"})

	// PipelinesLaunched counts submitted pipeline chains.
	PipelinesLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "launched_total",
		Help:      "Pipeline chains submitted.",
	})

	// StageFailures counts stage failures by stage name.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Stage failures by stage.",
	}, []string{"stage"})

	// UploadsTotal counts finished upload attempts by platform and
	// outcome.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "uploads_total",
		Help:      "Finished upload attempts by platform and outcome.",
	}, []string{"platform", "outcome"})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one settled task attempt. A task scheduled for
// retry counts under the "retry" outcome; terminal statuses count under
// their status name.
func ObserveTask(task *models.Task) {
	outcome := string(task.Status)
	if task.Status == models.TaskStatusScheduled {
		outcome = "retry"
	}
	TasksTotal.WithLabelValues(string(task.Queue), string(task.Type), outcome).Inc()
	if task.DurationMs > 0 {
		TaskDuration.WithLabelValues(string(task.Queue), string(task.Type)).
			Observe(float64(task.DurationMs) / 1000)
	}

	if task.Type == models.TaskUpload && task.IsFinished() {
		platform, _ := task.Payload["platform"].(string)
		if platform != "" {
			UploadsTotal.WithLabelValues(platform, string(task.Status)).Inc()
		}
	}
}
