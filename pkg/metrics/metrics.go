// Package metrics exposes Prometheus instrumentation for archiver jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job status label values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_jobs_total",
			Help: "Total number of backup, restore and cleanup jobs",
		},
		[]string{"kind", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archiver_job_duration_seconds",
			Help:    "Duration of jobs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"kind"},
	)

	ArtifactBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archiver_artifact_size_bytes",
			Help: "Size of the last produced artifact",
		},
		[]string{"kind"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_uploads_total",
			Help: "Total number of artifact uploads",
		},
		[]string{"backend", "status"},
	)

	RetentionRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_retention_removed_total",
			Help: "Total number of artifacts removed by the retention sweeper",
		},
	)

	SchedulerSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_scheduler_skipped_total",
			Help: "Scheduled firings skipped because the previous run was still in progress",
		},
	)
)

func status(err error) string {
	if err != nil {
		return StatusFailed
	}
	return StatusSuccess
}

// RecordJob records the outcome and duration of a job.
func RecordJob(kind string, duration time.Duration, err error) {
	JobsTotal.WithLabelValues(kind, status(err)).Inc()
	JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordArtifact records the size of a produced artifact.
func RecordArtifact(kind string, size int64) {
	ArtifactBytes.WithLabelValues(kind).Set(float64(size))
}

// RecordUpload records the outcome of one upload.
func RecordUpload(backend string, err error) {
	UploadsTotal.WithLabelValues(backend, status(err)).Inc()
}

// RecordRetention records removed artifacts.
func RecordRetention(removed int) {
	RetentionRemoved.Add(float64(removed))
}

// RecordSchedulerSkip records a skipped scheduled firing.
func RecordSchedulerSkip() {
	SchedulerSkipped.Inc()
}
