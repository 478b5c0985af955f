package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_jobs_finished_total",
			Help: "Finished audit jobs by terminal status.",
		},
		[]string{"status"},
	)

	uploadsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_uploads_rejected_total",
			Help: "Rejected submissions by reason.",
		},
		[]string{"reason"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_stage_duration_seconds",
			Help:    "Pipeline stage duration.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "success"},
	)
)

// MustRegister registers collectors with the default prometheus registry exactly once
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(jobsFinished, uploadsRejected, stageDuration)
	})
}

// JobFinished counts a job reaching a terminal status
func JobFinished(status string) {
	jobsFinished.WithLabelValues(norm(status)).Inc()
}

// UploadRejected counts a rejected submission
func UploadRejected(reason string) {
	uploadsRejected.WithLabelValues(norm(reason)).Inc()
}

// ObserveStage records one pipeline stage run
func ObserveStage(stage string, d time.Duration, success bool) {
	stageDuration.WithLabelValues(norm(stage), strconv.FormatBool(success)).Observe(d.Seconds())
}

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
