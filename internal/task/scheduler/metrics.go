package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK      = "ok"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbot",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled runs by schedule and result (ok, error, skipped)",
		},
		[]string{"schedule", "result"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slotbot",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed scheduled runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"schedule"},
	)
)

func recordRun(schedule, result string, d time.Duration) {
	runsTotal.WithLabelValues(schedule, result).Inc()
	if result != resultSkipped {
		runDuration.WithLabelValues(schedule).Observe(d.Seconds())
	}
}
