package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slotbot"

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Poll cycles by result (ok, aborted)",
		},
		[]string{"result"},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a poll cycle",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	ticksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_skipped_total",
			Help:      "Ticks dropped because a cycle was still running",
		},
	)

	groupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "groups_total",
			Help:      "Subscription groups processed by result (ok, failed)",
		},
		[]string{"result"},
	)

	activeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active_subscriptions",
			Help:      "Active subscriptions seen by the last cycle",
		},
	)
)

// recordCycle records a finished cycle.
func recordCycle(r CycleReport) {
	result := "ok"
	if r.Err != nil {
		result = "aborted"
	}
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDuration.Observe(r.Duration.Seconds())
	activeSubscriptions.Set(float64(r.Subscriptions))
	groupsTotal.WithLabelValues("ok").Add(float64(r.Groups - r.FailedGroups))
	groupsTotal.WithLabelValues("failed").Add(float64(r.FailedGroups))
}

func recordSkippedTick() { ticksSkipped.Inc() }
