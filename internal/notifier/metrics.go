package notifier

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbot",
			Subsystem: "notifier",
			Name:      "dispatch_total",
			Help:      "Alert dispatches by status (sent, failed, blocked)",
		},
		[]string{"status"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slotbot",
			Subsystem: "notifier",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver one alert including retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	deactivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotbot",
			Subsystem: "notifier",
			Name:      "one_shot_deactivations_total",
			Help:      "One-shot subscriptions retired after delivery",
		},
	)
)

// recordDispatch records a dispatch outcome and its duration.
func recordDispatch(status string, d time.Duration) {
	dispatchTotal.WithLabelValues(status).Inc()
	sendDuration.Observe(d.Seconds())
}
