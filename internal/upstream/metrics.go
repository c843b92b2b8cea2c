package upstream

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slotbot"

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream HTTP requests by endpoint and status code (0 for transport errors)",
		},
		[]string{"endpoint", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	rotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "credential_rotations_total",
			Help:      "Credential pool rotations",
		},
	)

	offersFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "offers_fetched_total",
			Help:      "Offers decoded from coefficient snapshots",
		},
	)

	offersSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "offers_skipped_total",
			Help:      "Snapshot records dropped for an unknown category, location or date",
		},
	)
)

// recordRequest records one upstream round trip.
func recordRequest(endpoint string, code int, d time.Duration) {
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}
