package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "slotbot",
		Subsystem: "dedup",
		Name:      "checks_total",
		Help:      "Dedup lookups by outcome (send, suppressed, error)",
	},
	[]string{"result"},
)

func recordCheck(result string) {
	checksTotal.WithLabelValues(result).Inc()
}
