// Package metrics holds the Prometheus collectors shared by the publishing pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeBusy     = "busy"
	OutcomeFailed   = "failed"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postdeck_operations_total",
			Help: "Publishing operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	operationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postdeck_operations_in_flight",
			Help: "Publishing operations currently holding a post",
		},
	)

	publishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postdeck_publish_duration_seconds",
			Help:    "Latency of calls to the publishing API",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	storeRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postdeck_store_write_retries_total",
			Help: "Store writes retried after a transient failure",
		},
	)
)

func ObserveOperation(op, outcome string) {
	operationsTotal.WithLabelValues(op, outcome).Inc()
}

func OperationStarted()  { operationsInFlight.Inc() }
func OperationFinished() { operationsInFlight.Dec() }

func ObservePublish(seconds float64) {
	publishDuration.Observe(seconds)
}

func StoreRetried() {
	storeRetries.Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
