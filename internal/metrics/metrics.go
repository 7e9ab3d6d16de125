// Package metrics exposes Prometheus instrumentation for the reservation
// service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reservationOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_operations_total",
			Help: "Total reservation operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	waitlistPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_promotions_total",
			Help: "Total waitlist promotion attempts by outcome",
		},
		[]string{"outcome"},
	)

	ledgerWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capacity_ledger_duration_seconds",
			Help:    "Time spent in capacity ledger mutations, lock wait included",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Recorder records reservation outcomes into the package metrics.
type Recorder struct{}

// NewRecorder returns a Recorder backed by the default registry.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ObserveOperation counts one reservation operation.
func (Recorder) ObserveOperation(operation, outcome string) {
	reservationOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveLedgerWait records how long a ledger mutation took.
func (Recorder) ObserveLedgerWait(operation string, d time.Duration) {
	ledgerWait.WithLabelValues(operation).Observe(d.Seconds())
}

// ObservePromotion counts one waitlist promotion attempt.
func (Recorder) ObservePromotion(outcome string) {
	waitlistPromotions.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
