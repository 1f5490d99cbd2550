// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rideledger"

// Metrics bundles the service and HTTP collectors registered on one registry.
type Metrics struct {
	RideOperations   *prometheus.CounterVec
	BondLockedTotal  prometheus.Counter
	BondRefundTotal  prometheus.Counter
	OpenRides        prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPErrors       *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	EventPublishErrs prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RideOperations: f.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ride_operations_total", Help: "Ride operations by outcome"},
			[]string{"operation", "result"},
		),
		BondLockedTotal: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bond_locked_total", Help: "Total storage bond locked"}),
		BondRefundTotal: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bond_refunded_total", Help: "Total storage bond refunded on close"}),
		OpenRides:       f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "open_rides", Help: "Ride records created and not yet closed by this process"}),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
			[]string{"method", "path", "status"},
		),
		HTTPErrors: f.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_request_errors_total", Help: "Total HTTP request errors"},
			[]string{"method", "path", "status", "error_type"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distribution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		EventPublishErrs: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "event_publish_errors_total", Help: "Lifecycle events that failed to publish"}),
	}
}

// ObserveOperation counts one ride operation. A nil receiver is a no-op.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RideOperations.WithLabelValues(operation, result).Inc()
}
