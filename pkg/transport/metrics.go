package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for transport exchanges.
var (
	transportRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "okquery_transport_requests_total",
		Help: "Total exchanges by host and outcome (status code, cache, network_error)",
	}, []string{"host", "status"})

	transportRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "okquery_transport_request_duration_seconds",
		Help:    "Exchange duration in seconds by host",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	transportInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "okquery_transport_inflight",
		Help: "Exchanges submitted and not yet completed",
	})
)
