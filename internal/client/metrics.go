package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linop_remote_requests_total",
		Help: "Remote operator applications, by mode and outcome",
	}, []string{"mode", "status"})

	remoteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linop_remote_request_duration_seconds",
		Help:    "Round trip time of remote operator applications",
		Buckets: prometheus.DefBuckets,
	})

	exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linop_flight_exchanges_total",
		Help: "DoExchange calls served, by mode and outcome",
	}, []string{"mode", "status"})

	// breakerState is the last state any breaker moved to (0 closed, 1 open, 2 half-open).
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linop_remote_breaker_state",
		Help: "Last circuit breaker state transition (0 closed, 1 open, 2 half-open)",
	})
)
