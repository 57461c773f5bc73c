package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linop_device_pool_hits_total",
		Help: "Total number of scratch vectors served from the pool",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linop_device_pool_misses_total",
		Help: "Total number of scratch vector pool misses (allocations)",
	})
)
