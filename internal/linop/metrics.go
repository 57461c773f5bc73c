package linop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// applyDuration tracks time spent in BlockDiag evaluations
	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linop_blockdiag_apply_duration_seconds",
		Help:    "Time spent in block-diagonal forward/adjoint evaluations",
		Buckets: []float64{0.00001, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 1},
	}, []string{"mode", "exec"})

	appliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linop_blockdiag_applies_total",
		Help: "Total number of block-diagonal evaluations, by outcome",
	}, []string{"mode", "exec", "status"})
)
