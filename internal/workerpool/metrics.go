package workerpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linop_workerpool_workers",
		Help: "Current number of running pool workers across all pools",
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linop_workerpool_tasks_total",
		Help: "Units of work completed by Map, by outcome",
	}, []string{"status"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linop_workerpool_task_duration_seconds",
		Help:    "Time spent executing a single unit of work",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)
