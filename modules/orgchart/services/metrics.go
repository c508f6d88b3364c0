package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgchart",
		Subsystem: "store",
		Name:      "mutations_total",
		Help:      "Total number of graph mutations broken down by operation and result.",
	}, []string{"op", "result"})

	storeRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgchart",
		Subsystem: "store",
		Name:      "rollbacks_total",
		Help:      "Total number of optimistic edits restored from snapshot.",
	}, []string{"op"})

	storeDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orgchart",
		Subsystem: "store",
		Name:      "reconcile_drift_total",
		Help:      "Total number of reconciliations where the server result differed from the optimistic graph.",
	}, []string{"op"})

	layoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orgchart",
		Subsystem: "layout",
		Name:      "duration_seconds",
		Help:      "Time spent building and laying out the graph.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"direction"})
)

func recordMutation(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case !IsRecoverable(err):
		result = "fatal"
	default:
		result = "error"
	}
	storeMutations.WithLabelValues(op, result).Inc()
}

func recordRollback(op string) {
	storeRollbacks.WithLabelValues(op).Inc()
}

func recordDrift(op string) {
	storeDrift.WithLabelValues(op).Inc()
}

func observeLayout(direction string, started time.Time) {
	layoutDuration.WithLabelValues(direction).Observe(time.Since(started).Seconds())
}
