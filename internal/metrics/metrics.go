// Package metrics registers the Prometheus instruments for the admission
// path and the background jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"risk-manager/internal/types"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "risk",
		Name:      "decisions_total",
		Help:      "Admission decisions by outcome",
	}, []string{"outcome"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "risk",
		Name:      "rejections_total",
		Help:      "Rejections by failing rule",
	}, []string{"rule"})

	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "risk",
		Name:      "evaluation_duration_seconds",
		Help:      "CheckSignal end-to-end latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	modeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "risk",
		Name:      "operating_mode",
		Help:      "Current operating mode (1 for the active mode)",
	}, []string{"mode"})

	ReconcileDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "risk",
		Name:      "reconcile_discrepancies_total",
		Help:      "Position discrepancies corrected by reconciliation",
	})

	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "risk",
		Name:      "job_failures_total",
		Help:      "Background job failures by job name",
	}, []string{"job"})
)

// SetMode flips the operating-mode gauge so exactly one series reads 1.
func SetMode(mode types.Mode) {
	for _, m := range []types.Mode{types.ModeNormal, types.ModeDefensive, types.ModeLockdown} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		modeGauge.WithLabelValues(string(m)).Set(v)
	}
}
