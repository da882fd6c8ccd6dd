package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the registry API.
type Metrics struct {
	SubmissionsTotal *prometheus.CounterVec
	FaultsRecorded   prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimreg_submissions_total",
			Help: "Bundle submissions by outcome (committed, duplicate, rejected).",
		}, []string{"outcome"}),
		FaultsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "claimreg_faults_recorded_total",
			Help: "Consistency faults appended by reconciler sweeps.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claimreg_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}
