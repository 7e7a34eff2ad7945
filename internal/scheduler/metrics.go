package scheduler

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/reconcile"
)

var (
	passDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of convergence passes in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "passes_total",
			Help:      "Total number of convergence passes by result",
		},
		[]string{"result"},
	)

	repositoryOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "repository_outcomes_total",
			Help:      "Total number of per-repository outcomes",
		},
		[]string{"outcome"},
	)

	repositoryConvergedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "repository_converged",
			Help:      "Whether the repository matched its declaration after the last pass (1 = converged)",
		},
		[]string{"source", "repository"},
	)

	discoveryEndpointsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "discovery_endpoints",
			Help:      "Number of distinct endpoints listed in the last pass",
		},
	)

	lastPassTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix timestamp when the last pass finished",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		passDurationHistogram,
		passesTotal,
		repositoryOutcomesTotal,
		repositoryConvergedGauge,
		discoveryEndpointsGauge,
		lastPassTimestamp,
	)
}

// Pass results recorded by MetricsReporter.
const (
	PassResultSuccess = "success"
	PassResultPartial = "partial"
	PassResultError   = "error"
)

// MetricsReporter records pass metrics on the controller-runtime registry.
type MetricsReporter struct{}

// Report implements Reporter.
func (MetricsReporter) Report(_ context.Context, report *PassReport) {
	passDurationHistogram.Observe(report.Finished.Sub(report.Started).Seconds())
	lastPassTimestamp.Set(float64(report.Finished.Unix()))
	passesTotal.WithLabelValues(PassResult(report)).Inc()

	if report.Err != nil {
		return
	}

	discoveryEndpointsGauge.Set(float64(report.Profiles))
	for _, e := range report.Entries {
		if e.Outcome == "" {
			continue
		}
		repositoryOutcomesTotal.WithLabelValues(string(e.Outcome)).Inc()

		converged := 0.0
		if e.Outcome != reconcile.OutcomeFailed {
			converged = 1
		}
		repositoryConvergedGauge.WithLabelValues(e.Source, e.Repository).Set(converged)
	}
}

// PassResult classifies a pass for the passes_total metric.
func PassResult(report *PassReport) string {
	switch {
	case report.Err != nil:
		return PassResultError
	case report.Failed() > 0:
		return PassResultPartial
	default:
		return PassResultSuccess
	}
}
