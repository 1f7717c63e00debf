// Package metrics holds the Prometheus collectors of a loader run. The
// loader is a batch job, so the collectors are pushed to a Pushgateway when
// the run ends instead of being scraped.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const prometheusMetricNamespace = "billing_loader"

var providerLabels = []string{"provider"}

// Metrics is safe to use as a nil pointer, in which case nothing is
// recorded.
type Metrics struct {
	registry *prometheus.Registry

	manifestsCounter      *prometheus.CounterVec
	loadDurationHistogram *prometheus.HistogramVec
	rowsLoadedCounter     *prometheus.CounterVec
	rowsDeletedCounter    *prometheus.CounterVec
	lastSuccessGauge      *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		manifestsCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusMetricNamespace,
				Name:      "manifests_total",
				Help:      "Number of manifests processed, by outcome.",
			},
			[]string{"provider", "outcome"},
		),
		loadDurationHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prometheusMetricNamespace,
				Name:      "load_duration_seconds",
				Help:      "Duration of warehouse load jobs.",
				Buckets:   []float64{10.0, 30.0, 60.0, 300.0, 900.0, 1800.0},
			},
			providerLabels,
		),
		rowsLoadedCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusMetricNamespace,
				Name:      "rows_loaded_total",
				Help:      "Number of rows written by load jobs.",
			},
			providerLabels,
		),
		rowsDeletedCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusMetricNamespace,
				Name:      "rows_deleted_total",
				Help:      "Number of rows removed when replacing partitions.",
			},
			providerLabels,
		),
		lastSuccessGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: prometheusMetricNamespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last run that finished without failed manifests.",
			},
			providerLabels,
		),
	}
	m.registry.MustRegister(
		m.manifestsCounter,
		m.loadDurationHistogram,
		m.rowsLoadedCounter,
		m.rowsDeletedCounter,
		m.lastSuccessGauge,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ManifestProcessed(provider, outcome string) {
	if m == nil {
		return
	}
	m.manifestsCounter.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) LoadFinished(provider string, d time.Duration, rows int64) {
	if m == nil {
		return
	}
	m.loadDurationHistogram.WithLabelValues(provider).Observe(d.Seconds())
	m.rowsLoadedCounter.WithLabelValues(provider).Add(float64(rows))
}

func (m *Metrics) RowsDeleted(provider string, rows int64) {
	if m == nil {
		return
	}
	m.rowsDeletedCounter.WithLabelValues(provider).Add(float64(rows))
}

func (m *Metrics) RunSucceeded(provider string, at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessGauge.WithLabelValues(provider).Set(float64(at.Unix()))
}

// Push sends every collector to the Pushgateway at url under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil {
		return nil
	}
	return push.New(url, job).Gatherer(m.registry).PushContext(ctx)
}
