// Package metrics exposes Prometheus instrumentation for the registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	HookFailures     *prometheus.CounterVec
	PushesTotal      *prometheus.CounterVec
	PushDuration     prometheus.Histogram
	FeedImportsTotal prometheus.Counter
	FeedImportedDocs *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metaman_mutations_total",
			Help: "Document mutations by entity type and operation",
		}, []string{"type", "operation"}),
		MutationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metaman_mutation_duration_seconds",
			Help:    "Mutation latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		HookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metaman_hook_failures_total",
			Help: "Validation failures by hook name",
		}, []string{"hook"}),
		PushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metaman_pushes_total",
			Help: "Metadata pushes by outcome",
		}, []string{"status"}),
		PushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "metaman_push_duration_seconds",
			Help:    "End-to-end push latency",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		FeedImportsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "metaman_feed_imports_total",
			Help: "eduGAIN feed import runs",
		}),
		FeedImportedDocs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metaman_feed_documents_total",
			Help: "Feed import document outcomes",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveMutation(operation string, entityType string, start time.Time) {
	m.MutationsTotal.WithLabelValues(entityType, operation).Inc()
	m.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
