package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/indextrack/internal/record"
)

// Metrics provides observability for the change tracker.
// Tracks observation outcomes, deletions, store failures, and per-record
// latency of the index command.
type Metrics struct {
	Observations   *prometheus.CounterVec
	Deletions      *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	RecordDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance registered on its own registry, so several
// runs in one process (tests) never collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Observations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indextrack_observations_total",
			Help: "Total number of record observations by outcome",
		}, []string{"namespace", "outcome"}),
		Deletions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indextrack_deletions_total",
			Help: "Total number of records newly marked deleted",
		}, []string{"namespace"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indextrack_store_errors_total",
			Help: "Total number of store failures by tracker operation",
		}, []string{"op"}),
		RecordDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "indextrack_record_duration_seconds",
			Help:    "Duration of one record through the index command",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		registry: reg,
	}
}

// Observed records one observation outcome.
func (m *Metrics) Observed(namespace string, outcome record.Outcome) {
	m.Observations.WithLabelValues(namespace, string(outcome)).Inc()
}

// Deleted records one record newly tombstoned.
func (m *Metrics) Deleted(namespace string) {
	m.Deletions.WithLabelValues(namespace).Inc()
}

// Failed records one store failure.
func (m *Metrics) Failed(op string) {
	m.StoreErrors.WithLabelValues(op).Inc()
}

// ObserveRecord records the duration of one record.
// Call with time.Now() at the start of the record.
func (m *Metrics) ObserveRecord(start time.Time) {
	m.RecordDuration.Observe(time.Since(start).Seconds())
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
