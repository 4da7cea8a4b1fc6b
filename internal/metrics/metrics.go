// Package metrics exposes Prometheus collectors for reloads and lookups.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes.
const (
	LookupFound    = "found"
	LookupNotFound = "not_found"
	LookupInvalid  = "invalid"
)

// Metrics tracks reload outcomes, dataset size, and lookup traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ReloadsTotal     *prometheus.CounterVec
	ReloadDuration   prometheus.Histogram
	RecordsPublished prometheus.Gauge
	LookupsTotal     *prometheus.CounterVec
}

// New registers all collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "viability_reloads_total",
			Help: "Reloads and clears by outcome (success or failure kind)",
		}, []string{"outcome"}),
		ReloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "viability_reload_duration_seconds",
			Help:    "Wall time of reloads, from start to publish or failure",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		RecordsPublished: f.NewGauge(prometheus.GaugeOpts{
			Name: "viability_records_published",
			Help: "Number of address records in the published dataset",
		}),
		LookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "viability_lookups_total",
			Help: "Viability lookups by result",
		}, []string{"result"}),
	}
}

// ObserveReload records a finished reload. Call with time.Now() taken at the start.
func (m *Metrics) ObserveReload(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.ReloadsTotal.WithLabelValues(outcome).Inc()
	m.ReloadDuration.Observe(time.Since(start).Seconds())
}

// SetRecordsPublished sets the published dataset size.
func (m *Metrics) SetRecordsPublished(n int) {
	if m == nil {
		return
	}
	m.RecordsPublished.Set(float64(n))
}

// IncLookup counts a lookup with the given result.
func (m *Metrics) IncLookup(result string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(result).Inc()
}
