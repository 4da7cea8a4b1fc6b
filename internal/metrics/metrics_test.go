package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReload("success", time.Now())
	m.ObserveReload("empty_result", time.Now())
	m.ObserveReload("success", time.Now())
	m.SetRecordsPublished(42)
	m.IncLookup(LookupFound)
	m.IncLookup(LookupInvalid)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReloadsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReloadsTotal.WithLabelValues("empty_result")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.RecordsPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues(LookupFound)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues(LookupNotFound)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReload("success", time.Now())
		m.SetRecordsPublished(1)
		m.IncLookup(LookupFound)
	})
}
