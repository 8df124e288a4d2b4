package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.TermLookupsTotal.WithLabelValues("calls", "resolved").Add(3)
	m.BatchesTotal.WithLabelValues("ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	var lookups float64
	for _, mf := range families {
		if mf.GetName() == "cusearch_search_term_lookups_total" {
			for _, metric := range mf.GetMetric() {
				lookups += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, lookups)

	// a second registry must accept a second set of collectors
	assert.NotPanics(t, func() { NewWithRegistry(prometheus.NewRegistry()) })
}

func TestMetricNamesAreNamespaced(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	m.OpenIndexes.Set(2)
	m.CacheMissesTotal.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["cusearch_index_open"])
	assert.True(t, names["cusearch_cache_misses_total"])
}
