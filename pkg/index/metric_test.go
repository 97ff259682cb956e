package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{
		"":              MetricCosine,
		"Cosine":        MetricCosine,
		"euclidean":     MetricL2,
		"l2":            MetricL2,
		"inner_product": MetricIP,
		"ip":            MetricIP,
	} {
		got, err := ParseMetric(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMetric("manhattan")
	assert.Error(t, err)
}

func TestMetric_Score(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}

	assert.InDelta(t, 1.0, MetricCosine.Score(MetricCosine.Distance(a, a)), 1e-12)
	assert.InDelta(t, 0.0, MetricCosine.Score(MetricCosine.Distance(a, b)), 1e-12)

	assert.InDelta(t, 1.0, MetricL2.Score(MetricL2.Distance(a, a)), 1e-12)
	assert.InDelta(t, 1/(1+1.4142135623730951), MetricL2.Score(MetricL2.Distance(a, b)), 1e-12)

	assert.InDelta(t, 1.0, MetricIP.Score(MetricIP.Distance(a, a)), 1e-12)
	assert.Less(t, MetricIP.Distance(a, a), MetricIP.Distance(a, b))

	assert.Equal(t, 1.0, MetricCosine.Distance([]float64{0, 0}, a))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("hnsw")
	require.NoError(t, err)
	assert.Equal(t, StrategyGraph, s)

	s, err = ParseStrategy("approximate-clustering")
	require.NoError(t, err)
	assert.Equal(t, StrategyClusters, s)

	_, err = ParseStrategy("btree")
	assert.Error(t, err)
}
