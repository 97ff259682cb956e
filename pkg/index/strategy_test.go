package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelector_SizePolicy(t *testing.T) {
	s := NewSelector(Thresholds{})

	tests := []struct {
		name    string
		obs     Observation
		want    Strategy
		rebuild bool
	}{
		{"tiny corpus", Observation{CorpusSize: 500, Active: StrategyNone}, StrategyNone, false},
		{"crosses small threshold", Observation{CorpusSize: 1100, Active: StrategyNone}, StrategyGraph, true},
		{"mid corpus already graph", Observation{CorpusSize: 5000, IndexedSize: 5000, Active: StrategyGraph}, StrategyGraph, false},
		{"large corpus from none", Observation{CorpusSize: 200000, Active: StrategyNone}, StrategyClusters, true},
		{"large corpus graph fast", Observation{CorpusSize: 200000, IndexedSize: 199000, Active: StrategyGraph, P95Latency: time.Millisecond}, StrategyGraph, false},
		{"large corpus clusters", Observation{CorpusSize: 200000, IndexedSize: 200000, Active: StrategyClusters}, StrategyClusters, false},
		{"zero active treated as none", Observation{CorpusSize: 10}, StrategyNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.Evaluate(tt.obs)
			assert.Equal(t, tt.want, d.Strategy)
			assert.Equal(t, tt.rebuild, d.RebuildNow, d.Reason)
		})
	}
}

func TestSelector_NeverDowngrades(t *testing.T) {
	s := NewSelector(Thresholds{})

	for _, active := range []Strategy{StrategyNone, StrategyGraph, StrategyClusters} {
		for _, n := range []int{0, 10, 999, 1000, 50000, 100000, 1000000} {
			d := s.Evaluate(Observation{CorpusSize: n, IndexedSize: n, Active: active})
			assert.GreaterOrEqual(t, d.Strategy.rank(), active.rank(), "active=%s n=%d", active, n)
		}
	}

	d := s.Evaluate(Observation{CorpusSize: 10, IndexedSize: 2000, Active: StrategyGraph})
	assert.Equal(t, StrategyGraph, d.Strategy)
	assert.False(t, d.RebuildNow)
}

func TestSelector_Growth(t *testing.T) {
	s := NewSelector(Thresholds{GrowthFraction: 0.1})

	d := s.Evaluate(Observation{CorpusSize: 1100, IndexedSize: 1000, Active: StrategyGraph})
	assert.False(t, d.RebuildNow, "exactly 10% is not more than 10%")

	d = s.Evaluate(Observation{CorpusSize: 1101, IndexedSize: 1000, Active: StrategyGraph})
	assert.True(t, d.RebuildNow)
	assert.Equal(t, StrategyGraph, d.Strategy)

	d = s.Evaluate(Observation{CorpusSize: 5, IndexedSize: 0, Active: StrategyNone})
	assert.False(t, d.RebuildNow, "sequential scan never needs a rebuild")
}

func TestSelector_LatencyHysteresis(t *testing.T) {
	s := NewSelector(Thresholds{LatencyCeiling: 10 * time.Millisecond, HysteresisWindows: 2})
	obs := Observation{CorpusSize: 5000, IndexedSize: 5000, Active: StrategyGraph, P95Latency: 20 * time.Millisecond}

	d := s.Evaluate(obs)
	assert.False(t, d.RebuildNow)
	assert.Equal(t, 1, d.LatencyBreaches)

	obs.LatencyBreaches = d.LatencyBreaches
	d = s.Evaluate(obs)
	assert.True(t, d.RebuildNow)
	assert.Equal(t, 0, d.LatencyBreaches)

	// A good window resets the streak.
	d = s.Evaluate(Observation{CorpusSize: 5000, IndexedSize: 5000, Active: StrategyGraph, LatencyBreaches: 1})
	assert.False(t, d.RebuildNow)
	assert.Equal(t, 0, d.LatencyBreaches)
}

func TestSelector_LargeGraphUpgradesOnPersistentLatency(t *testing.T) {
	s := NewSelector(Thresholds{LatencyCeiling: 10 * time.Millisecond, HysteresisWindows: 2})
	obs := Observation{CorpusSize: 150000, IndexedSize: 150000, Active: StrategyGraph, P95Latency: time.Second}

	d := s.Evaluate(obs)
	assert.Equal(t, StrategyGraph, d.Strategy)
	assert.False(t, d.RebuildNow)

	obs.LatencyBreaches = d.LatencyBreaches
	d = s.Evaluate(obs)
	assert.Equal(t, StrategyClusters, d.Strategy)
	assert.True(t, d.RebuildNow)
}

func TestSelector_Deterministic(t *testing.T) {
	s := NewSelector(Thresholds{})
	obs := Observation{CorpusSize: 3000, IndexedSize: 1000, Active: StrategyGraph, P95Latency: time.Second, LatencyBreaches: 1}
	assert.Equal(t, s.Evaluate(obs), s.Evaluate(obs))
}
