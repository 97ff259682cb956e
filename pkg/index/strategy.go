package index

import (
	"fmt"
	"time"
)

// Thresholds drive strategy selection. They are read once at start and never change.
type Thresholds struct {
	// SmallCorpus is the vector count below which sequential scan is used.
	SmallCorpus int

	// LargeCorpus is the vector count at which clustering becomes eligible.
	LargeCorpus int

	// LatencyCeiling is the p95 search latency considered acceptable.
	LatencyCeiling time.Duration

	// GrowthFraction is the relative growth over the built size that forces a rebuild.
	GrowthFraction float64

	// HysteresisWindows is how many consecutive evaluation windows must breach
	// LatencyCeiling before latency alone triggers a rebuild.
	HysteresisWindows int
}

// DefaultThresholds returns the defaults used when a field is zero.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SmallCorpus:       1000,
		LargeCorpus:       100000,
		LatencyCeiling:    50 * time.Millisecond,
		GrowthFraction:    0.10,
		HysteresisWindows: 2,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.SmallCorpus <= 0 {
		t.SmallCorpus = d.SmallCorpus
	}
	if t.LargeCorpus <= t.SmallCorpus {
		t.LargeCorpus = d.LargeCorpus
		if t.LargeCorpus <= t.SmallCorpus {
			t.LargeCorpus = t.SmallCorpus * 100
		}
	}
	if t.LatencyCeiling <= 0 {
		t.LatencyCeiling = d.LatencyCeiling
	}
	if t.GrowthFraction <= 0 {
		t.GrowthFraction = d.GrowthFraction
	}
	if t.HysteresisWindows <= 0 {
		t.HysteresisWindows = d.HysteresisWindows
	}
	return t
}

// Observation is the input to one strategy evaluation.
type Observation struct {
	// CorpusSize is the number of memories that have a vector.
	CorpusSize int

	// IndexedSize is the number of vectors in the currently built index.
	IndexedSize int

	// Active is the strategy currently serving queries.
	Active Strategy

	// P95Latency is the search latency observed over the last window.
	P95Latency time.Duration

	// LatencyBreaches is the breach streak returned by the previous Decision.
	LatencyBreaches int
}

// Decision is the output of Selector.Evaluate.
type Decision struct {
	// Strategy is the recommended strategy. It never ranks below Observation.Active.
	Strategy Strategy

	// RebuildNow is set when an index should be (re)built immediately.
	RebuildNow bool

	// LatencyBreaches is the updated breach streak to pass to the next evaluation.
	LatencyBreaches int

	// Reason explains the decision for logs.
	Reason string
}

// Selector picks an index strategy. Evaluate is a pure function of its input.
type Selector struct {
	t Thresholds
}

// NewSelector creates a Selector, filling zero thresholds with defaults.
func NewSelector(t Thresholds) *Selector {
	return &Selector{t: t.withDefaults()}
}

// Thresholds returns the effective thresholds.
func (s *Selector) Thresholds() Thresholds {
	return s.t
}

// Evaluate recommends a strategy for obs.
//
// Size policy, first match wins: below SmallCorpus use none, below LargeCorpus
// use the graph, otherwise clustering unless the graph is active and latency is
// not persistently over the ceiling. The result never ranks below obs.Active.
func (s *Selector) Evaluate(obs Observation) Decision {
	if obs.Active == "" {
		obs.Active = StrategyNone
	}
	breaches := 0
	if obs.P95Latency > s.t.LatencyCeiling {
		breaches = obs.LatencyBreaches + 1
	}
	latencyPersistent := breaches >= s.t.HysteresisWindows

	var target Strategy
	var reason string
	switch n := obs.CorpusSize; {
	case n < s.t.SmallCorpus:
		target, reason = StrategyNone, fmt.Sprintf("corpus %d below small threshold %d", n, s.t.SmallCorpus)
	case n < s.t.LargeCorpus:
		target, reason = StrategyGraph, fmt.Sprintf("corpus %d below large threshold %d", n, s.t.LargeCorpus)
	case obs.Active == StrategyGraph && !latencyPersistent:
		target, reason = StrategyGraph, fmt.Sprintf("corpus %d is large but graph latency is within ceiling", n)
	default:
		target, reason = StrategyClusters, fmt.Sprintf("corpus %d at or above large threshold %d", n, s.t.LargeCorpus)
	}

	if target.rank() < obs.Active.rank() {
		target = obs.Active
		reason = fmt.Sprintf("keeping %s: strategies never downgrade automatically", obs.Active)
	}

	d := Decision{Strategy: target, LatencyBreaches: breaches, Reason: reason}
	switch {
	case target != obs.Active:
		d.RebuildNow = true
		d.Reason = fmt.Sprintf("switch %s -> %s: %s", obs.Active, target, reason)
	case target == StrategyNone:
	case s.grown(obs):
		d.RebuildNow = true
		d.Reason = fmt.Sprintf("corpus grew from %d to %d", obs.IndexedSize, obs.CorpusSize)
	case latencyPersistent:
		d.RebuildNow = true
		d.Reason = fmt.Sprintf("p95 %s over ceiling %s for %d windows", obs.P95Latency, s.t.LatencyCeiling, breaches)
	}
	if d.RebuildNow {
		d.LatencyBreaches = 0
	}
	return d
}

func (s *Selector) grown(obs Observation) bool {
	delta := obs.CorpusSize - obs.IndexedSize
	if delta <= 0 {
		return false
	}
	return float64(delta) > s.t.GrowthFraction*float64(obs.IndexedSize)
}
