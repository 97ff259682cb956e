// Package index maintains the approximate-nearest-neighbour structures used for
// memory search and decides which one to run.
//
// Three variants exist: Flat (exhaustive scan), Graph (HNSW) and Clusters
// (IVF k-means). Selector picks a strategy from corpus size and observed
// latency; Manager owns the live index, rebuilds it off to the side and swaps
// it in atomically.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Strategy names an index variant.
type Strategy string

const (
	// StrategyNone serves every query by sequential scan.
	StrategyNone Strategy = "none"

	// StrategyGraph serves queries from an HNSW graph.
	StrategyGraph Strategy = "approximate-graph"

	// StrategyClusters serves queries from IVF clusters.
	StrategyClusters Strategy = "approximate-clustering"
)

// ParseStrategy accepts the canonical names and the short aliases hnsw / ivf.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", string(StrategyNone), "flat":
		return StrategyNone, nil
	case string(StrategyGraph), "hnsw":
		return StrategyGraph, nil
	case string(StrategyClusters), "ivf", "ivf_flat":
		return StrategyClusters, nil
	}
	return "", fmt.Errorf("unknown index strategy %q", s)
}

// rank orders strategies from lightest to heaviest.
func (s Strategy) rank() int {
	switch s {
	case StrategyGraph:
		return 1
	case StrategyClusters:
		return 2
	default:
		return 0
	}
}

// ErrIncrementalUnsupported is returned by Insert on variants that must be rebuilt to change.
var ErrIncrementalUnsupported = errors.New("index does not support incremental insert")

// Entry is an (id, vector) pair fed to an index build.
type Entry struct {
	ID     int64
	Vector []float64
}

// Hit is a single search result. Score is larger for closer vectors.
type Hit struct {
	ID       int64
	Distance float64
	Score    float64
}

// Index is the capability set shared by all variants.
type Index interface {
	// Strategy reports which variant this is.
	Strategy() Strategy

	// Insert adds or replaces the vector for id.
	Insert(id int64, vec []float64) error

	// Search returns up to k hits ordered from closest to farthest.
	Search(query []float64, k int) []Hit

	// Len returns the number of live vectors.
	Len() int
}

// Build constructs an index of the given strategy over entries.
// StrategyNone yields a Flat index.
func Build(ctx context.Context, strategy Strategy, metric Metric, entries []Entry, graph GraphParams, clusters ClusterParams) (Index, error) {
	switch strategy {
	case StrategyGraph:
		g := NewGraph(metric, graph)
		for i, e := range entries {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if err := g.Insert(e.ID, e.Vector); err != nil {
				return nil, err
			}
		}
		return g, nil
	case StrategyClusters:
		return BuildClusters(ctx, metric, entries, clusters)
	case StrategyNone:
		f := NewFlat(metric)
		for _, e := range entries {
			_ = f.Insert(e.ID, e.Vector)
		}
		return f, nil
	}
	return nil, fmt.Errorf("unknown index strategy %q", strategy)
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance == hits[j].Distance {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Distance < hits[j].Distance
	})
}
