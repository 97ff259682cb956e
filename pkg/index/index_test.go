package index

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/vectormem/pkg/embedder/hash"
)

func randomEntries(n, dim int, seed int64) []Entry {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]Entry, n)
	for i := range entries {
		vec := make([]float64, dim)
		for d := range vec {
			vec[d] = rng.NormFloat64()
		}
		entries[i] = Entry{ID: int64(i + 1), Vector: vec}
	}
	return entries
}

func ids(hits []Hit) []int64 {
	out := make([]int64, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func recall(want, got []Hit) float64 {
	set := make(map[int64]struct{}, len(want))
	for _, h := range want {
		set[h.ID] = struct{}{}
	}
	found := 0
	for _, h := range got {
		if _, ok := set[h.ID]; ok {
			found++
		}
	}
	return float64(found) / float64(len(want))
}

func TestFlat_InsertRemoveSearch(t *testing.T) {
	f := NewFlat(MetricCosine)
	require.NoError(t, f.Insert(1, []float64{1, 0}))
	require.NoError(t, f.Insert(2, []float64{0, 1}))
	require.NoError(t, f.Insert(3, []float64{0.9, 0.1}))

	hits := f.Search([]float64{1, 0}, 2)
	assert.Equal(t, []int64{1, 3}, ids(hits))
	assert.InDelta(t, 1.0, hits[0].Score, 1e-12)

	assert.True(t, f.Remove(1))
	assert.False(t, f.Remove(1))
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []int64{3, 2}, ids(f.Search([]float64{1, 0}, 5)))

	hits = f.SearchIDs([]float64{1, 0}, []int64{2, 99})
	assert.Equal(t, []int64{2}, ids(hits))
}

func TestGraph_Recall(t *testing.T) {
	entries := randomEntries(1000, 16, 7)
	ctx := context.Background()

	idx, err := Build(ctx, StrategyGraph, MetricCosine, entries, GraphParams{}, ClusterParams{})
	require.NoError(t, err)
	flat, err := Build(ctx, StrategyNone, MetricCosine, entries, GraphParams{}, ClusterParams{})
	require.NoError(t, err)
	assert.Equal(t, 1000, idx.Len())

	queries := randomEntries(20, 16, 99)
	var total float64
	for _, q := range queries {
		total += recall(flat.Search(q.Vector, 10), idx.Search(q.Vector, 10))
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)

	for _, e := range entries[:50] {
		hits := idx.Search(e.Vector, 1)
		require.Len(t, hits, 1)
		assert.Equal(t, e.ID, hits[0].ID)
	}
}

func assertReachable(t *testing.T, g *Graph) {
	t.Helper()
	for i, n := range g.nodes {
		assert.Positive(t, n.inbound[0], "node %d has no incoming edge on layer 0", i)
	}
}

func TestGraph_SelfRecallOnHashedText(t *testing.T) {
	provider := hash.NewProvider(&hash.Config{Dimensions: 128})
	ctx := context.Background()

	// Hashed texts sharing one word are nearly equidistant from each other.
	vecs := make([][]float64, 100)
	for i := range vecs {
		v, err := provider.Embed(ctx, fmt.Sprintf("entry %d keyword%d", i, i))
		require.NoError(t, err)
		vecs[i] = v
	}

	for _, seed := range []int64{1, 2, 3} {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			g := NewGraph(MetricCosine, GraphParams{Seed: seed})
			for i, v := range vecs {
				require.NoError(t, g.Insert(int64(i), v))
			}
			assertReachable(t, g)

			for i, v := range vecs {
				assert.Contains(t, ids(g.Search(v, 3)), int64(i), "entry %d missing from its own search", i)
			}
		})
	}
}

func TestGraph_OrthogonalVectorsStayReachable(t *testing.T) {
	g := NewGraph(MetricCosine, GraphParams{M: 4})
	for i := 0; i < 64; i++ {
		vec := make([]float64, 64)
		vec[i] = 1
		require.NoError(t, g.Insert(int64(i), vec))
	}
	assertReachable(t, g)

	for i, n := range g.nodes {
		assert.LessOrEqual(t, len(n.friends[0]), 2*4, "node %d", i)

		hits := g.Search(n.vec, 1)
		require.Len(t, hits, 1)
		assert.Equal(t, int64(i), hits[0].ID)
	}
}

func TestGraph_Upsert(t *testing.T) {
	g := NewGraph(MetricL2, GraphParams{M: 4})
	require.NoError(t, g.Insert(1, []float64{0, 0}))
	require.NoError(t, g.Insert(2, []float64{10, 10}))
	require.NoError(t, g.Insert(1, []float64{10, 9}))

	assert.Equal(t, 2, g.Len())
	hits := g.Search([]float64{0, 0}, 5)
	assert.ElementsMatch(t, []int64{1, 2}, ids(hits))
	assert.Equal(t, int64(1), hits[0].ID)
	assert.Greater(t, hits[0].Distance, 1.0)
}

func TestClusters_ExactWhenProbingEverything(t *testing.T) {
	entries := randomEntries(400, 8, 3)
	ctx := context.Background()

	idx, err := BuildClusters(ctx, MetricL2, entries, ClusterParams{Nlist: 10, Nprobe: 10})
	require.NoError(t, err)
	flat, err := Build(ctx, StrategyNone, MetricL2, entries, GraphParams{}, ClusterParams{})
	require.NoError(t, err)

	for _, q := range randomEntries(10, 8, 11) {
		assert.Equal(t, ids(flat.Search(q.Vector, 5)), ids(idx.Search(q.Vector, 5)))
	}
	assert.Equal(t, 400, idx.Len())
	assert.ErrorIs(t, idx.Insert(1000, entries[0].Vector), ErrIncrementalUnsupported)
}

func TestClusters_SelfHit(t *testing.T) {
	entries := randomEntries(900, 8, 5)
	idx, err := BuildClusters(context.Background(), MetricCosine, entries, ClusterParams{})
	require.NoError(t, err)

	for _, e := range entries[:30] {
		hits := idx.Search(e.Vector, 1)
		require.Len(t, hits, 1)
		assert.Equal(t, e.ID, hits[0].ID)
	}
}

func TestClusters_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildClusters(ctx, MetricCosine, randomEntries(100, 4, 1), ClusterParams{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_Empty(t *testing.T) {
	idx, err := Build(context.Background(), StrategyClusters, MetricCosine, nil, GraphParams{}, ClusterParams{})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Search([]float64{1}, 3))

	_, err = Build(context.Background(), Strategy("btree"), MetricCosine, nil, GraphParams{}, ClusterParams{})
	assert.Error(t, err)
}
