package index

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ClusterParams configures the IVF index.
type ClusterParams struct {
	// Nlist is the number of clusters (default sqrt(n)).
	Nlist int

	// Nprobe is the number of clusters scanned per query (default 8).
	Nprobe int

	// Iterations bounds k-means refinement (default 10).
	Iterations int

	// Seed drives centroid initialisation (default 1).
	Seed int64
}

func (p ClusterParams) withDefaults(n int) ClusterParams {
	if p.Nlist <= 0 {
		p.Nlist = int(math.Sqrt(float64(n)))
	}
	if p.Nlist > n {
		p.Nlist = n
	}
	if p.Nlist < 1 {
		p.Nlist = 1
	}
	if p.Nprobe <= 0 {
		p.Nprobe = 8
	}
	if p.Nprobe > p.Nlist {
		p.Nprobe = p.Nlist
	}
	if p.Iterations <= 0 {
		p.Iterations = 10
	}
	if p.Seed == 0 {
		p.Seed = 1
	}
	return p
}

// Clusters is an inverted-file index over k-means centroids. It is immutable
// once built: Insert returns ErrIncrementalUnsupported and new vectors wait for
// the next rebuild.
type Clusters struct {
	metric    Metric
	params    ClusterParams
	centroids [][]float64
	lists     [][]Entry
	size      int
}

// BuildClusters runs k-means over entries and assigns each entry to its final centroid.
func BuildClusters(ctx context.Context, metric Metric, entries []Entry, params ClusterParams) (*Clusters, error) {
	params = params.withDefaults(len(entries))
	c := &Clusters{metric: metric, params: params, size: len(entries)}
	if len(entries) == 0 {
		return c, nil
	}

	rng := rand.New(rand.NewSource(params.Seed))
	c.centroids = seedCentroids(rng, entries, params.Nlist)
	assign := make([]int, len(entries))

	for iter := 0; iter < params.Iterations; iter++ {
		changed, err := c.assign(ctx, entries, assign)
		if err != nil {
			return nil, err
		}
		c.recompute(entries, assign)
		if changed == 0 && iter > 0 {
			break
		}
	}

	// Final pass so every list matches the centroids actually stored.
	if _, err := c.assign(ctx, entries, assign); err != nil {
		return nil, err
	}
	c.lists = make([][]Entry, len(c.centroids))
	for i, e := range entries {
		c.lists[assign[i]] = append(c.lists[assign[i]], e)
	}
	return c, nil
}

// Strategy returns StrategyClusters.
func (c *Clusters) Strategy() Strategy { return StrategyClusters }

// Insert is not supported.
func (c *Clusters) Insert(int64, []float64) error { return ErrIncrementalUnsupported }

// Len returns the number of indexed vectors.
func (c *Clusters) Len() int { return c.size }

// Search scans the Nprobe clusters whose centroids are closest to query.
func (c *Clusters) Search(query []float64, k int) []Hit {
	if k <= 0 || len(c.centroids) == 0 {
		return nil
	}

	order := make([]candidate, len(c.centroids))
	for i, cen := range c.centroids {
		order[i] = candidate{node: i, dist: c.metric.Distance(query, cen)}
	}
	sortCandidates(order)

	var hits []Hit
	for _, o := range order[:c.params.Nprobe] {
		for _, e := range c.lists[o.node] {
			d := c.metric.Distance(query, e.Vector)
			hits = append(hits, Hit{ID: e.ID, Distance: d, Score: c.metric.Score(d)})
		}
	}
	return topK(hits, k)
}

// assign maps every entry to its nearest centroid in parallel and returns how many moved.
func (c *Clusters) assign(ctx context.Context, entries []Entry, assign []int) (int, error) {
	workers := runtime.GOMAXPROCS(0)
	chunk := (len(entries) + workers - 1) / workers
	moved := make([]int, workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > len(entries) {
			hi = len(entries)
		}
		if lo >= hi {
			break
		}
		w := w
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%512 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				best := nearest(c.metric, c.centroids, entries[i].Vector)
				if best != assign[i] {
					assign[i] = best
					moved[w]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, m := range moved {
		total += m
	}
	return total, nil
}

// recompute sets each centroid to the mean of its members. Empty clusters keep their centroid.
func (c *Clusters) recompute(entries []Entry, assign []int) {
	dim := len(c.centroids[0])
	sums := make([][]float64, len(c.centroids))
	counts := make([]int, len(c.centroids))
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, e := range entries {
		a := assign[i]
		counts[a]++
		for d, v := range e.Vector {
			sums[a][d] += v
		}
	}
	for i := range c.centroids {
		if counts[i] == 0 {
			continue
		}
		for d := range sums[i] {
			sums[i][d] /= float64(counts[i])
		}
		c.centroids[i] = sums[i]
	}
}

// seedCentroids picks k initial centroids with k-means++ over Euclidean distance.
func seedCentroids(rng *rand.Rand, entries []Entry, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := entries[rng.Intn(len(entries))].Vector
	centroids = append(centroids, append([]float64(nil), first...))

	weights := make([]float64, len(entries))
	for len(centroids) < k {
		var total float64
		for i, e := range entries {
			d := distanceToNearest(centroids, e.Vector)
			weights[i] = d * d
			total += weights[i]
		}
		next := rng.Intn(len(entries))
		if total > 0 {
			target := rng.Float64() * total
			idx := len(entries)
			for i, w := range weights {
				target -= w
				if target <= 0 {
					idx = i
					break
				}
			}
			if idx < len(entries) {
				next = idx
			}
		}
		centroids = append(centroids, append([]float64(nil), entries[next].Vector...))
	}
	return centroids
}

func nearest(metric Metric, centroids [][]float64, vec []float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := metric.Distance(vec, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func distanceToNearest(centroids [][]float64, vec []float64) float64 {
	best := math.Inf(1)
	for _, c := range centroids {
		if d := MetricL2.Distance(vec, c); d < best {
			best = d
		}
	}
	return best
}
