package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// GraphParams configures the HNSW graph.
type GraphParams struct {
	// M is the maximum number of links per node above layer 0 (default 16).
	// Layer 0 allows 2*M.
	M int

	// EfConstruction is the candidate list size while inserting (default 200).
	EfConstruction int

	// EfSearch is the candidate list size while querying (default 64).
	EfSearch int

	// Seed drives level assignment (default 1).
	Seed int64
}

// DefaultGraphParams returns the defaults used when a field is zero.
func DefaultGraphParams() GraphParams {
	return GraphParams{M: 16, EfConstruction: 200, EfSearch: 64, Seed: 1}
}

func (p GraphParams) withDefaults() GraphParams {
	d := DefaultGraphParams()
	if p.M <= 1 {
		p.M = d.M
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = d.EfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = d.EfSearch
	}
	if p.Seed == 0 {
		p.Seed = d.Seed
	}
	return p
}

type graphNode struct {
	id      int64
	vec     []float64
	level   int
	friends [][]int
	inbound []int // incoming edge count per level
	stale   bool
}

// Graph is a Hierarchical Navigable Small World index.
//
// Replacing the vector of an existing id marks the old node stale; stale nodes
// keep routing queries but never appear in results.
type Graph struct {
	mu        sync.RWMutex
	metric    Metric
	params    GraphParams
	nodes     []*graphNode
	ids       map[int64]int
	entry     int
	maxLevel  int
	levelMult float64
	rng       *rand.Rand
	live      int
}

// NewGraph creates an empty HNSW graph.
func NewGraph(metric Metric, params GraphParams) *Graph {
	params = params.withDefaults()
	return &Graph{
		metric:    metric,
		params:    params,
		ids:       make(map[int64]int),
		entry:     -1,
		levelMult: 1 / math.Log(float64(params.M)),
		rng:       rand.New(rand.NewSource(params.Seed)),
	}
}

// Strategy returns StrategyGraph.
func (g *Graph) Strategy() Strategy { return StrategyGraph }

// Len returns the number of non-stale nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.live
}

// Insert adds vec under id, replacing any earlier vector for the same id.
func (g *Graph) Insert(id int64, vec []float64) error {
	cp := make([]float64, len(vec))
	copy(cp, vec)

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.ids[id]; ok {
		if !g.nodes[old].stale {
			g.nodes[old].stale = true
			g.live--
		}
	}

	level := int(math.Floor(-math.Log(1-g.rng.Float64()) * g.levelMult))
	n := &graphNode{id: id, vec: cp, level: level, friends: make([][]int, level+1), inbound: make([]int, level+1)}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.ids[id] = idx
	g.live++

	if g.entry < 0 {
		g.entry = idx
		g.maxLevel = level
		return nil
	}

	ep := g.entry
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedy(cp, ep, l)
	}

	eps := []int{ep}
	for l := min(level, g.maxLevel); l >= 0; l-- {
		cands := g.searchLayer(cp, eps, g.params.EfConstruction, l)
		g.sortForLinking(cands, l)
		for _, c := range g.selectNeighbours(cands, g.maxFriends(l)) {
			n.friends[l] = append(n.friends[l], c.node)
			g.nodes[c.node].inbound[l]++
			g.link(c.node, idx, l)
		}
		eps = eps[:0]
		for _, c := range cands {
			eps = append(eps, c.node)
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = idx
	}
	return nil
}

// Search returns up to k non-stale nodes closest to query.
func (g *Graph) Search(query []float64, k int) []Hit {
	if k <= 0 {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.entry < 0 {
		return nil
	}

	ep := g.entry
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedy(query, ep, l)
	}
	ef := g.params.EfSearch
	if ef < k {
		ef = k
	}

	cands := g.searchLayer(query, []int{ep}, ef, 0)
	hits := make([]Hit, 0, k)
	for _, c := range cands {
		n := g.nodes[c.node]
		if n.stale {
			continue
		}
		hits = append(hits, Hit{ID: n.id, Distance: c.dist, Score: g.metric.Score(c.dist)})
		if len(hits) == k {
			break
		}
	}
	return hits
}

func (g *Graph) maxFriends(level int) int {
	if level == 0 {
		return 2 * g.params.M
	}
	return g.params.M
}

// link adds a directed edge from -> to on level and prunes the list of from
// back to maxFriends. An edge that is the only way into its target is never
// pruned; the list may overflow instead.
func (g *Graph) link(from, to, level int) {
	n := g.nodes[from]
	n.friends[level] = append(n.friends[level], to)
	g.nodes[to].inbound[level]++
	limit := g.maxFriends(level)
	if len(n.friends[level]) <= limit {
		return
	}

	cands := make([]candidate, len(n.friends[level]))
	for i, f := range n.friends[level] {
		cands[i] = candidate{node: f, dist: g.metric.Distance(n.vec, g.nodes[f].vec)}
	}
	g.sortForLinking(cands, level)
	kept := g.selectNeighbours(cands, limit)

	keep := make(map[int]bool, len(kept)+1)
	for _, c := range kept {
		keep[c.node] = true
	}
	for _, c := range cands {
		if keep[c.node] || g.nodes[c.node].inbound[level] > 1 {
			continue
		}
		// c would be orphaned. Give its slot the farthest kept node that has
		// another way in, or grow the list.
		swapped := false
		for i := len(kept) - 1; i >= 0; i-- {
			if g.nodes[kept[i].node].inbound[level] > 1 {
				delete(keep, kept[i].node)
				kept[i] = c
				swapped = true
				break
			}
		}
		if !swapped {
			kept = append(kept, c)
		}
		keep[c.node] = true
	}

	friends := make([]int, 0, len(kept))
	for _, c := range cands {
		if keep[c.node] {
			friends = append(friends, c.node)
		} else {
			g.nodes[c.node].inbound[level]--
		}
	}
	n.friends[level] = friends
}

// sortForLinking orders by distance and breaks ties in favour of nodes with
// fewer incoming edges on level. Equidistant data (sparse or orthogonal
// vectors) would otherwise funnel every edge into the oldest nodes.
func (g *Graph) sortForLinking(c []candidate, level int) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist != c[j].dist {
			return c[i].dist < c[j].dist
		}
		ii, ij := g.nodes[c[i].node].inbound[level], g.nodes[c[j].node].inbound[level]
		if ii != ij {
			return ii < ij
		}
		return c[i].node < c[j].node
	})
}

// selectNeighbours picks up to limit candidates from cands (sorted closest
// first), preferring ones that are closer to the base than to any already
// selected neighbour, then filling with the closest skipped ones.
func (g *Graph) selectNeighbours(cands []candidate, limit int) []candidate {
	if len(cands) <= limit {
		return cands
	}
	selected := make([]candidate, 0, limit)
	var skipped []candidate
	for _, c := range cands {
		if len(selected) == limit {
			break
		}
		diverse := true
		for _, s := range selected {
			if g.metric.Distance(g.nodes[c.node].vec, g.nodes[s.node].vec) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		} else {
			skipped = append(skipped, c)
		}
	}
	for _, c := range skipped {
		if len(selected) == limit {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

func (g *Graph) greedy(q []float64, ep, level int) int {
	cur := ep
	curDist := g.metric.Distance(q, g.nodes[cur].vec)
	for changed := true; changed; {
		changed = false
		for _, f := range g.nodes[cur].friends[level] {
			if d := g.metric.Distance(q, g.nodes[f].vec); d < curDist {
				cur, curDist, changed = f, d, true
			}
		}
	}
	return cur
}

// searchLayer returns up to ef candidates on level sorted from closest to farthest.
func (g *Graph) searchLayer(q []float64, eps []int, ef, level int) []candidate {
	visited := make(map[int]struct{}, ef*4)
	frontier := &minHeap{}
	results := &maxHeap{}

	for _, ep := range eps {
		if _, ok := visited[ep]; ok {
			continue
		}
		visited[ep] = struct{}{}
		c := candidate{node: ep, dist: g.metric.Distance(q, g.nodes[ep].vec)}
		heap.Push(frontier, c)
		heap.Push(results, c)
	}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		node := g.nodes[c.node]
		if level >= len(node.friends) {
			continue
		}
		for _, f := range node.friends[level] {
			if _, ok := visited[f]; ok {
				continue
			}
			visited[f] = struct{}{}
			d := g.metric.Distance(q, g.nodes[f].vec)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(frontier, candidate{node: f, dist: d})
				heap.Push(results, candidate{node: f, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	sortCandidates(out)
	return out
}

type candidate struct {
	node int
	dist float64
}

// sortCandidates orders by distance, then by node so ties are deterministic.
func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist != c[j].dist {
			return c[i].dist < c[j].dist
		}
		return c[i].node < c[j].node
	})
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
