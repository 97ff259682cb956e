package index

import "sync"

// Flat is an exhaustive index. The manager keeps one as the live table of every
// vectored memory; it also serves queries when no approximate index is ready.
type Flat struct {
	mu      sync.RWMutex
	metric  Metric
	vectors map[int64][]float64
}

// NewFlat creates an empty Flat index.
func NewFlat(metric Metric) *Flat {
	return &Flat{metric: metric, vectors: make(map[int64][]float64)}
}

// Strategy returns StrategyNone.
func (f *Flat) Strategy() Strategy { return StrategyNone }

// Insert stores a copy of vec under id.
func (f *Flat) Insert(id int64, vec []float64) error {
	cp := make([]float64, len(vec))
	copy(cp, vec)
	f.mu.Lock()
	f.vectors[id] = cp
	f.mu.Unlock()
	return nil
}

// Remove deletes id and reports whether it was present.
func (f *Flat) Remove(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vectors[id]
	delete(f.vectors, id)
	return ok
}

// Get returns the stored vector for id.
func (f *Flat) Get(id int64) ([]float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vectors[id]
	return v, ok
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Search scans every vector.
func (f *Flat) Search(query []float64, k int) []Hit {
	f.mu.RLock()
	hits := make([]Hit, 0, len(f.vectors))
	for id, vec := range f.vectors {
		d := f.metric.Distance(query, vec)
		hits = append(hits, Hit{ID: id, Distance: d, Score: f.metric.Score(d)})
	}
	f.mu.RUnlock()
	return topK(hits, k)
}

// SearchIDs scores only the given ids, skipping ones not present.
func (f *Flat) SearchIDs(query []float64, ids []int64) []Hit {
	f.mu.RLock()
	defer f.mu.RUnlock()
	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		vec, ok := f.vectors[id]
		if !ok {
			continue
		}
		d := f.metric.Distance(query, vec)
		hits = append(hits, Hit{ID: id, Distance: d, Score: f.metric.Score(d)})
	}
	return hits
}

func topK(hits []Hit, k int) []Hit {
	sortHits(hits)
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
