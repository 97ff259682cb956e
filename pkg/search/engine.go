// Package search ranks memories for a free-text query.
//
// A query is embedded, the index is asked for an over-fetched candidate set,
// candidates are hydrated from the repository and filtered, and the survivors
// are scored by a linear blend of similarity and importance:
//
//	score = SimilarityWeight*similarity + ImportanceWeight*importance
//
// Memories still waiting for a vector take part through a lexical match on
// their content, scaled by PendingTextWeight.
package search

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/oceanbase/vectormem/pkg/embedder/hash"
	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/index"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// Embedder turns a query into a vector. embedder.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorIndex returns the ids nearest to a vector. index.Manager implements it.
type VectorIndex interface {
	Search(ctx context.Context, query []float64, k int) ([]index.Hit, error)
}

// Records hydrates ids into memories. repository.Repository implements it.
type Records interface {
	Get(ctx context.Context, id int64) (*storage.Memory, error)
	ListPending(ctx context.Context, limit int) ([]*storage.Memory, error)
}

// Config configures an Engine.
type Config struct {
	// OverFetch multiplies k when asking the index for candidates (default 2.0).
	OverFetch float64

	// SimilarityWeight scales the similarity term.
	SimilarityWeight float64

	// ImportanceWeight scales the importance term.
	ImportanceWeight float64

	// PendingTextWeight scales lexical matches on pending memories (0 disables).
	PendingTextWeight float64

	// PendingScanLimit bounds how many pending memories a query inspects (default 1000).
	PendingScanLimit int

	// QueryCacheSize is the number of query vectors kept (0 disables).
	QueryCacheSize int
}

// DefaultConfig returns the default configuration: similarity only, 2x over-fetch.
func DefaultConfig() Config {
	return Config{
		OverFetch:         2.0,
		SimilarityWeight:  1.0,
		ImportanceWeight:  0.0,
		PendingTextWeight: 0.5,
		PendingScanLimit:  1000,
		QueryCacheSize:    256,
	}
}

// Request is a single search.
type Request struct {
	Query string
	K     int

	// Filters keeps memories whose metadata equals every key/value pair.
	Filters map[string]interface{}

	// MinScore drops results scoring below it.
	MinScore float64
}

// Result is a ranked memory.
type Result struct {
	ID         int64
	Score      float64
	Similarity float64
	Pending    bool
	Memory     *storage.Memory
}

// Engine executes searches.
type Engine struct {
	cfg      Config
	embedder Embedder
	index    VectorIndex
	records  Records
	cache    *lru.Cache[string, []float64]
	logger   logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine.
func NewEngine(cfg Config, embedder Embedder, vectors VectorIndex, records Records, opts ...Option) (*Engine, error) {
	if cfg.OverFetch < 1 {
		cfg.OverFetch = 2.0
	}
	if cfg.SimilarityWeight == 0 && cfg.ImportanceWeight == 0 {
		cfg.SimilarityWeight = 1.0
	}
	if cfg.SimilarityWeight < 0 || cfg.ImportanceWeight < 0 || cfg.PendingTextWeight < 0 {
		return nil, errs.InvalidInput("search weights must not be negative")
	}
	if cfg.PendingScanLimit <= 0 {
		cfg.PendingScanLimit = 1000
	}

	e := &Engine{
		cfg:      cfg,
		embedder: embedder,
		index:    vectors,
		records:  records,
		logger:   logrus.StandardLogger(),
	}
	if cfg.QueryCacheSize > 0 {
		cache, err := lru.New[string, []float64](cfg.QueryCacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithField("component", "search")
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Search returns up to req.K memories ranked by descending score, ties broken
// by ascending id. Each memory appears at most once.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.Query == "" {
		return nil, errs.InvalidInput("query must not be empty")
	}
	if req.K <= 0 {
		return nil, errs.InvalidInput("k must be positive")
	}

	start := time.Now()
	vec, err := e.queryVector(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	fetch := int(math.Ceil(float64(req.K) * e.cfg.OverFetch))
	hits, err := e.index.Search(ctx, vec, fetch)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		memory, err := e.records.Get(ctx, hit.ID)
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrGone) {
			// Deleted between the index lookup and hydration.
			continue
		}
		if err != nil {
			return nil, err
		}
		if !matchFilters(memory.Metadata, req.Filters) {
			continue
		}
		results = append(results, Result{
			ID:         memory.ID,
			Score:      e.blend(hit.Score, memory.Importance),
			Similarity: hit.Score,
			Memory:     memory,
		})
	}

	if e.cfg.PendingTextWeight > 0 {
		pending, err := e.pendingMatches(ctx, req)
		if err != nil {
			return nil, err
		}
		results = append(results, pending...)
	}

	results = rank(results, req.MinScore, req.K)

	e.logger.WithFields(logrus.Fields{
		"k":          req.K,
		"candidates": len(hits),
		"results":    len(results),
		"took":       time.Since(start),
	}).Debug("search finished")
	return results, nil
}

func (e *Engine) queryVector(ctx context.Context, query string) ([]float64, error) {
	if e.cache != nil {
		if vec, ok := e.cache.Get(query); ok {
			return vec, nil
		}
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(query, vec)
	}
	return vec, nil
}

// pendingMatches scores memories without a vector by the fraction of query
// tokens their content contains.
func (e *Engine) pendingMatches(ctx context.Context, req Request) ([]Result, error) {
	terms := lo.Uniq(hash.Tokenize(req.Query))
	if len(terms) == 0 {
		return nil, nil
	}

	pending, err := e.records.ListPending(ctx, e.cfg.PendingScanLimit)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, memory := range pending {
		if !matchFilters(memory.Metadata, req.Filters) {
			continue
		}
		words := lo.SliceToMap(hash.Tokenize(memory.Content), func(w string) (string, struct{}) {
			return w, struct{}{}
		})
		matched := lo.CountBy(terms, func(t string) bool {
			_, ok := words[t]
			return ok
		})
		if matched == 0 {
			continue
		}
		overlap := float64(matched) / float64(len(terms))
		results = append(results, Result{
			ID:         memory.ID,
			Score:      e.cfg.PendingTextWeight * e.blend(overlap, memory.Importance),
			Similarity: overlap,
			Pending:    true,
			Memory:     memory,
		})
	}
	return results, nil
}

func (e *Engine) blend(similarity, importance float64) float64 {
	return e.cfg.SimilarityWeight*similarity + e.cfg.ImportanceWeight*importance
}

// rank orders results, keeps the best entry per id, and truncates to k.
func rank(results []Result, minScore float64, k int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	results = lo.UniqBy(results, func(r Result) int64 { return r.ID })
	if minScore > 0 {
		results = lo.Filter(results, func(r Result, _ int) bool { return r.Score >= minScore })
	}
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func matchFilters(metadata, filters map[string]interface{}) bool {
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok || !equalValue(want, got) {
			return false
		}
	}
	return true
}

// equalValue compares metadata values, treating all numeric types alike since
// stored metadata decodes numbers as float64.
func equalValue(a, b interface{}) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
