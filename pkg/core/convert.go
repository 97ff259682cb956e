package core

import (
	"fmt"
	"time"

	"github.com/oceanbase/vectormem/pkg/embedder"
	"github.com/oceanbase/vectormem/pkg/index"
	"github.com/oceanbase/vectormem/pkg/search"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// fromStorageMemory converts a storage.Memory to core.Memory.
//
// This function is used internally to convert between package types
// to avoid circular dependencies.
func fromStorageMemory(m *storage.Memory) *Memory {
	if m == nil {
		return nil
	}
	return &Memory{
		ID:         m.ID,
		Content:    m.Content,
		Embedding:  m.Embedding,
		Importance: m.Importance,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// fromSearchResults converts ranked results to memories carrying their scores.
func fromSearchResults(results []search.Result) []*Memory {
	memories := make([]*Memory, len(results))
	for i, r := range results {
		mem := fromStorageMemory(r.Memory)
		mem.Score = r.Score
		mem.Similarity = r.Similarity
		memories[i] = mem
	}
	return memories
}

func fromIndexStatus(s index.Status, counts storage.Counts) IndexStatus {
	return IndexStatus{
		State:               string(s.State),
		Strategy:            string(s.Strategy),
		Version:             s.Version,
		CorpusSize:          s.CorpusSize,
		IndexedCount:        s.IndexedCount,
		BuildInProgress:     s.BuildInProgress,
		PendingCount:        counts.Pending,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastBuildError:      s.LastBuildError,
		LastBuiltAt:         s.LastBuiltAt,
	}
}

func toRetryConfig(cfg RetryConfig) embedder.RetryConfig {
	return embedder.RetryConfig{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      millis(cfg.BackoffBaseMs),
		MaxDelay:       millis(cfg.BackoffMaxMs),
		MaxTotalWait:   millis(cfg.MaxTotalWaitMs),
		Jitter:         cfg.Jitter,
		Seed:           cfg.Seed,
		MaxInputLength: cfg.MaxInputLength,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	}
}

func toIndexConfig(cfg IndexConfig, dims int) (index.Config, error) {
	metric, err := index.ParseMetric(cfg.Metric)
	if err != nil {
		return index.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return index.Config{
		Metric:     metric,
		Dimensions: dims,
		Thresholds: index.Thresholds{
			SmallCorpus:       cfg.SmallCorpus,
			LargeCorpus:       cfg.LargeCorpus,
			LatencyCeiling:    millis(cfg.LatencyCeilingMs),
			GrowthFraction:    cfg.GrowthFraction,
			HysteresisWindows: cfg.HysteresisWindows,
		},
		Graph: index.GraphParams{
			M:              cfg.HNSW.M,
			EfConstruction: cfg.HNSW.EfConstruction,
			EfSearch:       cfg.HNSW.EfSearch,
		},
		Clusters: index.ClusterParams{
			Nlist:      cfg.IVF.Nlist,
			Nprobe:     cfg.IVF.Nprobe,
			Iterations: cfg.IVF.Iterations,
		},
		EvaluateInterval: millis(cfg.EvaluateIntervalMs),
		BurstSize:        cfg.BurstSize,
		MaxBuildFailures: cfg.MaxBuildFailures,
		MaxIndexVectors:  cfg.MaxIndexVectors,
	}, nil
}

func toSearchConfig(cfg SearchConfig) search.Config {
	out := search.DefaultConfig()
	if cfg.OverFetch > 0 {
		out.OverFetch = cfg.OverFetch
	}
	out.SimilarityWeight = cfg.SimilarityWeight
	out.ImportanceWeight = cfg.ImportanceWeight
	out.PendingTextWeight = cfg.PendingTextWeight
	if cfg.DisablePendingMatch {
		out.PendingTextWeight = 0
	}
	out.QueryCacheSize = cfg.QueryCacheSize
	return out
}

// nativeIndexConfig mirrors a swapped in-process index as a backend index.
// It returns nil for sequential scan.
func nativeIndexConfig(s index.Status, metric index.Metric, cfg IndexConfig) *storage.VectorIndexConfig {
	out := &storage.VectorIndexConfig{MetricType: storage.MetricType(metric)}
	switch s.Strategy {
	case index.StrategyGraph:
		out.IndexType = storage.IndexTypeHNSW
		out.HNSWParams = &storage.HNSWParams{M: cfg.HNSW.M, EfConstruction: cfg.HNSW.EfConstruction}
	case index.StrategyClusters:
		out.IndexType = storage.IndexTypeIVFFlat
		out.IVFParams = &storage.IVFParams{Nlist: cfg.IVF.Nlist}
	default:
		return nil
	}
	return out
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Provider maps decode numbers as float64 (JSON) or int (YAML, env), so the
// getters accept either.

func configString(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func configInt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
