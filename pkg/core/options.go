package core

import (
	"github.com/sirupsen/logrus"

	"github.com/oceanbase/vectormem/pkg/embedder"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// CreateOption is a function type for configuring CreateMemory operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type CreateOption func(*CreateOptions)

// CreateOptions contains configuration options for CreateMemory operations.
type CreateOptions struct {
	// Metadata contains additional metadata about the memory.
	Metadata map[string]interface{}

	// Importance overrides the evaluated importance. Must be in [0, 1].
	Importance *float64

	// Embedding supplies the vector directly, skipping the embedding provider.
	Embedding []float64

	// Async overrides Ingestion.Async for this call when set.
	Async *bool
}

// WithMetadata sets the metadata for CreateMemory operations.
//
// Example:
//
//	memory, _ := client.CreateMemory(ctx, "content", core.WithMetadata(map[string]interface{}{
//	    "source": "chat",
//	}))
func WithMetadata(metadata map[string]interface{}) CreateOption {
	return func(opts *CreateOptions) {
		opts.Metadata = metadata
	}
}

// WithImportance sets an explicit importance for CreateMemory operations.
func WithImportance(importance float64) CreateOption {
	return func(opts *CreateOptions) {
		opts.Importance = &importance
	}
}

// WithEmbedding supplies a precomputed vector for CreateMemory operations.
func WithEmbedding(embedding []float64) CreateOption {
	return func(opts *CreateOptions) {
		opts.Embedding = embedding
	}
}

// WithAsync persists the memory pending and embeds it on the ingestion pool.
func WithAsync() CreateOption {
	return func(opts *CreateOptions) {
		async := true
		opts.Async = &async
	}
}

// WithSync embeds before persisting, even when the client ingests asynchronously.
func WithSync() CreateOption {
	return func(opts *CreateOptions) {
		async := false
		opts.Async = &async
	}
}

// SearchOption is a function type for configuring SearchMemories operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for SearchMemories operations.
type SearchOptions struct {
	// Limit is the maximum number of results (default Search.DefaultLimit).
	Limit int

	// Filters keeps memories whose metadata equals every key/value pair.
	Filters map[string]interface{}

	// MinScore drops results scoring below it.
	MinScore float64
}

// WithLimit sets the maximum number of results.
//
// Example:
//
//	results, _ := client.SearchMemories(ctx, "query", core.WithLimit(5))
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithFilters sets metadata filters.
func WithFilters(filters map[string]interface{}) SearchOption {
	return func(opts *SearchOptions) {
		opts.Filters = filters
	}
}

// WithMinScore drops results scoring below score.
func WithMinScore(score float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = score
	}
}

// ClientOption configures NewClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	provider embedder.Provider
	store    storage.VectorStore
	logger   *logrus.Logger
}

// WithProvider uses provider instead of the one named in Config.Embedder.
func WithProvider(provider embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.provider = provider
	}
}

// WithStore uses store instead of the one named in Config.VectorStore.
// The client closes it on Close.
func WithStore(store storage.VectorStore) ClientOption {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithLogger sets the logger. Config.LogLevel is not applied to it.
func WithLogger(logger *logrus.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

func applyCreateOptions(opts []CreateOption) *CreateOptions {
	o := &CreateOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	o := &SearchOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
