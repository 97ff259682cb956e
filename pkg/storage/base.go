// Package storage provides interfaces and types for vector storage backends.
//
// It defines the VectorStore interface that all storage implementations must satisfy,
// along with the memory record and native index configuration types.
package storage

import (
	"context"
	"time"
)

// Memory represents a memory stored in the vector store.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors the core.Memory structure.
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64

	// Content is the text content of the memory.
	Content string

	// Embedding is the vector embedding for similarity search.
	// A nil Embedding marks the memory as pending.
	Embedding []float64

	// Importance is the ranking weight in [0, 1].
	Importance float64

	// Metadata contains additional structured information.
	Metadata map[string]interface{}

	// CreatedAt is when the memory was created. It never changes.
	CreatedAt time.Time

	// UpdatedAt is when the memory last changed (vector attached).
	UpdatedAt time.Time
}

// Pending reports whether the memory still waits for its vector.
func (m *Memory) Pending() bool {
	return len(m.Embedding) == 0
}

// Counts summarises the contents of a store.
type Counts struct {
	// Total is the number of stored memories.
	Total int

	// Vectored is the number of memories with an embedding.
	Vectored int

	// Pending is the number of memories without an embedding.
	Pending int
}

// VectorIndexType defines the type of native vector index a backend can build.
type VectorIndexType string

const (
	// IndexTypeHNSW uses Hierarchical Navigable Small World graph.
	IndexTypeHNSW VectorIndexType = "HNSW"

	// IndexTypeIVFFlat uses Inverted File Index with flat vectors.
	IndexTypeIVFFlat VectorIndexType = "IVF_FLAT"
)

// MetricType defines the distance metric for vector similarity.
type MetricType string

const (
	// MetricCosine uses cosine similarity.
	MetricCosine MetricType = "cosine"

	// MetricL2 uses Euclidean distance (L2 norm).
	MetricL2 MetricType = "l2"

	// MetricIP uses inner product (dot product).
	MetricIP MetricType = "ip"
)

// HNSWParams contains parameters for HNSW index configuration.
type HNSWParams struct {
	// M is the maximum number of connections for each node.
	M int

	// EfConstruction is the search depth during index construction.
	EfConstruction int
}

// IVFParams contains parameters for IVF (Inverted File) index configuration.
type IVFParams struct {
	// Nlist is the number of clusters (centroids).
	Nlist int
}

// VectorIndexConfig contains configuration for creating a native vector index.
type VectorIndexConfig struct {
	// IndexName is the name of the index. Backends derive one when empty.
	IndexName string

	// IndexType is the type of index to create.
	IndexType VectorIndexType

	// MetricType is the distance metric to use.
	MetricType MetricType

	// HNSWParams contains HNSW-specific parameters (if IndexType is HNSW).
	HNSWParams *HNSWParams

	// IVFParams contains IVF-specific parameters (if IndexType is IVF_FLAT).
	IVFParams *IVFParams
}

// VectorStore defines the interface for vector storage backends.
//
// All storage implementations (SQLite, PostgreSQL, OceanBase) must implement this interface.
// Missing records are reported with errs.ErrNotFound.
type VectorStore interface {
	// Insert persists a new memory. Embedding may be nil (pending).
	Insert(ctx context.Context, memory *Memory) error

	// Get retrieves a memory by ID.
	Get(ctx context.Context, id int64) (*Memory, error)

	// UpdateEmbedding sets the vector of an existing memory and bumps UpdatedAt.
	UpdateEmbedding(ctx context.Context, id int64, embedding []float64, updatedAt time.Time) error

	// Delete removes a memory by ID.
	Delete(ctx context.Context, id int64) error

	// ScanEmbeddings calls fn for every memory that has a vector, in ID order.
	// Iteration stops at the first error returned by fn.
	ScanEmbeddings(ctx context.Context, fn func(id int64, embedding []float64) error) error

	// ListPending returns up to limit memories without a vector, oldest first.
	// A limit <= 0 returns all of them.
	ListPending(ctx context.Context, limit int) ([]*Memory, error)

	// Count summarises the store.
	Count(ctx context.Context) (Counts, error)

	// CreateIndex creates a native vector index where the backend supports one.
	CreateIndex(ctx context.Context, config *VectorIndexConfig) error

	// Close closes the store and releases resources.
	Close() error
}
