package core

import (
	"time"

	"github.com/oceanbase/vectormem/pkg/index"
)

// Memory represents a single memory stored in the system.
//
// A memory without an Embedding is pending: it is persisted and retrievable,
// and search reaches it through a lexical match until its vector arrives.
//
// Example:
//
//	memory := &core.Memory{
//	    ID:         1234567890,
//	    Content:    "User likes Python programming",
//	    Importance: 0.6,
//	    Metadata: map[string]interface{}{
//	        "source": "conversation",
//	    },
//	}
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Embedding is the vector embedding for similarity search (nil while pending).
	Embedding []float64 `json:"embedding,omitempty"`

	// Importance is the ranking weight in [0, 1].
	Importance float64 `json:"importance"`

	// Metadata contains additional structured information about the memory.
	// Can be used for filtering and custom attributes.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the memory was created. It never changes.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory last changed.
	UpdatedAt time.Time `json:"updated_at"`

	// Score is the ranking score from search operations.
	Score float64 `json:"score,omitempty"`

	// Similarity is the raw similarity from search operations.
	Similarity float64 `json:"similarity,omitempty"`
}

// Pending reports whether the memory still waits for its vector.
func (m *Memory) Pending() bool {
	return len(m.Embedding) == 0
}

// IndexStatus describes the served vector index.
type IndexStatus struct {
	// State is one of empty, building, ready, rebuilding.
	State string `json:"state"`

	// Strategy is none, approximate-graph or approximate-clustering.
	Strategy string `json:"strategy"`

	// Version increases by one on every successful rebuild.
	Version int64 `json:"version"`

	// CorpusSize is the number of vectored memories.
	CorpusSize int `json:"corpus_size"`

	// IndexedCount is the number of vectors in the built index.
	IndexedCount int `json:"indexed_count"`

	// BuildInProgress reports whether a build is running.
	BuildInProgress bool `json:"build_in_progress"`

	// PendingCount is the number of memories waiting for a vector.
	PendingCount int `json:"pending_count"`

	// ConsecutiveFailures counts builds that failed since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastBuildError is the message of the most recent failed build.
	LastBuildError string `json:"last_build_error,omitempty"`

	// LastBuiltAt is when the served index was installed.
	LastBuiltAt time.Time `json:"last_built_at,omitempty"`
}

// Strategy names accepted by Rebuild.
const (
	StrategyNone     = string(index.StrategyNone)
	StrategyGraph    = string(index.StrategyGraph)
	StrategyClusters = string(index.StrategyClusters)
)
