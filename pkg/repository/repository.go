// Package repository persists memories and keeps the vector index in step with
// the store.
//
// Writes to the same memory id are serialized through a striped lock table, so
// an attach racing a delete always observes the delete or completes before it.
// Writes to different ids proceed in parallel.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/intelligence"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// Indexer receives vector changes. index.Manager implements it.
type Indexer interface {
	Insert(id int64, vec []float64) error
	Remove(id int64)
}

// Config configures a Repository.
type Config struct {
	// Dimensions is the expected vector length (0 = unchecked).
	Dimensions int

	// MaxContentLength is the maximum content length in runes (default 65536).
	MaxContentLength int

	// NodeID is the snowflake node for id generation (default 1).
	NodeID int64

	// GoneCapacity is how many recently deleted ids are remembered (default 4096).
	GoneCapacity int

	// LockStripes is the size of the per-id lock table (default 256).
	LockStripes int
}

func (c Config) withDefaults() Config {
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 65536
	}
	if c.NodeID <= 0 {
		c.NodeID = 1
	}
	if c.GoneCapacity <= 0 {
		c.GoneCapacity = 4096
	}
	if c.LockStripes <= 0 {
		c.LockStripes = 256
	}
	return c
}

// Repository is the authoritative record store for memories.
type Repository struct {
	cfg        Config
	store      storage.VectorStore
	index      Indexer
	node       *snowflake.Node
	importance *intelligence.ImportanceEvaluator
	logger     logrus.FieldLogger
	now        func() time.Time

	locks []sync.Mutex
	gone  *lru.Cache[int64, time.Time]

	clockMu sync.Mutex
	lastTS  time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository's logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New creates a Repository over store. index may be nil when no index is maintained.
func New(cfg Config, store storage.VectorStore, index Indexer, opts ...Option) (*Repository, error) {
	cfg = cfg.withDefaults()
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: snowflake node: %v", errs.ErrInvalidConfig, err)
	}
	gone, err := lru.New[int64, time.Time](cfg.GoneCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: deleted id cache: %v", errs.ErrInvalidConfig, err)
	}

	r := &Repository{
		cfg:        cfg,
		store:      store,
		index:      index,
		node:       node,
		importance: intelligence.NewImportanceEvaluator(),
		logger:     logrus.StandardLogger(),
		now:        time.Now,
		locks:      make([]sync.Mutex, cfg.LockStripes),
		gone:       gone,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithField("component", "repository")
	return r, nil
}

// Create validates and persists a new memory. When embedding is nil the memory
// is stored pending. A nil importance is derived from the content. Create
// returns once the record is durable.
func (r *Repository) Create(ctx context.Context, content string, metadata map[string]interface{}, importance *float64, embedding []float64) (*storage.Memory, error) {
	if content == "" {
		return nil, errs.InvalidInput("content must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > r.cfg.MaxContentLength {
		return nil, errs.InvalidInput("content length %d exceeds %d", n, r.cfg.MaxContentLength)
	}
	if err := r.checkVector(embedding, true); err != nil {
		return nil, err
	}

	score := 0.0
	if importance != nil {
		if math.IsNaN(*importance) || *importance < 0 || *importance > 1 {
			return nil, errs.InvalidInput("importance %v outside [0, 1]", *importance)
		}
		score = *importance
	} else {
		score = r.importance.Evaluate(content, metadata)
	}

	now := r.timestamp()
	memory := &storage.Memory{
		ID:         r.node.Generate().Int64(),
		Content:    content,
		Embedding:  embedding,
		Importance: score,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	mu := r.lock(memory.ID)
	defer mu.Unlock()

	if err := r.store.Insert(ctx, memory); err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		r.indexInsert(memory.ID, embedding)
	}

	r.logger.WithFields(logrus.Fields{
		"memory_id": memory.ID,
		"pending":   memory.Pending(),
	}).Debug("memory created")
	return memory, nil
}

// AttachVector sets the vector of an existing memory. Attaching the vector the
// memory already holds is a no-op and reports changed=false.
func (r *Repository) AttachVector(ctx context.Context, id int64, vec []float64) (changed bool, err error) {
	if err := r.checkVector(vec, false); err != nil {
		return false, err
	}

	mu := r.lock(id)
	defer mu.Unlock()

	current, err := r.get(ctx, id)
	if err != nil {
		return false, err
	}
	if sameVector(current.Embedding, vec) {
		return false, nil
	}

	updatedAt := r.timestamp()
	if err := r.store.UpdateEmbedding(ctx, id, vec, updatedAt); err != nil {
		return false, err
	}
	r.indexInsert(id, vec)

	r.logger.WithField("memory_id", id).Debug("vector attached")
	return true, nil
}

// Get returns the memory with id. Recently deleted ids yield errs.ErrGone.
func (r *Repository) Get(ctx context.Context, id int64) (*storage.Memory, error) {
	return r.get(ctx, id)
}

func (r *Repository) get(ctx context.Context, id int64) (*storage.Memory, error) {
	memory, err := r.store.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) && r.gone.Contains(id) {
		return nil, fmt.Errorf("memory %d: %w", id, errs.ErrGone)
	}
	return memory, err
}

// Delete removes the memory from the store and then from the index as one
// sequenced operation under the id's lock.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	mu := r.lock(id)
	defer mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) && r.gone.Contains(id) {
			return fmt.Errorf("memory %d: %w", id, errs.ErrGone)
		}
		return err
	}
	r.gone.Add(id, r.now())
	if r.index != nil {
		r.index.Remove(id)
	}

	r.logger.WithField("memory_id", id).Debug("memory deleted")
	return nil
}

// ListPending returns up to limit memories still waiting for a vector.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]*storage.Memory, error) {
	return r.store.ListPending(ctx, limit)
}

// Counts summarises the store.
func (r *Repository) Counts(ctx context.Context) (storage.Counts, error) {
	return r.store.Count(ctx)
}

func (r *Repository) indexInsert(id int64, vec []float64) {
	if r.index == nil {
		return
	}
	if err := r.index.Insert(id, vec); err != nil {
		// The vector is durable; the next rebuild or restart picks it up.
		r.logger.WithField("memory_id", id).WithError(err).Warn("index insert failed")
	}
}

func (r *Repository) checkVector(vec []float64, allowEmpty bool) error {
	if len(vec) == 0 {
		if allowEmpty {
			return nil
		}
		return errs.InvalidInput("vector must not be empty")
	}
	if r.cfg.Dimensions > 0 && len(vec) != r.cfg.Dimensions {
		return errs.Dimension(r.cfg.Dimensions, len(vec))
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.InvalidInput("vector component %d is not finite", i)
		}
	}
	return nil
}

// lock acquires and returns the stripe guarding id.
func (r *Repository) lock(id int64) *sync.Mutex {
	// Fibonacci hashing spreads the sequence bits of snowflake ids across stripes.
	h := uint64(id) * 0x9E3779B97F4A7C15
	mu := &r.locks[h%uint64(len(r.locks))]
	mu.Lock()
	return mu
}

// timestamp returns a strictly increasing wall-clock time.
func (r *Repository) timestamp() time.Time {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()
	now := r.now().UTC().Truncate(time.Microsecond)
	if !now.After(r.lastTS) {
		now = r.lastTS.Add(time.Microsecond)
	}
	r.lastTS = now
	return now
}

func sameVector(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	// Compare at float32 precision: the postgres and oceanbase vector columns
	// store float32, so a vector read back differs from the one written.
	for i := range a {
		if float32(a[i]) != float32(b[i]) {
			return false
		}
	}
	return true
}
