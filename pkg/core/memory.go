package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/oceanbase/vectormem/pkg/embedder"
	"github.com/oceanbase/vectormem/pkg/embedder/hash"
	openaiEmbedder "github.com/oceanbase/vectormem/pkg/embedder/openai"
	qwenEmbedder "github.com/oceanbase/vectormem/pkg/embedder/qwen"
	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/index"
	"github.com/oceanbase/vectormem/pkg/repository"
	"github.com/oceanbase/vectormem/pkg/search"
	"github.com/oceanbase/vectormem/pkg/storage"
	"github.com/oceanbase/vectormem/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/vectormem/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/vectormem/pkg/storage/sqlite"
)

// Client is the main vectormem client for memory management.
//
// It wires together:
//   - The embedding client (retry, backoff, rate limiting)
//   - The memory repository on a vector store
//   - The in-process vector index and its background strategy selection
//   - The search engine
//   - The ingestion worker pool for asynchronous embedding
//
// The client is thread-safe and can be used concurrently from multiple goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	memory, _ := client.CreateMemory(ctx, "User likes Python",
//	    core.WithMetadata(map[string]interface{}{"source": "chat"}),
//	)
//	results, _ := client.SearchMemories(ctx, "programming languages", core.WithLimit(5))
type Client struct {
	// config contains the client configuration.
	config *Config

	logger *logrus.Logger

	// storage is the vector store for memory persistence.
	storage storage.VectorStore

	// embedder wraps the embedding provider with retry.
	embedder *embedder.Client

	index  *index.Manager
	repo   *repository.Repository
	engine *search.Engine
	ingest *ingester

	// cancel stops the index evaluation loop.
	cancel context.CancelFunc
	bg     sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a new vectormem client.
//
// The client is initialized with:
//   - Vector store (SQLite, OceanBase, or PostgreSQL)
//   - Embedding provider (OpenAI, Qwen, or the local hash provider)
//   - Vector index warmed from every stored vector
//
// The index evaluation loop runs in the background until Close.
//
// Example:
//
//	config := &core.Config{
//	    Embedder:    core.EmbedderConfig{Provider: "hash", Dimensions: 256},
//	    VectorStore: core.VectorStoreConfig{Provider: "sqlite", Config: map[string]interface{}{"db_path": "./mem.db"}},
//	}
//	client, err := core.NewClient(config)
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = logrus.New()
		level, _ := logrus.ParseLevel(cfg.LogLevel)
		logger.SetLevel(level)
	}

	// Initialize Embedder
	provider := o.provider
	if provider == nil {
		var err error
		provider, err = initEmbedder(cfg.Embedder)
		if err != nil {
			return nil, err
		}
	}
	dims := cfg.Embedder.Dimensions
	if dims <= 0 {
		dims = provider.Dimensions()
	}

	// Initialize storage
	store := o.store
	if store == nil {
		var err error
		store, err = initStorage(cfg.VectorStore, dims)
		if err != nil {
			_ = provider.Close()
			return nil, err
		}
	}

	client := &Client{
		config:   cfg,
		logger:   logger,
		storage:  store,
		embedder: embedder.NewClient(provider, toRetryConfig(cfg.Embedder.Retry), embedder.WithLogger(logger)),
	}

	if err := client.init(dims); err != nil {
		_ = client.embedder.Close()
		_ = store.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) init(dims int) error {
	indexCfg, err := toIndexConfig(c.config.Index, dims)
	if err != nil {
		return NewMemoryError("NewClient", err)
	}

	bgctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	managerOpts := []index.ManagerOption{index.WithLogger(c.logger)}
	if c.config.VectorStore.NativeIndex {
		managerOpts = append(managerOpts, index.WithSwapHook(func(s index.Status) {
			c.mirrorIndex(bgctx, s)
		}))
	}
	c.index = index.NewManager(indexCfg, c.storage, managerOpts...)
	if err := c.index.Load(bgctx); err != nil {
		cancel()
		return NewMemoryError("NewClient", err)
	}

	c.repo, err = repository.New(repository.Config{
		Dimensions:       dims,
		MaxContentLength: c.config.Ingestion.MaxContentLength,
	}, c.storage, c.index, repository.WithLogger(c.logger))
	if err != nil {
		cancel()
		return NewMemoryError("NewClient", err)
	}

	c.engine, err = search.NewEngine(toSearchConfig(c.config.Search), c.embedder, c.index, c.repo, search.WithLogger(c.logger))
	if err != nil {
		cancel()
		return NewMemoryError("NewClient", err)
	}

	c.ingest = newIngester(c.config.Ingestion, c.embedder.Embed, c.repo.AttachVector, c.logger)

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.index.Run(bgctx)
	}()

	if c.config.Ingestion.ReingestOnStart {
		if _, err := c.ReingestPending(bgctx); err != nil {
			c.logger.WithError(err).Warn("failed to queue pending memories")
		}
	}
	return nil
}

// CreateMemory stores a new memory.
//
// In synchronous mode the content is embedded first and the memory is
// persisted together with its vector, so a failed embedding stores nothing.
// In asynchronous mode (Ingestion.Async or WithAsync) the memory is persisted
// pending and embedded on the ingestion pool; it is retrievable immediately.
//
// Parameters:
//   - ctx: Context for cancellation
//   - content: Memory content (text string)
//   - opts: Optional parameters (Metadata, Importance, Embedding, Async)
//
// Returns the created Memory, or an error if the operation fails.
func (c *Client) CreateMemory(ctx context.Context, content string, opts ...CreateOption) (*Memory, error) {
	if c.closed.Load() {
		return nil, NewMemoryError("CreateMemory", ErrClosed)
	}
	o := applyCreateOptions(opts)
	async := c.config.Ingestion.Async
	if o.Async != nil {
		async = *o.Async
	}

	vec := o.Embedding
	if vec == nil {
		// Pending content must be embeddable later, so both modes reject it up front.
		if err := c.embedder.Validate(content); err != nil {
			return nil, NewMemoryError("CreateMemory", err)
		}
	}
	if vec == nil && !async {
		var err error
		vec, err = c.embedder.Embed(ctx, content)
		if err != nil {
			return nil, NewMemoryError("CreateMemory", err)
		}
	}

	m, err := c.repo.Create(ctx, content, o.Metadata, o.Importance, vec)
	if err != nil {
		return nil, NewMemoryError("CreateMemory", err)
	}
	if m.Pending() {
		c.ingest.enqueue(m.ID, m.Content)
	}
	return fromStorageMemory(m), nil
}

// SearchMemories returns the memories most relevant to query, best first.
//
// Example:
//
//	results, _ := client.SearchMemories(ctx, "coffee",
//	    core.WithLimit(5),
//	    core.WithFilters(map[string]interface{}{"source": "chat"}),
//	)
func (c *Client) SearchMemories(ctx context.Context, query string, opts ...SearchOption) ([]*Memory, error) {
	if c.closed.Load() {
		return nil, NewMemoryError("SearchMemories", ErrClosed)
	}
	o := applySearchOptions(opts)
	limit := o.Limit
	if limit <= 0 {
		limit = c.config.Search.DefaultLimit
	}

	results, err := c.engine.Search(ctx, search.Request{
		Query:    query,
		K:        limit,
		Filters:  o.Filters,
		MinScore: o.MinScore,
	})
	if err != nil {
		return nil, NewMemoryError("SearchMemories", err)
	}
	return fromSearchResults(results), nil
}

// GetMemory retrieves a memory by ID. A recently deleted memory reports ErrGone.
func (c *Client) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	m, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, NewMemoryError("GetMemory", err)
	}
	return fromStorageMemory(m), nil
}

// DeleteMemory deletes a memory. It is never returned by search afterwards.
func (c *Client) DeleteMemory(ctx context.Context, id int64) error {
	if c.closed.Load() {
		return NewMemoryError("DeleteMemory", ErrClosed)
	}
	return NewMemoryError("DeleteMemory", c.repo.Delete(ctx, id))
}

// AttachVector sets the vector of a memory. Attaching the vector a memory
// already has is a no-op and reports false.
func (c *Client) AttachVector(ctx context.Context, id int64, vec []float64) (bool, error) {
	if c.closed.Load() {
		return false, NewMemoryError("AttachVector", ErrClosed)
	}
	changed, err := c.repo.AttachVector(ctx, id, vec)
	return changed, NewMemoryError("AttachVector", err)
}

// GetIndexStatus describes the served index.
func (c *Client) GetIndexStatus() IndexStatus {
	counts, err := c.repo.Counts(context.Background())
	if err != nil {
		c.logger.WithError(err).Warn("failed to count pending memories")
	}
	return fromIndexStatus(c.index.Status(), counts)
}

// Rebuild builds an index of the named strategy (none, approximate-graph,
// approximate-clustering) and swaps it in. A build already running yields
// ErrAlreadyInProgress.
func (c *Client) Rebuild(ctx context.Context, strategy string) error {
	s, err := index.ParseStrategy(strategy)
	if err != nil {
		return NewMemoryError("Rebuild", errs.InvalidInput("%v", err))
	}
	return NewMemoryError("Rebuild", c.index.Rebuild(ctx, s))
}

// EvaluateIndex runs strategy selection now, rebuilding when it asks for it.
func (c *Client) EvaluateIndex(ctx context.Context) (IndexStatus, error) {
	d, err := c.index.EvaluateNow(ctx)
	if err != nil {
		return c.GetIndexStatus(), NewMemoryError("EvaluateIndex", err)
	}
	c.logger.WithFields(logrus.Fields{
		"strategy": d.Strategy,
		"rebuild":  d.RebuildNow,
		"reason":   d.Reason,
	}).Debug("index evaluated")
	return c.GetIndexStatus(), nil
}

// ReingestPending queues every pending memory for embedding and returns how
// many were queued.
func (c *Client) ReingestPending(ctx context.Context) (int, error) {
	pending, err := c.repo.ListPending(ctx, 0)
	if err != nil {
		return 0, NewMemoryError("ReingestPending", err)
	}
	queued := 0
	for _, m := range pending {
		if c.ingest.enqueue(m.ID, m.Content) {
			queued++
		}
	}
	c.logger.WithFields(logrus.Fields{"pending": len(pending), "queued": queued}).Info("pending memories queued")
	return queued, nil
}

// Wait blocks until all queued ingestion work has completed.
func (c *Client) Wait() {
	c.ingest.wait()
}

// Close stops background work and closes the embedder and store.
// Queued ingestion work is dropped; call Wait first to drain it.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.ingest.close()
		c.cancel()
		c.bg.Wait()

		var result *multierror.Error
		if err := c.embedder.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := c.storage.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.closeErr = NewMemoryError("Close", result.ErrorOrNil())
	})
	return c.closeErr
}

func (c *Client) mirrorIndex(ctx context.Context, s index.Status) {
	cfg := nativeIndexConfig(s, c.index.Metric(), c.config.Index)
	if cfg == nil {
		return
	}
	log := c.logger.WithFields(logrus.Fields{"strategy": s.Strategy, "version": s.Version})
	if err := c.storage.CreateIndex(ctx, cfg); err != nil {
		log.WithError(err).Warn("failed to create native index")
		return
	}
	log.Info("native index created")
}

// initStorage initializes the vector store. dims is used when the provider
// map does not set embedding_model_dims.
func initStorage(cfg VectorStoreConfig, dims int) (storage.VectorStore, error) {
	m := cfg.Config
	if d := configInt(m, "embedding_model_dims", 0); d > 0 {
		dims = d
	}

	var (
		store storage.VectorStore
		err   error
	)
	switch cfg.Provider {
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:               configString(m, "host", "127.0.0.1"),
			Port:               configInt(m, "port", 2881),
			User:               configString(m, "user", "root@sys"),
			Password:           configString(m, "password", ""),
			DBName:             configString(m, "db_name", "vectormem"),
			CollectionName:     configString(m, "collection_name", "memories"),
			EmbeddingModelDims: dims,
		})
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             configString(m, "db_path", "./vectormem.db"),
			CollectionName:     configString(m, "collection_name", "memories"),
			EmbeddingModelDims: dims,
		})
	case "postgres":
		store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:               configString(m, "host", "localhost"),
			Port:               configInt(m, "port", 5432),
			User:               configString(m, "user", "postgres"),
			Password:           configString(m, "password", ""),
			DBName:             configString(m, "db_name", "vectormem"),
			CollectionName:     configString(m, "collection_name", "memories"),
			EmbeddingModelDims: dims,
			SSLMode:            configString(m, "ssl_mode", "disable"),
		})
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", err)
	}
	return store, nil
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	var (
		provider embedder.Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider, err = openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		provider, err = qwenEmbedder.NewClient(&qwenEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "hash":
		provider = hash.NewProvider(&hash.Config{Dimensions: cfg.Dimensions})
	default:
		return nil, NewMemoryError("initEmbedder", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initEmbedder", err)
	}
	return provider, nil
}
