package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/vectormem/pkg/index"
)

// Config contains the complete configuration for a vectormem client.
//
// It includes settings for:
//   - Embedding provider and its retry policy
//   - Vector store (for memory persistence)
//   - Vector index thresholds and build parameters
//   - Search ranking
//   - Ingestion mode
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-ada-002",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`

	// Index contains vector index configuration.
	Index IndexConfig `json:"index" yaml:"index"`

	// Search contains ranking configuration.
	Search SearchConfig `json:"search" yaml:"search"`

	// Ingestion controls how vectors are attached to new memories.
	Ingestion IngestionConfig `json:"ingestion" yaml:"ingestion"`

	// LogLevel is a logrus level name (default "info").
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, qwen, hash
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen, hash).
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-ada-002", "text-embedding-v4").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536, 1024).
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`

	// Retry controls validation, rate limiting and backoff of provider calls.
	Retry RetryConfig `json:"retry" yaml:"retry"`
}

// RetryConfig configures the embedding retry policy. Durations are in milliseconds.
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	BackoffBaseMs  int     `json:"backoff_base_ms,omitempty" yaml:"backoff_base_ms,omitempty"`
	BackoffMaxMs   int     `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty"`
	MaxTotalWaitMs int     `json:"max_total_wait_ms,omitempty" yaml:"max_total_wait_ms,omitempty"`
	Jitter         float64 `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	Seed           uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	MaxInputLength int     `json:"max_input_length,omitempty" yaml:"max_input_length,omitempty"`
	RateLimit      float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RateBurst      int     `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: oceanbase, sqlite, postgres
//
// Example:
//
//	storeConfig := core.VectorStoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path":         "./memories.db",
//	        "collection_name": "memories",
//	    },
//	}
type VectorStoreConfig struct {
	// Provider is the vector store provider name (oceanbase, sqlite, postgres).
	Provider string `json:"provider" yaml:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name, embedding_model_dims
	// For OceanBase: host, port, user, password, db_name, collection_name, embedding_model_dims
	// For PostgreSQL: host, port, user, password, db_name, collection_name, embedding_model_dims, ssl_mode
	Config map[string]interface{} `json:"config" yaml:"config"`

	// NativeIndex mirrors every swapped in-process index as a backend vector index.
	NativeIndex bool `json:"native_index,omitempty" yaml:"native_index,omitempty"`
}

// IndexConfig configures the in-process vector index. Durations are in milliseconds.
type IndexConfig struct {
	// Metric is cosine, l2 or ip (default cosine).
	Metric string `json:"metric,omitempty" yaml:"metric,omitempty"`

	SmallCorpus        int     `json:"small_corpus,omitempty" yaml:"small_corpus,omitempty"`
	LargeCorpus        int     `json:"large_corpus,omitempty" yaml:"large_corpus,omitempty"`
	LatencyCeilingMs   int     `json:"latency_ceiling_ms,omitempty" yaml:"latency_ceiling_ms,omitempty"`
	GrowthFraction     float64 `json:"growth_fraction,omitempty" yaml:"growth_fraction,omitempty"`
	HysteresisWindows  int     `json:"hysteresis_windows,omitempty" yaml:"hysteresis_windows,omitempty"`
	EvaluateIntervalMs int     `json:"evaluate_interval_ms,omitempty" yaml:"evaluate_interval_ms,omitempty"`
	BurstSize          int     `json:"burst_size,omitempty" yaml:"burst_size,omitempty"`
	MaxBuildFailures   int     `json:"max_build_failures,omitempty" yaml:"max_build_failures,omitempty"`

	// MaxIndexVectors aborts builds over this many vectors (0 = unlimited).
	MaxIndexVectors int `json:"max_index_vectors,omitempty" yaml:"max_index_vectors,omitempty"`

	// HNSW configures approximate-graph builds.
	HNSW HNSWConfig `json:"hnsw" yaml:"hnsw"`

	// IVF configures approximate-clustering builds.
	IVF IVFConfig `json:"ivf" yaml:"ivf"`
}

// HNSWConfig contains parameters for graph index builds.
type HNSWConfig struct {
	M              int `json:"m,omitempty" yaml:"m,omitempty"`
	EfConstruction int `json:"ef_construction,omitempty" yaml:"ef_construction,omitempty"`
	EfSearch       int `json:"ef_search,omitempty" yaml:"ef_search,omitempty"`
}

// IVFConfig contains parameters for clustering index builds.
type IVFConfig struct {
	Nlist      int `json:"nlist,omitempty" yaml:"nlist,omitempty"`
	Nprobe     int `json:"nprobe,omitempty" yaml:"nprobe,omitempty"`
	Iterations int `json:"iterations,omitempty" yaml:"iterations,omitempty"`
}

// SearchConfig configures ranking.
type SearchConfig struct {
	// DefaultLimit is used when a search does not set one (default 10).
	DefaultLimit int `json:"default_limit,omitempty" yaml:"default_limit,omitempty"`

	// OverFetch multiplies the limit when querying the index (default 2.0).
	OverFetch float64 `json:"over_fetch,omitempty" yaml:"over_fetch,omitempty"`

	// SimilarityWeight and ImportanceWeight blend the final score
	// (default 1.0 and 0.0).
	SimilarityWeight float64 `json:"similarity_weight,omitempty" yaml:"similarity_weight,omitempty"`
	ImportanceWeight float64 `json:"importance_weight,omitempty" yaml:"importance_weight,omitempty"`

	// PendingTextWeight scales lexical matches on pending memories (default 0.5).
	PendingTextWeight float64 `json:"pending_text_weight,omitempty" yaml:"pending_text_weight,omitempty"`

	// DisablePendingMatch excludes pending memories from search.
	DisablePendingMatch bool `json:"disable_pending_match,omitempty" yaml:"disable_pending_match,omitempty"`

	// QueryCacheSize is the number of cached query vectors (default 256).
	QueryCacheSize int `json:"query_cache_size,omitempty" yaml:"query_cache_size,omitempty"`
}

// IngestionConfig controls embedding of new memories.
type IngestionConfig struct {
	// Async persists memories pending and embeds them on a worker pool.
	Async bool `json:"async,omitempty" yaml:"async,omitempty"`

	Workers        int `json:"workers,omitempty" yaml:"workers,omitempty"`
	QueueSize      int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	MaxRequeues    int `json:"max_requeues,omitempty" yaml:"max_requeues,omitempty"`
	RequeueDelayMs int `json:"requeue_delay_ms,omitempty" yaml:"requeue_delay_ms,omitempty"`

	// MaxContentLength is the longest accepted content in runes (default 65536).
	MaxContentLength int `json:"max_content_length,omitempty" yaml:"max_content_length,omitempty"`

	// ReingestOnStart queues every pending memory when the client starts.
	ReingestOnStart bool `json:"reingest_on_start,omitempty" yaml:"reingest_on_start,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, oceanbase, postgres), VECTOR_STORE_NATIVE_INDEX
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - SQLITE_PATH, SQLITE_COLLECTION, etc.
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - EMBEDDING_RETRY_MAX_ATTEMPTS, EMBEDDING_RETRY_BASE_MS, EMBEDDING_RETRY_MAX_MS, ...
//   - INDEX_METRIC, INDEX_SMALL_CORPUS, INDEX_LARGE_CORPUS, INDEX_LATENCY_CEILING_MS, ...
//   - SEARCH_OVER_FETCH, SEARCH_SIMILARITY_WEIGHT, SEARCH_IMPORTANCE_WEIGHT, ...
//   - INGEST_ASYNC, INGEST_WORKERS, INGEST_QUEUE_SIZE, ...
//   - LOG_LEVEL
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	vectorStoreConfig := make(map[string]interface{})

	switch provider {
	case "oceanbase":
		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":                 getEnvInt("OCEANBASE_PORT", 2881),
			"user":                 getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":             os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":              getEnvOrDefault("OCEANBASE_DATABASE", "vectormem"),
			"collection_name":      getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
			"embedding_model_dims": getEnvInt("OCEANBASE_EMBEDDING_MODEL_DIMS", 1536),
		}
	case "sqlite":
		vectorStoreConfig = map[string]interface{}{
			"db_path":              getEnvOrDefault("SQLITE_PATH", "./vectormem.db"),
			"collection_name":      getEnvOrDefault("SQLITE_COLLECTION", "memories"),
			"embedding_model_dims": getEnvInt("SQLITE_EMBEDDING_MODEL_DIMS", 0),
		}
	case "postgres":
		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 getEnvInt("POSTGRES_PORT", 5432),
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "vectormem"),
			"collection_name":      getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"embedding_model_dims": getEnvInt("POSTGRES_EMBEDDING_MODEL_DIMS", 1536),
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "qwen")
	embedderModel := os.Getenv("EMBEDDING_MODEL")

	// Set default base URL based on provider
	var embedderBaseURL string
	switch embedderProvider {
	case "qwen":
		embedderBaseURL = getEnvOrDefault("QWEN_EMBEDDING_BASE_URL", "https://dashscope.aliyuncs.com/api/v1")
		if embedderModel == "" {
			embedderModel = "text-embedding-v4"
		}
	case "openai":
		embedderBaseURL = getEnvOrDefault("OPENAI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
		if embedderModel == "" {
			embedderModel = "text-embedding-ada-002"
		}
	default:
		embedderBaseURL = os.Getenv("EMBEDDING_BASE_URL")
	}

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: getEnvInt("EMBEDDING_DIMS", 0),
			Retry: RetryConfig{
				MaxAttempts:    getEnvInt("EMBEDDING_RETRY_MAX_ATTEMPTS", 0),
				BackoffBaseMs:  getEnvInt("EMBEDDING_RETRY_BASE_MS", 0),
				BackoffMaxMs:   getEnvInt("EMBEDDING_RETRY_MAX_MS", 0),
				MaxTotalWaitMs: getEnvInt("EMBEDDING_RETRY_MAX_TOTAL_WAIT_MS", 0),
				Jitter:         getEnvFloat("EMBEDDING_RETRY_JITTER", 0),
				Seed:           uint64(getEnvInt("EMBEDDING_RETRY_SEED", 0)),
				MaxInputLength: getEnvInt("EMBEDDING_MAX_INPUT_LENGTH", 0),
				RateLimit:      getEnvFloat("EMBEDDING_RATE_LIMIT", 0),
				RateBurst:      getEnvInt("EMBEDDING_RATE_BURST", 0),
			},
		},
		VectorStore: VectorStoreConfig{
			Provider:    provider,
			Config:      vectorStoreConfig,
			NativeIndex: getEnvBool("VECTOR_STORE_NATIVE_INDEX"),
		},
		Index: IndexConfig{
			Metric:             os.Getenv("INDEX_METRIC"),
			SmallCorpus:        getEnvInt("INDEX_SMALL_CORPUS", 0),
			LargeCorpus:        getEnvInt("INDEX_LARGE_CORPUS", 0),
			LatencyCeilingMs:   getEnvInt("INDEX_LATENCY_CEILING_MS", 0),
			GrowthFraction:     getEnvFloat("INDEX_GROWTH_FRACTION", 0),
			HysteresisWindows:  getEnvInt("INDEX_HYSTERESIS_WINDOWS", 0),
			EvaluateIntervalMs: getEnvInt("INDEX_EVALUATE_INTERVAL_MS", 0),
			BurstSize:          getEnvInt("INDEX_BURST_SIZE", 0),
			MaxBuildFailures:   getEnvInt("INDEX_MAX_BUILD_FAILURES", 0),
			MaxIndexVectors:    getEnvInt("INDEX_MAX_VECTORS", 0),
			HNSW: HNSWConfig{
				M:              getEnvInt("INDEX_HNSW_M", 0),
				EfConstruction: getEnvInt("INDEX_HNSW_EF_CONSTRUCTION", 0),
				EfSearch:       getEnvInt("INDEX_HNSW_EF_SEARCH", 0),
			},
			IVF: IVFConfig{
				Nlist:  getEnvInt("INDEX_IVF_NLIST", 0),
				Nprobe: getEnvInt("INDEX_IVF_NPROBE", 0),
			},
		},
		Search: SearchConfig{
			DefaultLimit:        getEnvInt("SEARCH_DEFAULT_LIMIT", 0),
			OverFetch:           getEnvFloat("SEARCH_OVER_FETCH", 0),
			SimilarityWeight:    getEnvFloat("SEARCH_SIMILARITY_WEIGHT", 0),
			ImportanceWeight:    getEnvFloat("SEARCH_IMPORTANCE_WEIGHT", 0),
			PendingTextWeight:   getEnvFloat("SEARCH_PENDING_TEXT_WEIGHT", 0),
			DisablePendingMatch: getEnvBool("SEARCH_DISABLE_PENDING_MATCH"),
			QueryCacheSize:      getEnvInt("SEARCH_QUERY_CACHE_SIZE", 0),
		},
		Ingestion: IngestionConfig{
			Async:            getEnvBool("INGEST_ASYNC"),
			Workers:          getEnvInt("INGEST_WORKERS", 0),
			QueueSize:        getEnvInt("INGEST_QUEUE_SIZE", 0),
			MaxRequeues:      getEnvInt("INGEST_MAX_REQUEUES", 0),
			RequeueDelayMs:   getEnvInt("INGEST_REQUEUE_DELAY_MS", 0),
			MaxContentLength: getEnvInt("INGEST_MAX_CONTENT_LENGTH", 0),
			ReingestOnStart:  getEnvBool("INGEST_REINGEST_ON_START"),
		},
		LogLevel: os.Getenv("LOG_LEVEL"),
	}

	config.applyDefaults()
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	config.applyDefaults()
	return &config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills zero values. Fields left zero here are defaulted by the
// component that consumes them.
func (c *Config) applyDefaults() {
	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "sqlite"
	}
	if c.Index.Metric == "" {
		c.Index.Metric = string(index.MetricCosine)
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.OverFetch == 0 {
		c.Search.OverFetch = 2.0
	}
	if c.Search.SimilarityWeight == 0 && c.Search.ImportanceWeight == 0 {
		c.Search.SimilarityWeight = 1.0
	}
	if c.Search.PendingTextWeight == 0 {
		c.Search.PendingTextWeight = 0.5
	}
	if c.Search.QueryCacheSize == 0 {
		c.Search.QueryCacheSize = 256
	}
	if c.Ingestion.Workers <= 0 {
		c.Ingestion.Workers = 4
	}
	if c.Ingestion.QueueSize <= 0 {
		c.Ingestion.QueueSize = 1024
	}
	if c.Ingestion.MaxRequeues == 0 {
		c.Ingestion.MaxRequeues = 3
	}
	if c.Ingestion.RequeueDelayMs <= 0 {
		c.Ingestion.RequeueDelayMs = 1000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate validates the configuration.
//
// Checks that providers are named, the metric and log level parse, and that
// numeric settings are within range.
func (c *Config) Validate() error {
	if c.Embedder.Provider == "" {
		return invalidConfig("embedder provider is required")
	}
	if c.VectorStore.Provider == "" {
		return invalidConfig("vector store provider is required")
	}
	if _, err := index.ParseMetric(c.Index.Metric); err != nil {
		return invalidConfig("%v", err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); c.LogLevel != "" && err != nil {
		return invalidConfig("%v", err)
	}
	if c.Index.SmallCorpus > 0 && c.Index.LargeCorpus > 0 && c.Index.SmallCorpus >= c.Index.LargeCorpus {
		return invalidConfig("index small_corpus %d must be below large_corpus %d", c.Index.SmallCorpus, c.Index.LargeCorpus)
	}
	if c.Index.GrowthFraction < 0 {
		return invalidConfig("index growth_fraction must not be negative")
	}
	if c.Embedder.Retry.Jitter < 0 || c.Embedder.Retry.Jitter >= 1 {
		return invalidConfig("embedder retry jitter must be in [0, 1)")
	}
	if c.Search.OverFetch < 1 {
		return invalidConfig("search over_fetch must be at least 1")
	}
	if c.Search.SimilarityWeight < 0 || c.Search.ImportanceWeight < 0 || c.Search.PendingTextWeight < 0 {
		return invalidConfig("search weights must not be negative")
	}
	if c.Ingestion.MaxRequeues < 0 {
		return invalidConfig("ingestion max_requeues must not be negative")
	}
	return nil
}

func invalidConfig(format string, args ...interface{}) error {
	return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return v
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
