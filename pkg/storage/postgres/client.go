// Package postgres stores memories in PostgreSQL with the pgvector extension.
//
// The embedding column is a nullable vector(n); NULL marks a pending memory.
// CreateIndex mirrors the in-process index as a native HNSW or IVFFlat index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db             *sql.DB
	collectionName string
	dimensions     int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewPostgresClient: %w: embedding dimensions are required", errs.ErrInvalidConfig)
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}
	if err := storage.ValidateIdentifier(collection); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{
		db:             db,
		collectionName: collection,
		dimensions:     cfg.EmbeddingModelDims,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			importance DOUBLE PRECISION NOT NULL DEFAULT 0,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, c.collectionName, c.dimensions)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(created_at) WHERE embedding IS NULL
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: create index: %w", err)
	}

	return nil
}

// Insert inserts a memory.
func (c *Client) Insert(ctx context.Context, memory *storage.Memory) error {
	if err := c.checkDims(memory.Embedding); err != nil {
		return err
	}

	metadataJSON, err := storage.EncodeMetadata(memory.Metadata)
	if err != nil {
		return errs.Storage("Insert", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, content, embedding, importance, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		memory.ID,
		memory.Content,
		vectorParam(memory.Embedding),
		memory.Importance,
		string(metadataJSON),
		memory.CreatedAt.UTC(),
		memory.UpdatedAt.UTC(),
	)
	if err != nil {
		return errs.Storage("Insert", err)
	}
	return nil
}

// Get retrieves a memory by ID.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Memory, error) {
	query := fmt.Sprintf(`
		SELECT id, content, embedding::text, importance, metadata, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, c.collectionName)

	memory, err := scanMemory(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, errs.Storage("Get", err)
	}
	return memory, nil
}

// UpdateEmbedding sets the vector of an existing memory.
func (c *Client) UpdateEmbedding(ctx context.Context, id int64, embedding []float64, updatedAt time.Time) error {
	if len(embedding) == 0 {
		return errs.InvalidInput("embedding must not be empty")
	}
	if err := c.checkDims(embedding); err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET embedding = $1, updated_at = $2 WHERE id = $3`, c.collectionName)
	result, err := c.db.ExecContext(ctx, query, storage.FormatVector(embedding), updatedAt.UTC(), id)
	if err != nil {
		return errs.Storage("UpdateEmbedding", err)
	}
	return requireRow(result, "UpdateEmbedding", id)
}

// Delete deletes a memory.
func (c *Client) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.collectionName)
	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return errs.Storage("Delete", err)
	}
	return requireRow(result, "Delete", id)
}

// ScanEmbeddings streams every stored vector in ID order.
func (c *Client) ScanEmbeddings(ctx context.Context, fn func(id int64, embedding []float64) error) error {
	query := fmt.Sprintf(`SELECT id, embedding::text FROM %s WHERE embedding IS NOT NULL ORDER BY id`, c.collectionName)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return errs.Storage("ScanEmbeddings", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return errs.Storage("ScanEmbeddings", err)
		}
		vec, err := storage.ParseVector(raw)
		if err != nil {
			return errs.Storage("ScanEmbeddings", err)
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Storage("ScanEmbeddings", err)
	}
	return nil
}

// ListPending returns memories still waiting for a vector, oldest first.
func (c *Client) ListPending(ctx context.Context, limit int) ([]*storage.Memory, error) {
	query := fmt.Sprintf(`
		SELECT id, content, embedding::text, importance, metadata, created_at, updated_at
		FROM %s
		WHERE embedding IS NULL
		ORDER BY created_at, id
	`, c.collectionName)
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage("ListPending", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, errs.Storage("ListPending", err)
		}
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("ListPending", err)
	}
	return memories, nil
}

// Count summarises the table.
func (c *Client) Count(ctx context.Context) (storage.Counts, error) {
	var counts storage.Counts
	query := fmt.Sprintf(`SELECT COUNT(*), COUNT(embedding) FROM %s`, c.collectionName)
	if err := c.db.QueryRowContext(ctx, query).Scan(&counts.Total, &counts.Vectored); err != nil {
		return counts, errs.Storage("Count", err)
	}
	counts.Pending = counts.Total - counts.Vectored
	return counts, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// CreateIndex creates a pgvector HNSW or IVFFlat index on the embedding column.
// The operator class follows the configured metric.
func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	opsClass, err := operatorClass(config.MetricType)
	if err != nil {
		return err
	}
	name := indexName(c.collectionName, config)
	if err := storage.ValidateIdentifier(name); err != nil {
		return fmt.Errorf("CreateIndex: %w", err)
	}

	var query string
	switch config.IndexType {
	case storage.IndexTypeHNSW:
		params := config.HNSWParams
		if params == nil {
			params = &storage.HNSWParams{M: 16, EfConstruction: 64}
		}
		query = fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s
			USING hnsw (embedding %s)
			WITH (m = %d, ef_construction = %d)
		`, name, c.collectionName, opsClass, params.M, params.EfConstruction)
	case storage.IndexTypeIVFFlat:
		params := config.IVFParams
		if params == nil {
			params = &storage.IVFParams{Nlist: 100}
		}
		query = fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s
			USING ivfflat (embedding %s)
			WITH (lists = %d)
		`, name, c.collectionName, opsClass, params.Nlist)
	default:
		return errs.InvalidInput("unsupported index type: %s", config.IndexType)
	}

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return errs.Storage("CreateIndex", err)
	}
	return nil
}

func (c *Client) checkDims(embedding []float64) error {
	if len(embedding) > 0 && len(embedding) != c.dimensions {
		return errs.Dimension(c.dimensions, len(embedding))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(scanner rowScanner) (*storage.Memory, error) {
	var memory storage.Memory
	var embedding sql.NullString
	var metadata []byte

	err := scanner.Scan(
		&memory.ID,
		&memory.Content,
		&embedding,
		&memory.Importance,
		&metadata,
		&memory.CreatedAt,
		&memory.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if embedding.Valid {
		if memory.Embedding, err = storage.ParseVector(embedding.String); err != nil {
			return nil, err
		}
	}
	if memory.Metadata, err = storage.DecodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &memory, nil
}

func requireRow(result sql.Result, op string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errs.Storage(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, errs.ErrNotFound)
	}
	return nil
}
