package oceanbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// Client is an OceanBase client.
type Client struct {
	db             *sql.DB
	config         *Config
	collectionName string
}

// Config contains OceanBase configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.EmbeddingModelDims <= 0 {
		return nil, fmt.Errorf("NewOceanBaseClient: %w: embedding dimensions are required", errs.ErrInvalidConfig)
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}
	if err := storage.ValidateIdentifier(collection); err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	client := &Client{
		db:             db,
		config:         cfg,
		collectionName: collection,
	}

	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
// Content lives in the 'document' column with an MD5 hash beside it.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			embedding VECTOR(%d) NULL,
			document LONGTEXT,
			importance DOUBLE NOT NULL DEFAULT 0,
			metadata JSON,
			hash VARCHAR(32),
			created_at VARCHAR(128),
			updated_at VARCHAR(128)
		)
	`, c.collectionName, c.config.EmbeddingModelDims)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
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
		(id, document, embedding, importance, metadata, hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		memory.ID,
		memory.Content,
		vectorParam(memory.Embedding),
		memory.Importance,
		metadataJSON,
		generateHash(memory.Content),
		formatTime(memory.CreatedAt),
		formatTime(memory.UpdatedAt),
	)
	if err != nil {
		return errs.Storage("Insert", err)
	}
	return nil
}

// Get retrieves a memory by ID.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Memory, error) {
	query := fmt.Sprintf(`
		SELECT id, document, embedding, importance, metadata, created_at, updated_at
		FROM %s
		WHERE id = ?
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

	query := fmt.Sprintf(`UPDATE %s SET embedding = ?, updated_at = ? WHERE id = ?`, c.collectionName)
	result, err := c.db.ExecContext(ctx, query, storage.FormatVector(embedding), formatTime(updatedAt), id)
	if err != nil {
		return errs.Storage("UpdateEmbedding", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errs.Storage("UpdateEmbedding", err)
	}
	if rowsAffected == 0 {
		// MySQL reports zero affected rows when nothing changed, so confirm the row exists.
		if _, err := c.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete deletes a memory.
func (c *Client) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.collectionName)

	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return errs.Storage("Delete", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errs.Storage("Delete", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("Delete %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ScanEmbeddings streams every stored vector in ID order.
func (c *Client) ScanEmbeddings(ctx context.Context, fn func(id int64, embedding []float64) error) error {
	query := fmt.Sprintf(`SELECT id, embedding FROM %s WHERE embedding IS NOT NULL ORDER BY id`, c.collectionName)
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
		SELECT id, document, embedding, importance, metadata, created_at, updated_at
		FROM %s
		WHERE embedding IS NULL
		ORDER BY created_at, id
	`, c.collectionName)
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
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

// CreateIndex creates a vector index.
func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	distance, err := distanceName(config.MetricType)
	if err != nil {
		return err
	}
	name := config.IndexName
	if name == "" {
		name = fmt.Sprintf("vidx_%s_%s", c.collectionName, distance)
	}
	if err := storage.ValidateIdentifier(name); err != nil {
		return fmt.Errorf("CreateIndex: %w", err)
	}

	var query string
	switch config.IndexType {
	case storage.IndexTypeHNSW:
		params := config.HNSWParams
		if params == nil {
			params = &storage.HNSWParams{M: 16, EfConstruction: 200}
		}
		query = fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (embedding) WITH (
				distance = %s,
				type = hnsw,
				lib = vsag,
				m = %d,
				ef_construction = %d
			)`,
			name, c.collectionName, distance, params.M, params.EfConstruction,
		)
	case storage.IndexTypeIVFFlat:
		params := config.IVFParams
		if params == nil {
			params = &storage.IVFParams{Nlist: 128}
		}
		query = fmt.Sprintf(`
			CREATE VECTOR INDEX %s ON %s (embedding) WITH (
				distance = %s,
				type = ivf_flat,
				lib = ob,
				nlist = %d
			)`,
			name, c.collectionName, distance, params.Nlist,
		)
	default:
		return errs.InvalidInput("invalid index type: %s", config.IndexType)
	}

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		if isDuplicateIndex(err) {
			return nil
		}
		return errs.Storage("CreateIndex", err)
	}
	return nil
}

func (c *Client) checkDims(embedding []float64) error {
	if len(embedding) > 0 && len(embedding) != c.config.EmbeddingModelDims {
		return errs.Dimension(c.config.EmbeddingModelDims, len(embedding))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory scans a memory from a *sql.Row or *sql.Rows.
func scanMemory(scanner rowScanner) (*storage.Memory, error) {
	var memory storage.Memory
	var embedding sql.NullString
	var metadataJSON []byte
	var createdAt sql.NullString
	var updatedAt sql.NullString

	err := scanner.Scan(
		&memory.ID,
		&memory.Content,
		&embedding,
		&memory.Importance,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if embedding.Valid && embedding.String != "" {
		if memory.Embedding, err = storage.ParseVector(embedding.String); err != nil {
			return nil, err
		}
	}
	if memory.Metadata, err = storage.DecodeMetadata(metadataJSON); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		memory.CreatedAt = parseTime(createdAt.String)
	}
	if updatedAt.Valid {
		memory.UpdatedAt = parseTime(updatedAt.String)
	}
	return &memory, nil
}
