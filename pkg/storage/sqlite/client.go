// Package sqlite provides SQLite implementation for vector storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale applications. Vectors are stored as JSON strings in a nullable
// TEXT column; NULL marks a memory whose vector is still pending. Similarity
// search happens in the index package, so no vector operations run in SQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// Client implements VectorStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// collectionName is the name of the table storing memories.
	collectionName string

	// dimensions is the dimension of embedding vectors (0 = unchecked).
	dimensions int
}

// Config contains configuration for creating a SQLite VectorStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the table to use (default "memories").
	CollectionName string

	// EmbeddingModelDims is the dimension of embedding vectors.
	EmbeddingModelDims int

	// BusyTimeout is how long writers wait on a locked database (default 5s).
	BusyTimeout time.Duration
}

// NewClient creates a new SQLite VectorStore client.
//
// Returns an error if the database cannot be opened or the table cannot be created.
func NewClient(cfg *Config) (*Client, error) {
	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}
	if err := storage.ValidateIdentifier(collection); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=%d", cfg.DBPath, busy.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
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

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			embedding TEXT,
			importance REAL NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`, c.collectionName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	// Partial index so pending lookups stay cheap as the corpus grows.
	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(created_at) WHERE embedding IS NULL
	`, c.collectionName, c.collectionName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Insert inserts a memory into the SQLite database.
func (c *Client) Insert(ctx context.Context, memory *storage.Memory) error {
	if err := c.checkDims(memory.Embedding); err != nil {
		return err
	}

	embedding, err := encodeEmbedding(memory.Embedding)
	if err != nil {
		return errs.Storage("Insert", err)
	}
	metadataJSON, err := storage.EncodeMetadata(memory.Metadata)
	if err != nil {
		return errs.Storage("Insert", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, importance, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.collectionName)

	_, err = c.db.ExecContext(ctx, query,
		memory.ID,
		memory.Content,
		embedding,
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
		SELECT id, content, embedding, importance, metadata, created_at, updated_at
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

	encoded, err := encodeEmbedding(embedding)
	if err != nil {
		return errs.Storage("UpdateEmbedding", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET embedding = ?, updated_at = ? WHERE id = ?`, c.collectionName)
	result, err := c.db.ExecContext(ctx, query, encoded, updatedAt.UTC(), id)
	if err != nil {
		return errs.Storage("UpdateEmbedding", err)
	}
	return requireRow(result, "UpdateEmbedding", id)
}

// Delete deletes a memory by ID.
func (c *Client) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.collectionName)
	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return errs.Storage("Delete", err)
	}
	return requireRow(result, "Delete", id)
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
		var raw sql.NullString
		if err := rows.Scan(&id, &raw); err != nil {
			return errs.Storage("ScanEmbeddings", err)
		}
		vec, err := decodeEmbedding(raw)
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
		SELECT id, content, embedding, importance, metadata, created_at, updated_at
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
//
// SQLite does not support vector indexes, so this method is a no-op.
// Queries are served by the in-process index.
func (c *Client) CreateIndex(ctx context.Context, config *storage.VectorIndexConfig) error {
	return nil
}

func (c *Client) checkDims(embedding []float64) error {
	if c.dimensions > 0 && len(embedding) > 0 && len(embedding) != c.dimensions {
		return errs.Dimension(c.dimensions, len(embedding))
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
	var metadata sql.NullString

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

	if memory.Embedding, err = decodeEmbedding(embedding); err != nil {
		return nil, err
	}
	if metadata.Valid {
		if memory.Metadata, err = storage.DecodeMetadata([]byte(metadata.String)); err != nil {
			return nil, err
		}
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
