package postgres_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/storage"
	"github.com/oceanbase/vectormem/pkg/storage/postgres"
)

func setupPostgresTest(t *testing.T) *postgres.Client {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}

	port := 5432
	if p, err := strconv.Atoi(os.Getenv("POSTGRES_PORT")); err == nil {
		port = p
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}

	client, err := postgres.NewClient(&postgres.Config{
		Host:               host,
		Port:               port,
		User:               getenv("POSTGRES_USER", "postgres"),
		Password:           password,
		DBName:             getenv("POSTGRES_DATABASE", "postgres"),
		CollectionName:     "vectormem_test_" + strconv.FormatInt(time.Now().UnixNano()%1_000_000, 10),
		EmbeddingModelDims: 3,
	})
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresClient_Lifecycle(t *testing.T) {
	client := setupPostgresTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, client.Insert(ctx, &storage.Memory{
		ID: 1, Content: "pending", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, client.Insert(ctx, &storage.Memory{
		ID: 2, Content: "vectored", Embedding: []float64{1, 0, 0}, Importance: 0.5,
		Metadata: map[string]interface{}{"k": "v"}, CreatedAt: now, UpdatedAt: now,
	}))

	counts, err := client.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{Total: 2, Vectored: 1, Pending: 1}, counts)

	require.NoError(t, client.UpdateEmbedding(ctx, 1, []float64{0, 1, 0}, now.Add(time.Second)))
	got, err := client.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0}, got.Embedding)

	require.NoError(t, client.CreateIndex(ctx, &storage.VectorIndexConfig{IndexType: storage.IndexTypeHNSW}))

	require.NoError(t, client.Delete(ctx, 2))
	_, err = client.Get(ctx, 2)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
