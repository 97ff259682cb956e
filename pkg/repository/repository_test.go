package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/index"
	"github.com/oceanbase/vectormem/pkg/storage"
	"github.com/oceanbase/vectormem/pkg/storage/sqlite"
)

type recordingIndexer struct {
	mu      sync.Mutex
	inserts map[int64]int
	removed map[int64]bool
	fail    error
}

func newRecordingIndexer() *recordingIndexer {
	return &recordingIndexer{inserts: map[int64]int{}, removed: map[int64]bool{}}
}

func (r *recordingIndexer) Insert(id int64, vec []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.inserts[id]++
	delete(r.removed, id)
	return nil
}

func (r *recordingIndexer) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[id] = true
}

func (r *recordingIndexer) insertCount(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts[id]
}

func setupRepository(t *testing.T, idx Indexer) *Repository {
	t.Helper()
	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath:             filepath.Join(t.TempDir(), "repo.db"),
		EmbeddingModelDims: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo, err := New(Config{Dimensions: 3, MaxContentLength: 32}, store, idx)
	require.NoError(t, err)
	return repo
}

func ptr(v float64) *float64 { return &v }

func TestRepository_CreatePending(t *testing.T) {
	idx := newRecordingIndexer()
	repo := setupRepository(t, idx)
	ctx := context.Background()

	m, err := repo.Create(ctx, "hello world", map[string]interface{}{"k": "v"}, ptr(0.7), nil)
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.True(t, m.Pending())

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, 0.7, got.Importance)
	assert.True(t, got.Pending())
	assert.Zero(t, idx.insertCount(m.ID))

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.ID, pending[0].ID)
}

func TestRepository_CreateWithVector(t *testing.T) {
	idx := newRecordingIndexer()
	repo := setupRepository(t, idx)

	m, err := repo.Create(context.Background(), "vectored", nil, nil, []float64{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, m.Pending())
	assert.Equal(t, 1, idx.insertCount(m.ID))
	// derived importance
	assert.GreaterOrEqual(t, m.Importance, 0.0)
	assert.LessOrEqual(t, m.Importance, 1.0)
}

func TestRepository_CreateValidation(t *testing.T) {
	repo := setupRepository(t, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		content    string
		importance *float64
		vec        []float64
		want       error
	}{
		{"empty content", "", nil, nil, errs.ErrInvalidInput},
		{"too long", "this content is longer than thirty-two runes", nil, nil, errs.ErrInvalidInput},
		{"importance above one", "ok", ptr(1.5), nil, errs.ErrInvalidInput},
		{"negative importance", "ok", ptr(-0.1), nil, errs.ErrInvalidInput},
		{"wrong dimension", "ok", nil, []float64{1, 2}, errs.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Create(ctx, tt.content, nil, tt.importance, tt.vec)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestRepository_AttachVectorIdempotent(t *testing.T) {
	idx := newRecordingIndexer()
	repo := setupRepository(t, idx)
	ctx := context.Background()

	m, err := repo.Create(ctx, "pending", nil, nil, nil)
	require.NoError(t, err)

	changed, err := repo.AttachVector(ctx, m.ID, []float64{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, changed)

	first, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)

	changed, err = repo.AttachVector(ctx, m.ID, []float64{0, 1, 0})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, idx.insertCount(m.ID))

	second, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
	assert.True(t, second.CreatedAt.Equal(m.CreatedAt))

	changed, err = repo.AttachVector(ctx, m.ID, []float64{0, 0, 1})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, idx.insertCount(m.ID))
}

// float32Store rounds stored vectors the way pgvector and OceanBase VECTOR columns do.
type float32Store struct {
	storage.VectorStore
}

func (s float32Store) UpdateEmbedding(ctx context.Context, id int64, embedding []float64, updatedAt time.Time) error {
	rounded := make([]float64, len(embedding))
	for i, v := range embedding {
		rounded[i] = float64(float32(v))
	}
	return s.VectorStore.UpdateEmbedding(ctx, id, rounded, updatedAt)
}

func TestRepository_AttachVectorIdempotentAtFloat32(t *testing.T) {
	store, err := sqlite.NewClient(&sqlite.Config{
		DBPath:             filepath.Join(t.TempDir(), "repo.db"),
		EmbeddingModelDims: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx := newRecordingIndexer()
	repo, err := New(Config{Dimensions: 3}, float32Store{VectorStore: store}, idx)
	require.NoError(t, err)
	ctx := context.Background()

	m, err := repo.Create(ctx, "pending", nil, nil, nil)
	require.NoError(t, err)

	vec := []float64{0.1, 0.2, 0.3}
	changed, err := repo.AttachVector(ctx, m.ID, vec)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.AttachVector(ctx, m.ID, vec)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, idx.insertCount(m.ID))
}

func TestRepository_DeleteThenGone(t *testing.T) {
	idx := newRecordingIndexer()
	repo := setupRepository(t, idx)
	ctx := context.Background()

	m, err := repo.Create(ctx, "bye", nil, nil, []float64{1, 0, 0})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, m.ID))
	assert.True(t, idx.removed[m.ID])

	_, err = repo.Get(ctx, m.ID)
	assert.ErrorIs(t, err, errs.ErrGone)
	assert.ErrorIs(t, repo.Delete(ctx, m.ID), errs.ErrGone)

	_, err = repo.AttachVector(ctx, m.ID, []float64{0, 1, 0})
	assert.ErrorIs(t, err, errs.ErrGone)

	_, err = repo.Get(ctx, 12345)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.False(t, errors.Is(err, errs.ErrGone))
}

func TestRepository_IndexFailureKeepsRecord(t *testing.T) {
	idx := newRecordingIndexer()
	idx.fail = errors.New("boom")
	repo := setupRepository(t, idx)

	m, err := repo.Create(context.Background(), "durable", nil, nil, []float64{1, 0, 0})
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, got.Embedding)
}

func TestRepository_TimestampsMonotonic(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store, err := sqlite.NewClient(&sqlite.Config{DBPath: filepath.Join(t.TempDir(), "ts.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo, err := New(Config{}, store, nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	a, err := repo.Create(context.Background(), "a", nil, nil, nil)
	require.NoError(t, err)
	b, err := repo.Create(context.Background(), "b", nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, b.CreatedAt.After(a.CreatedAt))
}

// Attaches racing a delete never resurrect the memory in the index.
func TestRepository_ConcurrentAttachDelete(t *testing.T) {
	mgr := index.NewManager(index.Config{Dimensions: 3}, nil)
	repo := setupRepository(t, mgr)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 20; i++ {
		m, err := repo.Create(ctx, "racing", nil, nil, nil)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(2)
		go func(id int64, i int) {
			defer wg.Done()
			_, _ = repo.AttachVector(ctx, id, []float64{float64(i + 1), 1, 0})
		}(id, i)
		go func(id int64) {
			defer wg.Done()
			_ = repo.Delete(ctx, id)
		}(id)
	}
	wg.Wait()

	hits, err := mgr.Search(ctx, []float64{1, 1, 0}, 50)
	require.NoError(t, err)
	assert.Empty(t, hits)
	for _, id := range ids {
		_, err := repo.Get(ctx, id)
		assert.ErrorIs(t, err, errs.ErrGone)
	}
}
