package hash

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestProvider_Deterministic(t *testing.T) {
	p := NewProvider(&Config{Dimensions: 64})
	a, err := p.Embed(context.Background(), "The cat sat on the mat")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the CAT sat on the mat!")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, math.Sqrt(dot(a, a)), 1e-9)
}

func TestProvider_SharedWordsAreCloser(t *testing.T) {
	p := NewProvider(nil)
	ctx := context.Background()

	q, _ := p.Embed(ctx, "golang concurrency patterns")
	near, _ := p.Embed(ctx, "concurrency patterns in golang services")
	far, _ := p.Embed(ctx, "banana bread recipe")

	assert.Greater(t, dot(q, near), dot(q, far))
}

func TestProvider_EmbedBatch(t *testing.T) {
	p := NewProvider(nil)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a b", "c d"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	single, _ := p.Embed(context.Background(), "c d")
	assert.Equal(t, single, vecs[1])
	assert.Equal(t, DefaultDimensions, p.Dimensions())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, world! 42"))
	assert.Empty(t, Tokenize("  ...  "))
}
