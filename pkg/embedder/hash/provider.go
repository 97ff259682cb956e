// Package hash provides a deterministic, offline embedder.Provider.
//
// Vectors are built by feature hashing: every lower-cased word is hashed with
// FNV-1a into a bucket and a sign, and the bucket counts are L2-normalized.
// Texts sharing words therefore land close together under cosine similarity.
// It needs no network access, which makes it suitable for development and tests.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is used when Config.Dimensions is zero.
const DefaultDimensions = 256

// Config configures the hash provider.
type Config struct {
	// Dimensions is the vector length (default 256).
	Dimensions int
}

// Provider is a feature-hashing embedder.
type Provider struct {
	dimensions int
}

// NewProvider creates a hash provider.
func NewProvider(cfg *Config) *Provider {
	dims := DefaultDimensions
	if cfg != nil && cfg.Dimensions > 0 {
		dims = cfg.Dimensions
	}
	return &Provider{dimensions: dims}
}

// Embed returns the hashed bag-of-words vector of text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

// EmbedBatch embeds every text in order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

// Dimensions returns the vector length.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) vector(text string) []float64 {
	vec := make([]float64, p.dimensions)
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return normalize(vec)
}

// Tokenize splits text into lower-cased words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
