// Package openai provides an embedder.Provider backed by the OpenAI Embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/vectormem/pkg/embedder"
	"github.com/oceanbase/vectormem/pkg/errs"
)

const defaultDimensions = 1536

// Config is the configuration for the OpenAI provider.
type Config struct {
	// APIKey is required.
	APIKey string

	// Model defaults to text-embedding-ada-002. It must be a model name
	// go-openai knows; anything else is rejected with errs.ErrInvalidConfig.
	Model string

	// BaseURL points at an OpenAI-compatible endpoint; empty means api.openai.com.
	BaseURL string

	// Dimensions is the width of the returned vectors (default 1536).
	// Responses of another width are rejected.
	Dimensions int
}

// Client implements embedder.Provider on top of go-openai.
type Client struct {
	api        *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewClient creates a new OpenAI provider.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	c := &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      openai.AdaEmbeddingV2,
		dimensions: cfg.Dimensions,
	}
	if cfg.Model != "" {
		// go-openai enumerates the models it can send; unknown names decode to Unknown.
		var model openai.EmbeddingModel
		_ = model.UnmarshalText([]byte(cfg.Model))
		if model == openai.Unknown {
			return nil, fmt.Errorf("%w: openai: unsupported embedding model %q", errs.ErrInvalidConfig, cfg.Model)
		}
		c.model = model
	}
	if c.dimensions <= 0 {
		c.dimensions = defaultDimensions
	}
	return c, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts texts to vectors in one request. The result is ordered
// by the response's Index field, so it always lines up with texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, statusError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) || out[item.Index] != nil {
			return nil, fmt.Errorf("openai: bad embedding index %d", item.Index)
		}
		if len(item.Embedding) != c.dimensions {
			return nil, fmt.Errorf("openai: model %s returned %d dimensions, configured %d",
				c.model, len(item.Embedding), c.dimensions)
		}
		vec := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float64(v)
		}
		out[item.Index] = vec
	}
	return out, nil
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; go-openai holds no resources.
func (c *Client) Close() error {
	return nil
}

// statusError converts go-openai HTTP failures into *embedder.StatusError so the
// retrying client can classify them. Transport errors pass through unchanged.
func statusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &embedder.StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &embedder.StatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
