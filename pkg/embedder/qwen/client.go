// Package qwen provides Qwen Embedder implementation using Alibaba Cloud DashScope Text Embedding API.
//
// This package implements the embedder.Provider interface. Non-200 responses are
// reported as *embedder.StatusError so callers can tell throttling from bad input.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/oceanbase/vectormem/pkg/embedder"
)

// maxErrorBody limits how much of a failed response body is kept in errors.
const maxErrorBody = 4096

const (
	defaultBaseURL    = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel      = "text-embedding-v4"
	defaultDimensions = 1536
	embeddingPath     = "/services/embeddings/text-embedding/text-embedding"
)

// Client implements embedder.Provider using the DashScope text embedding API.
type Client struct {
	http     *http.Client
	apiKey   string
	endpoint string
	model    string
	dims     int
	textType string
}

// Config contains configuration for creating a Qwen client.
// Only APIKey is required.
type Config struct {
	APIKey     string
	Model      string // default text-embedding-v4
	BaseURL    string // default DashScope public endpoint
	Dimensions int    // default 1536
	TextType   string // "document" (default) or "query"
	HTTPClient *http.Client
}

// NewClient creates a new Qwen Embedder client.
//
// Returns an error if configuration is invalid (e.g., missing APIKey).
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("qwen: API key is required")
	}

	c := &Client{
		http:     cfg.HTTPClient,
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(lo.Ternary(cfg.BaseURL != "", cfg.BaseURL, defaultBaseURL), "/") + embeddingPath,
		model:    lo.Ternary(cfg.Model != "", cfg.Model, defaultModel),
		dims:     lo.Ternary(cfg.Dimensions > 0, cfg.Dimensions, defaultDimensions),
		textType: lo.Ternary(cfg.TextType != "", cfg.TextType, "document"),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	return c, nil
}

// Embed converts a single text string into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple text strings into vector embeddings in a single request.
// The order of the result matches texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return c.embed(ctx, texts)
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input struct {
		Texts []string `json:"texts"`
	} `json:"input"`
	Parameters struct {
		Dimension int    `json:"dimension"`
		TextType  string `json:"text_type"`
	} `json:"parameters"`
}

type embeddingResponse struct {
	Output struct {
		Embeddings []struct {
			TextIndex int       `json:"text_index"`
			Embedding []float64 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float64, error) {
	var body embeddingRequest
	body.Model = c.model
	body.Input.Texts = texts
	body.Parameters.Dimension = c.dims
	body.Parameters.TextType = c.textType

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("qwen: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.http.Do(req)
	if err != nil {
		// Keep the *url.Error chain intact so timeouts stay classifiable.
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &embedder.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var response embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(response.Output.Embeddings) != len(texts) {
		return nil, fmt.Errorf("qwen: got %d embeddings for %d inputs", len(response.Output.Embeddings), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, emb := range response.Output.Embeddings {
		idx := emb.TextIndex
		if idx < 0 || idx >= len(texts) || embeddings[idx] != nil {
			idx = i
		}
		embeddings[idx] = emb.Embedding
	}

	return embeddings, nil
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int {
	return c.dims
}

// Close is a no-op; HTTP clients do not need explicit closing.
func (c *Client) Close() error {
	return nil
}
