package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/vectormem/pkg/embedder"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)
}

func TestEmbedBatch_OrdersByTextIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, embeddingPath, r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input.Texts)
		assert.Equal(t, 2, req.Parameters.Dimension)
		assert.Equal(t, "query", req.Parameters.TextType)

		_, _ = w.Write([]byte(`{"output":{"embeddings":[
			{"text_index":1,"embedding":[0,1]},
			{"text_index":0,"embedding":[1,0]}]}}`))
	}))
	defer srv.Close()

	c, err := NewClient(&Config{APIKey: "k", BaseURL: srv.URL + "/", Dimensions: 2, TextType: "query"})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, c.Dimensions())
}

func TestEmbed_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("throttled"))
	}))
	defer srv.Close()

	c, err := NewClient(&Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	var statusErr *embedder.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "throttled", statusErr.Body)
	assert.True(t, embedder.Retryable(err))
}
