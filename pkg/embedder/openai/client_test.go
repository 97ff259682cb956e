package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/vectormem/pkg/embedder"
	"github.com/oceanbase/vectormem/pkg/errs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, dims int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&Config{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "text-embedding-ada-002", Dimensions: dims})
	require.NoError(t, err)
	return c
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}],
			"model":"text-embedding-ada-002"}`))
	}, 2)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
}

func TestEmbed_WrongDimensions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0,0]}]}`))
	}, 2)

	_, err := c.Embed(context.Background(), "a")
	assert.ErrorContains(t, err, "returned 3 dimensions")
}

func TestEmbed_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}, 2)

	_, err := c.Embed(context.Background(), "a")
	var statusErr *embedder.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, embedder.Retryable(err))
}

func TestEmbedBatch_Empty(t *testing.T) {
	c, err := NewClient(&Config{APIKey: "k"})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, defaultDimensions, c.Dimensions())
}

func TestNewClient_Model(t *testing.T) {
	c, err := NewClient(&Config{APIKey: "k", Model: "text-embedding-ada-002"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", c.model.String())

	c, err = NewClient(&Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", c.model.String())

	_, err = NewClient(&Config{APIKey: "k", Model: "not-a-model"})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}
