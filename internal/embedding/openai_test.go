package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripmesh/contextengine/internal/config"
)

func testModel(t *testing.T, handler http.HandlerFunc) Model {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewOpenAIModel(config.EmbeddingConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Model:      "test-embed",
		Dimensions: 3,
	})
	require.NoError(t, err)
	return m
}

func TestNewOpenAIModel_RequiresConfig(t *testing.T) {
	_, err := NewOpenAIModel(config.EmbeddingConfig{BaseURL: "http://x", Model: "m", Dimensions: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestOpenAIModel_EmbedBatch_ReordersByIndex(t *testing.T) {
	m := testModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Respond out of order; the client must restore input order.
		fmt.Fprint(w, `{"data":[
			{"embedding":[0,1,0],"index":1},
			{"embedding":[1,0,0],"index":0}
		],"model":"test-embed"}`)
	})

	vecs, err := m.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0}, vecs[1])
}

func TestOpenAIModel_EmbedBatch_CountMismatch(t *testing.T) {
	m := testModel(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[1,0,0],"index":0}],"model":"test-embed"}`)
	})

	_, err := m.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.Retryable)
}

func TestOpenAIModel_QuotaErrorIsRetryable(t *testing.T) {
	m := testModel(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})

	_, err := m.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Retryable)
	assert.Equal(t, http.StatusTooManyRequests, pe.Status)
}

func TestOpenAIModel_MalformedInputIsNotRetryable(t *testing.T) {
	m := testModel(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid input", http.StatusBadRequest)
	})

	_, err := m.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestOpenAIModel_EmptyTextShortCircuits(t *testing.T) {
	m := testModel(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider should not be called for empty text")
	})

	vec, err := m.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 3), vec)
}
