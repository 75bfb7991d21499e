package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeEmbeddingsServer answers /embeddings with vectors [len(text), index], listing the
// data items in reverse to check placement by index.
func fakeEmbeddingsServer(t *testing.T, failures int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"try later","type":"server_error"}}`))
			return
		}
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(req.Input[i])), float64(i)},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewOpenAIEmbedder(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimensions())
	assert.Equal(t, DefaultOpenAIModel, e.Model())

	_, err = NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", Model: "my-custom-model"})
	assert.Error(t, err, "unknown model without explicit dimensions")

	e, err = NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", Model: "my-custom-model", Dimensions: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, e.Dimensions())
}

func TestOpenAIEmbedder_EmbedBatchPlacesByIndex(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 0, 0)
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Dimensions: 2})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {3, 1}, {2, 2}}, vecs)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIEmbedder_RetriesServerErrors(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 2, http.StatusServiceUnavailable)
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Dimensions: 2, MaxElapsed: 10 * time.Second})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "kale")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 0}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIEmbedder_DoesNotRetryClientErrors(t *testing.T) {
	srv, calls := fakeEmbeddingsServer(t, 100, http.StatusBadRequest)
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Dimensions: 2})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "kale")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
