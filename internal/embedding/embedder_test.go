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

func newEmbeddingServer(t *testing.T, failures int32, calls *atomic.Int32) *httptest.Server {
	return newEmbeddingServerWithDims(t, failures, calls, nil)
}

// newEmbeddingServerWithDims records the requested dimensions into dims when non-nil.
func newEmbeddingServerWithDims(t *testing.T, failures int32, calls *atomic.Int32, dims *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failures {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Input      []string `json:"input"`
			Dimensions int32    `json:"dimensions"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if dims != nil {
			dims.Store(req.Dimensions)
		}

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, item{Embedding: []float32{float32(len(text)), 1}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPEmbedderCachesResults(t *testing.T) {
	var calls atomic.Int32
	server := newEmbeddingServer(t, 0, &calls)
	defer server.Close()

	emb, err := NewHTTPEmbedder(Config{BaseURL: server.URL + "/", APIKey: "secret"})
	require.NoError(t, err)

	first, err := emb.Embed(context.Background(), "react")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, first)

	_, err = emb.Embed(context.Background(), "react")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPEmbedderRequestsConfiguredDimensions(t *testing.T) {
	var calls, dims atomic.Int32
	server := newEmbeddingServerWithDims(t, 0, &calls, &dims)
	defer server.Close()

	emb, err := NewHTTPEmbedder(Config{BaseURL: server.URL, APIKey: "secret", Dimensions: 2})
	require.NoError(t, err)
	out, err := emb.Embed(context.Background(), "react")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, int32(2), dims.Load())

	mismatched, err := NewHTTPEmbedder(Config{BaseURL: server.URL, APIKey: "secret", Dimensions: 3, Backoff: time.Millisecond})
	require.NoError(t, err)
	_, err = mismatched.Embed(context.Background(), "vue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 2 dimensions, want 3")
}

func TestHTTPEmbedderOmitsDimensionsByDefault(t *testing.T) {
	var calls, dims atomic.Int32
	dims.Store(-1)
	server := newEmbeddingServerWithDims(t, 0, &calls, &dims)
	defer server.Close()

	emb, err := NewHTTPEmbedder(Config{BaseURL: server.URL, APIKey: "secret"})
	require.NoError(t, err)
	_, err = emb.Embed(context.Background(), "react")
	require.NoError(t, err)
	assert.Equal(t, int32(0), dims.Load())
}

func TestHTTPEmbedderRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := newEmbeddingServer(t, 2, &calls)
	defer server.Close()

	emb, err := NewHTTPEmbedder(Config{BaseURL: server.URL, APIKey: "secret", Backoff: time.Millisecond})
	require.NoError(t, err)

	out, err := emb.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, float32(2), out[1][0])
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPEmbedderRejectsOversizedBatch(t *testing.T) {
	emb, err := NewHTTPEmbedder(Config{BaseURL: "http://127.0.0.1:0"})
	require.NoError(t, err)

	_, err = emb.EmbedBatch(context.Background(), make([]string, 101))
	assert.Error(t, err)
	_, err = emb.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	h := NewHashEmbedder(64)
	a, err := h.Embed(context.Background(), "React component")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "react COMPONENT")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	empty, err := h.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, float32(1), empty[0])
}
