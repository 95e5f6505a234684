package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/wembed/internal/config"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()
	a, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "something else")
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v * v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestHashEmbedder_defaultDimensions(t *testing.T) {
	assert.Equal(t, defaultHashDimensions, NewHashEmbedder(0).Dimensions())
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			var req ollamaRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if req.Model != "test-model" || req.Prompt == "" {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1, 0.2, 0.3}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	e := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 3})
	require.NoError(t, e.Ping(ctx))
	v, err := e.Embed(ctx, "hi")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, v, 1e-6)
	assert.Equal(t, "test-model", e.ModelName())

	// The configured size is a hint; the model decides the vector length.
	wide := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 1024})
	v, err = wide.Embed(ctx, "hi")
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestOllamaEmbedder_emptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{})
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, Model: "m"}).Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "empty embedding")
}

func TestOllamaEmbedder_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "model not found")
}

type flakyEmbedder struct {
	*HashEmbedder
	failures int
	calls    int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient")
	}
	return f.HashEmbedder.Embed(ctx, text)
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers", func(t *testing.T) {
		base := &flakyEmbedder{HashEmbedder: NewHashEmbedder(4), failures: 2}
		v, err := WithRetry(base, fastRetry(3), nil).Embed(ctx, "x")
		require.NoError(t, err)
		assert.Len(t, v, 4)
		assert.Equal(t, 3, base.calls)
	})

	t.Run("gives up with last error", func(t *testing.T) {
		base := &flakyEmbedder{HashEmbedder: NewHashEmbedder(4), failures: 10}
		_, err := WithRetry(base, fastRetry(3), nil).Embed(ctx, "x")
		assert.EqualError(t, err, "transient")
		assert.Equal(t, 3, base.calls)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		base := &flakyEmbedder{HashEmbedder: NewHashEmbedder(4), failures: 10}
		_, err := WithRetry(base, fastRetry(5), nil).Embed(cctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, base.calls)
	})
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: config.ProviderHash, Dimensions: 32, CacheSize: 10, MaxRetries: 2}, nil)
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, "hash-32", e.ModelName())
	assert.Equal(t, 32, e.Dimensions())

	o, err := New(config.EmbeddingConfig{Provider: config.ProviderOllama, Model: "m", BaseURL: "http://127.0.0.1:1", Dimensions: 8}, nil)
	require.NoError(t, err)
	assert.Equal(t, "m", o.ModelName())

	_, err = New(config.EmbeddingConfig{Provider: "nope"}, nil)
	assert.Error(t, err)
}
