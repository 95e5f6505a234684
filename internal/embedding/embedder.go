// Package embedding turns chunk text into vectors. Providers are wrapped by an LRU
// cache and a retrying decorator.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/wembed/internal/config"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// ModelName identifies the model; it is stored with every embedding.
	ModelName() string
	// Dimensions is the expected vector size. Vectors of other lengths are still stored.
	Dimensions() int
	Close() error
}

// New builds the configured provider with caching and retries.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		base Embedder
		err  error
	)
	switch cfg.Provider {
	case config.ProviderHash, "":
		base = NewHashEmbedder(cfg.Dimensions)
	case config.ProviderOllama:
		base = NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case config.ProviderONNX:
		base, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	e := WithRetry(base, retry, logger)
	if cfg.CacheSize > 0 {
		e = WithCache(e, cfg.CacheSize)
	}
	logger.Debug("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", e.ModelName()),
		zap.Int("dimensions", e.Dimensions()),
	)
	return e, nil
}

const defaultRequestTimeout = 30 * time.Second
