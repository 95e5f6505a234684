package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns three attempts starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
	}
}

// retryWithBackoff runs fn up to MaxRetries times, returning the last error.
// Cancellation of ctx stops retrying immediately.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, onRetry func(int, error), fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := cfg.BaseDelay
	attempts := max(cfg.MaxRetries, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*cfg.Multiplier), cfg.MaxDelay)
	}
	return zero, lastErr
}

type retrying struct {
	Embedder
	cfg    RetryConfig
	logger *zap.Logger
}

// WithRetry retries failed Embed calls with exponential backoff.
func WithRetry(e Embedder, cfg RetryConfig, logger *zap.Logger) Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retrying{Embedder: e, cfg: cfg, logger: logger}
}

func (r *retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	onRetry := func(attempt int, err error) {
		r.logger.Warn("embedding failed, retrying",
			zap.String("model", r.ModelName()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return retryWithBackoff(ctx, r.cfg, onRetry, func() ([]float32, error) {
		return r.Embedder.Embed(ctx, text)
	})
}
