package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/wembed/pkg/utils"
)

const defaultHashDimensions = 384

// HashEmbedder is a deterministic offline embedder. The vector is derived from the
// hash of each word, so equal texts always get equal unit-length vectors.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hash embedder producing vectors of the given size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	words := SplitWords(text)
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		h := HashString(w)
		for i := range emb {
			emb[i] += float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *HashEmbedder) ModelName() string {
	return fmt.Sprintf("hash-%d", e.dimensions)
}

func (e *HashEmbedder) Dimensions() int { return e.dimensions }

func (e *HashEmbedder) Close() error { return nil }
