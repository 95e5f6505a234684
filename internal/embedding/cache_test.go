package embedding

import (
	"context"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	c.Set("b", []float32{4, 5})
	c.Get("a")               // a is now most recent
	c.Set("c", []float32{6}) // evicts b
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v[0] != 1 {
		t.Errorf("a: got %v, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

type countingEmbedder struct {
	*HashEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func TestWithCache(t *testing.T) {
	base := &countingEmbedder{HashEmbedder: NewHashEmbedder(8)}
	e := WithCache(base, 10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := e.Embed(ctx, "same text"); err != nil {
			t.Fatal(err)
		}
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1", base.calls)
	}
	if e.ModelName() != "hash-8" || e.Dimensions() != 8 {
		t.Errorf("decorator changed identity: %s %d", e.ModelName(), e.Dimensions())
	}
}
