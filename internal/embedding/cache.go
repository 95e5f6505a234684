package embedding

import (
	"container/list"
	"context"
	"sync"
)

// EmbeddingCache is an LRU cache for embeddings keyed by text.
type EmbeddingCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewEmbeddingCache creates a cache holding at most capacity entries.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: max(capacity, 1),
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key and marks it recently used.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the least recently used entry at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	c.cache[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.cache, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

type cached struct {
	Embedder
	cache *EmbeddingCache
}

// WithCache memoizes Embed results by text. Callers must not modify returned vectors.
func WithCache(e Embedder, capacity int) Embedder {
	return &cached{Embedder: e, cache: NewEmbeddingCache(capacity)}
}

func (c *cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}
