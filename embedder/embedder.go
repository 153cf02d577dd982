// Package embedder defines the text-to-vector interface the engine depends
// on, plus a content-hash caching wrapper. Implementations live in
// subpackages: mock (deterministic, for tests) and onnx (local model, build
// tag "onnx"). Production deployments substitute their own API-backed
// embedder; the engine never cares which.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Cached wraps an Embedder with a cost-bounded in-process cache keyed by
// content hash, so repeated remember/recall of identical text embeds once.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached builds a caching wrapper. maxBytes bounds the total cached
// vector payload; <= 0 selects a 16 MiB default.
func NewCached(inner Embedder, maxBytes int64) (*Cached, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the embedding for text, from cache when available.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := ContentHash(text)
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// Cost is the vector payload size; admission may still reject the entry,
	// which only costs a re-embed later.
	c.cache.Set(key, vec, int64(4*len(vec)))
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}

// ContentHash computes the SHA-256 hash of text, hex-encoded.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
