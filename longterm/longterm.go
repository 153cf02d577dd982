// Package longterm defines the durable, similarity-searchable tier of the
// memory engine, addressed by named collections. Two implementations exist:
// chroma (network vector index over REST) and chromem (embedded, used for
// local mode and tests). The engine treats the backend as swappable and
// never propagates its failures as fatal.
package longterm

import (
	"context"
	"errors"
)

// ErrUnavailable marks a network or timeout failure of the backing index.
// The engine interprets it as "skip this layer for this call" and logs a
// warning; it never reaches callers as an error.
var ErrUnavailable = errors.New("long-term store unavailable")

// Document is one stored unit of knowledge.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is a recalled document with its relevance, 1 - distance clipped to
// [0, 1].
type Result struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Relevance float64           `json:"relevance"`
}

// Store is the long-term backend contract. Every call honours the context
// deadline; implementations wrap connectivity failures in ErrUnavailable.
type Store interface {
	// EnsureCollection creates the named collection if absent. Idempotent.
	EnsureCollection(ctx context.Context, name string) error

	// Store writes a document with its embedding into a collection.
	Store(ctx context.Context, collection string, doc Document, embedding []float32) error

	// Recall returns up to nResults documents ranked by similarity to the
	// query embedding, optionally filtered by exact metadata matches.
	Recall(ctx context.Context, collection string, embedding []float32, nResults int, where map[string]string) ([]Result, error)

	// Close releases resources.
	Close() error
}

// ClipRelevance converts a nearest-neighbour distance to relevance in [0,1].
func ClipRelevance(distance float64) float64 {
	r := 1 - distance
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
