// Package chromem implements the long-term store on chromem-go, a pure-Go
// embedded vector database. It serves two roles: local single-process
// deployments without a network index, and the in-memory fake that keeps
// recall and promotion logic unit-testable offline.
package chromem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/synaptiq/hybridmem/longterm"
)

// Store wraps a chromem DB with a collection cache.
type Store struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// New creates an in-memory embedded store.
func New() *Store {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// EnsureCollection creates the collection if absent. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.collection(name)
	return err
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func and
	// the default cosine distance.
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Store writes a document with its embedding.
func (s *Store) Store(ctx context.Context, collection string, doc longterm.Document, embedding []float32) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: embedding,
		Metadata:  doc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Recall queries by embedding. chromem requires nResults <= collection size,
// so the limit backs off until the query fits; an empty collection yields no
// results.
func (s *Store) Recall(ctx context.Context, collection string, embedding []float32, nResults int, where map[string]string) ([]longterm.Result, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if nResults <= 0 {
		nResults = 5
	}

	var raw []chromem.Result
	for limit := nResults; limit >= 1; limit-- {
		raw, err = col.QueryEmbedding(ctx, embedding, limit, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocs(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	results := make([]longterm.Result, 0, len(raw))
	for _, r := range raw {
		relevance := float64(r.Similarity)
		if relevance < 0 {
			relevance = 0
		} else if relevance > 1 {
			relevance = 1
		}
		results = append(results, longterm.Result{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Relevance: relevance,
		})
	}
	return results, nil
}

// Close is a no-op; chromem keeps everything in memory.
func (s *Store) Close() error {
	return nil
}

func isInsufficientDocs(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
