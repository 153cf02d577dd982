// Package chroma implements the long-term store against a Chroma-compatible
// vector index over its REST API: named collections of ids, documents and
// metadata, queried by embedding with parallel ids/documents/metadatas/
// distances arrays in the response.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/synaptiq/hybridmem/longterm"
)

// Client talks to a Chroma-style server. Collections are resolved to ids
// once and cached.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.RWMutex
	collections map[string]string // name -> collection id
}

// New creates a client for the index at baseURL, e.g. "http://localhost:8000".
// timeout caps each request; <= 0 selects 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		collections: make(map[string]string),
	}
}

// EnsureCollection creates the collection if absent and caches its id.
func (c *Client) EnsureCollection(ctx context.Context, name string) error {
	c.mu.RLock()
	_, ok := c.collections[name]
	c.mu.RUnlock()
	if ok {
		return nil
	}

	body := map[string]any{
		"name":          name,
		"get_or_create": true,
	}
	respBody, err := c.post(ctx, "/api/v1/collections", body)
	if err != nil {
		return err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("decode collection response: %w", err)
	}
	if resp.ID == "" {
		return fmt.Errorf("collection %q: server returned no id", name)
	}

	c.mu.Lock()
	c.collections[name] = resp.ID
	c.mu.Unlock()
	return nil
}

// Store upserts one document with its embedding.
func (c *Client) Store(ctx context.Context, collection string, doc longterm.Document, embedding []float32) error {
	colID, err := c.collectionID(ctx, collection)
	if err != nil {
		return err
	}

	body := map[string]any{
		"ids":        []string{doc.ID},
		"embeddings": [][]float32{embedding},
		"documents":  []string{doc.Content},
		"metadatas":  []map[string]string{doc.Metadata},
	}
	_, err = c.post(ctx, "/api/v1/collections/"+colID+"/upsert", body)
	return err
}

// Recall queries the collection by embedding. A missing collection yields no
// results rather than an error.
func (c *Client) Recall(ctx context.Context, collection string, embedding []float32, nResults int, where map[string]string) ([]longterm.Result, error) {
	colID, err := c.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}
	if nResults <= 0 {
		nResults = 5
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        nResults,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		body["where"] = where
	}

	respBody, err := c.post(ctx, "/api/v1/collections/"+colID+"/query", body)
	if err != nil {
		return nil, err
	}

	// The wire format is parallel arrays, one inner array per query.
	var resp struct {
		IDs       [][]string            `json:"ids"`
		Documents [][]string            `json:"documents"`
		Metadatas [][]map[string]string `json:"metadatas"`
		Distances [][]float64           `json:"distances"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]longterm.Result, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		r := longterm.Result{ID: id}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			r.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			r.Relevance = longterm.ClipRelevance(resp.Distances[0][i])
		}
		results = append(results, r)
	}
	return results, nil
}

// Close is a no-op; the client holds no persistent connections beyond the
// pool.
func (c *Client) Close() error {
	return nil
}

func (c *Client) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	id, ok := c.collections[name]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}
	if err := c.EnsureCollection(ctx, name); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collections[name], nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network and deadline failures degrade, they never bubble raw.
		return nil, fmt.Errorf("%w: POST %s: %v", longterm.ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", longterm.ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: POST %s: status %d", longterm.ErrUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
