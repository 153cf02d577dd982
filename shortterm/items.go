package shortterm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/synaptiq/hybridmem/core"
)

// PutItem inserts or replaces a memory item row. Tier mutation stays with
// the engine; the store just persists what it is handed.
func (s *Store) PutItem(ctx context.Context, item *core.MemoryItem) error {
	ctxJSON, err := json.Marshal(item.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	var metaJSON []byte
	if len(item.Metadata) > 0 {
		if metaJSON, err = json.Marshal(item.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (id, content, tier, source, context, metadata, embedding, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, tier = excluded.tier,
			source = excluded.source, context = excluded.context, metadata = excluded.metadata,
			embedding = excluded.embedding, accessed_at = excluded.accessed_at,
			access_count = excluded.access_count`,
		item.ID, item.Content, item.Tier, item.Source, string(ctxJSON), nullableBytes(metaJSON),
		core.Float32ToBytes(item.Embedding), item.CreatedAt.Unix(), item.AccessedAt.Unix(), item.AccessCount)
	if err != nil {
		return fmt.Errorf("put item %q: %w", item.ID, err)
	}
	return nil
}

// GetItem returns an item by id, or nil when unknown.
func (s *Store) GetItem(ctx context.Context, id string) (*core.MemoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, tier, source, context, metadata, embedding, created_at, accessed_at, access_count
		FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// TouchItem records an access: bumps count and timestamp. Last write wins;
// concurrent touches only ever increase the count.
func (s *Store) TouchItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET access_count = access_count + 1, accessed_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("touch item %q: %w", id, err)
	}
	return nil
}

// SetTier rewrites an item's tier. Idempotent: setting the current tier is a
// no-op at the row level.
func (s *Store) SetTier(ctx context.Context, id string, tier core.Tier) error {
	_, err := s.db.ExecContext(ctx, `UPDATE items SET tier = ? WHERE id = ?`, tier, id)
	if err != nil {
		return fmt.Errorf("set tier %q: %w", id, err)
	}
	return nil
}

// DeleteItem removes an item row.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item %q: %w", id, err)
	}
	return nil
}

// RecentItems returns items of the given tier accessed since the cutoff,
// most recently accessed first. The bridge sweep feeds on this.
func (s *Store) RecentItems(ctx context.Context, tier core.Tier, since time.Time, limit int) ([]*core.MemoryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, tier, source, context, metadata, embedding, created_at, accessed_at, access_count
		FROM items WHERE tier = ? AND accessed_at >= ?
		ORDER BY accessed_at DESC LIMIT ?`,
		tier, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("recent items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// StaleItems returns items of the given tier not accessed since the cutoff,
// oldest first. Feeds demotion.
func (s *Store) StaleItems(ctx context.Context, tier core.Tier, notAccessedSince time.Time, limit int) ([]*core.MemoryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, tier, source, context, metadata, embedding, created_at, accessed_at, access_count
		FROM items WHERE tier = ? AND accessed_at < ?
		ORDER BY accessed_at ASC LIMIT ?`,
		tier, notAccessedSince.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("stale items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// SearchItems ranks stored items against a query vector by brute-force
// cosine over the embedding BLOBs, cheap at short-term scale. Items without
// an embedding fall back to case-insensitive substring match on content.
// Archived items are excluded unless includeArchived is set.
func (s *Store) SearchItems(ctx context.Context, queryVec []float32, queryText string, limit int, includeArchived bool) ([]core.ScoredItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, tier, source, context, metadata, embedding, created_at, accessed_at, access_count
		FROM items`)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(queryText)
	var scored []core.ScoredItem
	for _, item := range items {
		if item.Tier == core.TierArchive && !includeArchived {
			continue
		}
		var relevance float64
		switch {
		case len(item.Embedding) > 0 && len(queryVec) > 0:
			relevance = core.CosineSimilarity(queryVec, item.Embedding)
		case needle != "" && strings.Contains(strings.ToLower(item.Content), needle):
			relevance = 0.5
		}
		if relevance <= 0 {
			continue
		}
		scored = append(scored, core.ScoredItem{Item: item, Relevance: relevance, Origin: "short_term"})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// SaveGlimmer persists a synchronicity event. Re-detecting the same pair and
// type updates strength instead of duplicating.
func (s *Store) SaveGlimmer(ctx context.Context, g *core.Glimmer) error {
	dims, _ := json.Marshal(g.SharedDimensions)
	concepts, _ := json.Marshal(g.SharedConcepts)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO glimmers (id, memory_a, memory_b, type, strength, shared_dimensions, shared_concepts, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_a, memory_b, type) DO UPDATE SET strength = excluded.strength,
			shared_dimensions = excluded.shared_dimensions,
			shared_concepts = excluded.shared_concepts`,
		g.ID, g.MemoryA, g.MemoryB, g.Type, g.Strength, string(dims), string(concepts), g.DiscoveredAt.Unix())
	if err != nil {
		return fmt.Errorf("save glimmer: %w", err)
	}
	return nil
}

// GlimmersFor returns persisted events involving a memory id, strongest
// first.
func (s *Store) GlimmersFor(ctx context.Context, memoryID string, limit int) ([]core.Glimmer, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_a, memory_b, type, strength, shared_dimensions, shared_concepts, discovered_at
		FROM glimmers WHERE memory_a = ? OR memory_b = ?
		ORDER BY strength DESC LIMIT ?`, memoryID, memoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("glimmers for %q: %w", memoryID, err)
	}
	defer rows.Close()

	var events []core.Glimmer
	for rows.Next() {
		var g core.Glimmer
		var dims, concepts sql.NullString
		var discovered int64
		if err := rows.Scan(&g.ID, &g.MemoryA, &g.MemoryB, &g.Type, &g.Strength, &dims, &concepts, &discovered); err != nil {
			return nil, fmt.Errorf("scan glimmer: %w", err)
		}
		if dims.Valid {
			json.Unmarshal([]byte(dims.String), &g.SharedDimensions)
		}
		if concepts.Valid {
			json.Unmarshal([]byte(concepts.String), &g.SharedConcepts)
		}
		g.DiscoveredAt = time.Unix(discovered, 0)
		events = append(events, g)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*core.MemoryItem, error) {
	var item core.MemoryItem
	var ctxJSON string
	var metaJSON sql.NullString
	var embedding []byte
	var created, accessed int64

	err := row.Scan(&item.ID, &item.Content, &item.Tier, &item.Source, &ctxJSON, &metaJSON,
		&embedding, &created, &accessed, &item.AccessCount)
	if err != nil {
		return nil, err
	}

	if ctxJSON != "" {
		// Malformed context degrades to empty dimensions rather than failing.
		json.Unmarshal([]byte(ctxJSON), &item.Context)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		json.Unmarshal([]byte(metaJSON.String), &item.Metadata)
	}
	item.Embedding = core.BytesToFloat32(embedding)
	item.CreatedAt = time.Unix(created, 0)
	item.AccessedAt = time.Unix(accessed, 0)
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*core.MemoryItem, error) {
	var items []*core.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
