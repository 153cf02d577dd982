// Package bridge is the tier-transition policy engine. A pure, idempotent
// evaluator decides when a short-term item has earned promotion to the
// long-term store or when a stale long-term item should be archived; a
// low-priority periodic sweeper applies those decisions in the background so
// foreground remember/recall latency is never contended.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/synaptiq/hybridmem/core"
	"github.com/synaptiq/hybridmem/embedder"
	"github.com/synaptiq/hybridmem/longterm"
	"github.com/synaptiq/hybridmem/shortterm"
)

// Policy holds the transition thresholds. Evaluation is pure: the same item
// state always yields the same decision.
type Policy struct {
	// AccessMin is the access count a short-term item needs for promotion.
	AccessMin int

	// MinAge keeps freshly created items from being promoted as noise.
	MinAge time.Duration

	// Staleness is how long a long-term item may go unaccessed before
	// demotion to archive.
	Staleness time.Duration
}

// EvaluatePromotion decides whether item should move from short_term to
// long_term, with a human-readable reason when it should. Items in any other
// tier never promote, so applying the decision twice is a no-op.
func (p Policy) EvaluatePromotion(item *core.MemoryItem, now time.Time) (bool, string) {
	if item.Tier != core.TierShortTerm {
		return false, ""
	}
	if item.AccessCount < p.AccessMin {
		return false, ""
	}
	if age := now.Sub(item.CreatedAt); age < p.MinAge {
		return false, ""
	}
	return true, fmt.Sprintf("accessed %d times over %s", item.AccessCount, now.Sub(item.CreatedAt).Round(time.Minute))
}

// EvaluateDemotion decides whether a long-term item has gone stale enough to
// archive. Archived items stay retrievable on request but leave default
// recall.
func (p Policy) EvaluateDemotion(item *core.MemoryItem, now time.Time) (bool, string) {
	if item.Tier != core.TierLongTerm {
		return false, ""
	}
	if idle := now.Sub(item.AccessedAt); idle < p.Staleness {
		return false, ""
	}
	return true, fmt.Sprintf("not accessed for %s", now.Sub(item.AccessedAt).Round(time.Hour))
}

// Sweeper periodically applies the policy over recently-touched items.
type Sweeper struct {
	store      *shortterm.Store
	vectors    longterm.Store
	embed      embedder.Embedder
	policy     Policy
	collection string
	batchSize  int
	logger     *slog.Logger
}

// NewSweeper wires a sweeper. batchSize bounds work per pass; <= 0 selects
// 100.
func NewSweeper(store *shortterm.Store, vectors longterm.Store, embed embedder.Embedder, policy Policy, collection string, batchSize int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      store,
		vectors:    vectors,
		embed:      embed,
		policy:     policy,
		collection: collection,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Result counts one sweep's work.
type Result struct {
	Purged   int64 `json:"purged"`
	Examined int   `json:"examined"`
	Promoted int   `json:"promoted"`
	Demoted  int   `json:"demoted"`
}

// Run sweeps on the given interval until the context is cancelled. Errors
// inside a sweep are logged and absorbed; the loop keeps going.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("sweep failed", "error", err)
				continue
			}
			if res.Promoted > 0 || res.Demoted > 0 || res.Purged > 0 {
				s.logger.Info("sweep complete",
					"purged", res.Purged, "examined", res.Examined,
					"promoted", res.Promoted, "demoted", res.Demoted)
			}
		}
	}
}

// Sweep runs one pass: purge expired rows, promote qualifying short-term
// items, archive stale long-term items. Interruptible between items and
// idempotent per item, so a pass cut short by shutdown simply resumes on the
// next boot.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	purged, err := s.store.PurgeExpired(ctx)
	if err != nil {
		return res, fmt.Errorf("purge expired: %w", err)
	}
	res.Purged = purged

	now := time.Now()

	// Promotion pass over recently-accessed short-term items. A cold item
	// cannot have crossed the access threshold since the last sweep.
	cutoff := now.Add(-24 * time.Hour)
	candidates, err := s.store.RecentItems(ctx, core.TierShortTerm, cutoff, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("promotion candidates: %w", err)
	}
	for _, item := range candidates {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Examined++

		promote, reason := s.policy.EvaluatePromotion(item, now)
		if !promote {
			continue
		}
		if err := s.promote(ctx, item); err != nil {
			s.logger.Warn("promotion failed", "id", item.ID, "error", err)
			continue
		}
		s.logger.Debug("promoted item", "id", item.ID, "reason", reason)
		res.Promoted++
	}

	// Demotion pass over stale long-term items. The index copy is retagged
	// first so default-mode recall stops surfacing it through the long-term
	// source; a degraded index defers the demotion to the next sweep.
	stale, err := s.store.StaleItems(ctx, core.TierLongTerm, now.Add(-s.policy.Staleness), s.batchSize)
	if err != nil {
		return res, fmt.Errorf("demotion candidates: %w", err)
	}
	for _, item := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		demote, reason := s.policy.EvaluateDemotion(item, now)
		if !demote {
			continue
		}
		if err := s.archive(ctx, item); err != nil {
			s.logger.Warn("archive index update failed, retrying next sweep", "id", item.ID, "error", err)
			continue
		}
		if !item.Demote() {
			continue
		}
		if err := s.store.SetTier(ctx, item.ID, item.Tier); err != nil {
			s.logger.Warn("demotion failed", "id", item.ID, "error", err)
			continue
		}
		s.logger.Debug("archived item", "id", item.ID, "reason", reason)
		res.Demoted++
	}

	return res, nil
}

// promote copies the item into the long-term index, then advances its tier.
// The vector write happens first: a crash in between leaves a short-term row
// that re-promotes idempotently on the next sweep.
func (s *Sweeper) promote(ctx context.Context, item *core.MemoryItem) error {
	vec := item.Embedding
	if len(vec) == 0 {
		var err error
		if vec, err = s.embed.Embed(ctx, item.Content); err != nil {
			return fmt.Errorf("embed content: %w", err)
		}
	}

	if err := s.vectors.EnsureCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	if err := s.vectors.Store(ctx, s.collection, s.document(item, core.TierLongTerm), vec); err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	if !item.Advance(core.TierLongTerm) {
		return nil // already long_term; concurrent sweep got here first
	}
	if err := s.store.SetTier(ctx, item.ID, core.TierLongTerm); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}

// archive overwrites the item's index copy with archive-tier metadata so the
// long-term source filters it out of default recall. Keyed by item ID, so
// repeating it is harmless.
func (s *Sweeper) archive(ctx context.Context, item *core.MemoryItem) error {
	vec := item.Embedding
	if len(vec) == 0 {
		var err error
		if vec, err = s.embed.Embed(ctx, item.Content); err != nil {
			return fmt.Errorf("embed content: %w", err)
		}
	}

	if err := s.vectors.EnsureCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	if err := s.vectors.Store(ctx, s.collection, s.document(item, core.TierArchive), vec); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

// document builds the index payload for an item tagged with the given tier.
func (s *Sweeper) document(item *core.MemoryItem, tier core.Tier) longterm.Document {
	metadata := item.Context.ToMetadata()
	metadata["source"] = item.Source
	metadata["tier"] = string(tier)
	metadata["created_at"] = item.CreatedAt.Format(time.RFC3339)
	return longterm.Document{ID: item.ID, Content: item.Content, Metadata: metadata}
}
