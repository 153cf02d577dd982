// Package engine is the hybrid memory facade. It owns the lifecycle of every
// memory item and orchestrates the stores, the reasoner, the lateral expander,
// the synchronicity detector, and the tier bridge behind three operations:
// Remember, Recall, and GetContext.
//
// The facade holds immutable configuration plus handles to each component and
// is safe for concurrent use by multiple callers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synaptiq/hybridmem/bridge"
	"github.com/synaptiq/hybridmem/config"
	"github.com/synaptiq/hybridmem/core"
	"github.com/synaptiq/hybridmem/embedder"
	"github.com/synaptiq/hybridmem/embedder/mock"
	"github.com/synaptiq/hybridmem/lateral"
	"github.com/synaptiq/hybridmem/longterm"
	"github.com/synaptiq/hybridmem/longterm/chroma"
	"github.com/synaptiq/hybridmem/longterm/chromem"
	"github.com/synaptiq/hybridmem/reason"
	"github.com/synaptiq/hybridmem/shortterm"
	"github.com/synaptiq/hybridmem/synchro"
)

// MemoryType selects where Remember routes content.
type MemoryType string

const (
	// TypeAuto routes long or persist-flagged content to knowledge,
	// everything else to working memory with the default TTL.
	TypeAuto MemoryType = "auto"

	// TypeWorking is TTL key-value state.
	TypeWorking MemoryType = "working"

	// TypeSession appends to a session transcript.
	TypeSession MemoryType = "session"

	// TypeTask inserts into the task queue.
	TypeTask MemoryType = "task"

	// TypeReasoning appends a thought step to a session's chain.
	TypeReasoning MemoryType = "reasoning"

	// TypeKnowledge writes to the long-term semantic index.
	TypeKnowledge MemoryType = "knowledge"
)

// HybridMemory is the engine facade.
type HybridMemory struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *shortterm.Store
	vectors  longterm.Store
	embed    embedder.Embedder
	reasoner *reason.Reasoner
	expander *lateral.Expander
	detector *synchro.Detector
	sweeper  *bridge.Sweeper

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
}

// Option configures the facade.
type Option func(*HybridMemory)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *HybridMemory) {
		h.logger = l
	}
}

// WithEmbedder substitutes the embedding backend.
func WithEmbedder(e embedder.Embedder) Option {
	return func(h *HybridMemory) {
		h.embed = e
	}
}

// WithVectorStore substitutes the long-term store implementation.
func WithVectorStore(s longterm.Store) Option {
	return func(h *HybridMemory) {
		h.vectors = s
	}
}

// Open constructs the facade from configuration. A nil cfg selects the
// built-in defaults. Without WithVectorStore, a configured vector URL selects
// the network client and an empty one the embedded store; without
// WithEmbedder, the deterministic mock is used.
func Open(cfg *config.Config, opts ...Option) (*HybridMemory, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	h := &HybridMemory{cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	store, err := shortterm.Open(cfg.DBPath, h.logger)
	if err != nil {
		return nil, err
	}
	h.store = store

	if h.vectors == nil {
		if cfg.VectorURL != "" {
			h.vectors = chroma.New(cfg.VectorURL, cfg.RecallTimeout)
		} else {
			h.vectors = chromem.New()
		}
	}

	if h.embed == nil {
		h.embed = mock.New(cfg.EmbeddingDim)
	}
	cached, err := embedder.NewCached(h.embed, 0)
	if err != nil {
		store.Close()
		return nil, err
	}
	h.embed = cached

	h.reasoner = reason.New(h.logger)
	h.expander = lateral.New(cfg.LateralDiversity, cfg.FactcheckMin)
	h.detector = synchro.New(cfg.SynchroThreshold, cfg.SynchroEmbedWeight)
	h.sweeper = bridge.NewSweeper(store, h.vectors, h.embed,
		bridge.Policy{
			AccessMin: cfg.PromotionAccessMin,
			MinAge:    cfg.PromotionMinAge,
			Staleness: cfg.StalenessWindow,
		},
		cfg.Collection, 0, h.logger)

	return h, nil
}

// Close stops the sweep and releases both stores.
func (h *HybridMemory) Close() error {
	h.StopSweep()
	if c, ok := h.embed.(*embedder.Cached); ok {
		c.Close()
	}
	verr := h.vectors.Close()
	serr := h.store.Close()
	if serr != nil {
		return serr
	}
	return verr
}

// StartSweep launches the background tier sweep on the configured interval.
// Calling it again while running is a no-op.
func (h *HybridMemory) StartSweep() {
	h.sweepMu.Lock()
	defer h.sweepMu.Unlock()
	if h.sweepCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.sweepCancel = cancel
	go h.sweeper.Run(ctx, h.cfg.SweepInterval)
}

// StopSweep cancels the background sweep if running.
func (h *HybridMemory) StopSweep() {
	h.sweepMu.Lock()
	defer h.sweepMu.Unlock()
	if h.sweepCancel != nil {
		h.sweepCancel()
		h.sweepCancel = nil
	}
}

// Sweep runs one tier-transition pass synchronously.
func (h *HybridMemory) Sweep(ctx context.Context) (bridge.Result, error) {
	return h.sweeper.Sweep(ctx)
}

// RememberRequest describes one Remember call. Only Content is required;
// Type defaults to auto.
type RememberRequest struct {
	Content string
	Source  string
	Type    MemoryType

	// SessionID scopes session, reasoning, and optionally working entries.
	SessionID string

	// Role tags session transcript entries; defaults to "user".
	Role string

	// Key addresses working-memory entries; defaults to a generated id.
	Key string

	// TTL bounds working-memory entries; <= 0 selects the configured default.
	TTL time.Duration

	// Task fields.
	Priority int
	DueAt    *time.Time

	Context  core.Context7
	Metadata map[string]string
}

// Remember routes content to a memory tier and returns the resulting item.
// Malformed input degrades to defaults rather than failing; only a
// short-term store failure is surfaced.
func (h *HybridMemory) Remember(ctx context.Context, req RememberRequest) (*core.MemoryItem, error) {
	typ := req.Type
	if typ == "" {
		typ = TypeAuto
	}
	if typ == TypeAuto {
		if len(req.Content) > h.cfg.AutoKnowledgeBytes || req.Metadata["persist"] == "true" {
			typ = TypeKnowledge
		} else {
			typ = TypeWorking
		}
	}

	switch typ {
	case TypeWorking:
		return h.rememberWorking(ctx, req)
	case TypeSession:
		return h.rememberSession(ctx, req)
	case TypeTask:
		return h.rememberTask(ctx, req)
	case TypeReasoning:
		return h.rememberReasoning(ctx, req)
	case TypeKnowledge:
		return h.rememberKnowledge(ctx, req)
	default:
		// Unknown type degrades to working memory.
		h.logger.Warn("unknown memory type, routing to working", "type", string(req.Type))
		return h.rememberWorking(ctx, req)
	}
}

func (h *HybridMemory) rememberWorking(ctx context.Context, req RememberRequest) (*core.MemoryItem, error) {
	item := core.NewMemoryItem(req.Content, req.Source, core.TierWorking, req.Context)
	item.Metadata = req.Metadata

	key := req.Key
	if key == "" {
		key = item.ID
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = h.cfg.WorkingDefaultTTL
	}

	if err := h.store.SetWorking(ctx, key, req.Content, req.SessionID, ttl); err != nil {
		return nil, err
	}
	if h.cfg.WorkingCapacity > 0 {
		if evicted, err := h.store.TrimWorking(ctx, h.cfg.WorkingCapacity); err != nil {
			h.logger.Warn("working-memory trim failed", "error", err)
		} else if evicted > 0 {
			h.logger.Debug("working memory over capacity, evicted", "count", evicted)
		}
	}
	return item, nil
}

func (h *HybridMemory) rememberSession(ctx context.Context, req RememberRequest) (*core.MemoryItem, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	role := req.Role
	if role == "" {
		role = "user"
	}
	if err := h.store.AppendSession(ctx, sessionID, req.Source, role, req.Content); err != nil {
		return nil, err
	}
	item := core.NewMemoryItem(req.Content, req.Source, core.TierShortTerm, req.Context)
	item.Metadata = map[string]string{"session_id": sessionID, "role": role}
	return item, nil
}

func (h *HybridMemory) rememberTask(ctx context.Context, req RememberRequest) (*core.MemoryItem, error) {
	task, err := h.store.CreateTask(ctx, req.Content, req.Priority, req.DueAt)
	if err != nil {
		return nil, err
	}
	item := core.NewMemoryItem(req.Content, req.Source, core.TierShortTerm, req.Context)
	item.ID = task.ID
	item.Metadata = map[string]string{"task_status": string(task.Status)}
	return item, nil
}

func (h *HybridMemory) rememberReasoning(ctx context.Context, req RememberRequest) (*core.MemoryItem, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	prior, err := h.store.GetReasoningChain(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	step := core.ThoughtStep{
		Number:     len(prior) + 1,
		Type:       core.StepAnalysis,
		Content:    req.Content,
		Confidence: 0.5,
		CreatedAt:  time.Now(),
	}
	if err := h.store.AppendReasoningStep(ctx, sessionID, string(step.Type), step, ""); err != nil {
		return nil, err
	}
	item := core.NewMemoryItem(req.Content, req.Source, core.TierShortTerm, req.Context)
	item.Metadata = map[string]string{"session_id": sessionID}
	return item, nil
}

// rememberKnowledge writes to the long-term index and records the item row
// for access tracking. A degraded vector store is absorbed: the item lands in
// the short-term tier and the sweep promotes it once the index recovers.
func (h *HybridMemory) rememberKnowledge(ctx context.Context, req RememberRequest) (*core.MemoryItem, error) {
	item := core.NewMemoryItem(req.Content, req.Source, core.TierLongTerm, req.Context)
	item.Metadata = req.Metadata

	vec, err := h.embed.Embed(ctx, req.Content)
	if err != nil {
		h.logger.Warn("embedding failed, storing without vector", "error", err)
	} else {
		item.Embedding = vec
	}

	stored := false
	if len(vec) > 0 {
		if err := h.storeVector(ctx, item, vec); err != nil {
			h.logger.Warn("long-term store degraded, keeping item short-term", "error", err)
		} else {
			stored = true
		}
	}
	if !stored {
		item.Tier = core.TierShortTerm
	}

	if err := h.store.PutItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (h *HybridMemory) storeVector(ctx context.Context, item *core.MemoryItem, vec []float32) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.RecallTimeout)
	defer cancel()

	if err := h.vectors.EnsureCollection(ctx, h.cfg.Collection); err != nil {
		return err
	}
	metadata := item.Context.ToMetadata()
	for k, v := range item.Metadata {
		metadata[k] = v
	}
	metadata["source"] = item.Source
	metadata["tier"] = string(core.TierLongTerm)
	metadata["created_at"] = item.CreatedAt.Format(time.RFC3339)

	doc := longterm.Document{ID: item.ID, Content: item.Content, Metadata: metadata}
	return h.vectors.Store(ctx, h.cfg.Collection, doc, vec)
}

// Reserved filter keys; everything else passes through as a metadata
// equality condition on the long-term query.
const (
	filterSessionID       = "session_id"
	filterIncludeArchived = "include_archived"
)

// Recall retrieves ranked memories for a query. The query is decomposed into
// sub-queries, widened per mode, fanned out concurrently to both stores under
// the recall timeout, merged, deduplicated, and re-ranked. A degraded
// long-term store contributes nothing instead of failing the call; only a
// short-term store failure is surfaced.
func (h *HybridMemory) Recall(ctx context.Context, query string, nResults int, mode core.RetrievalMode, filters map[string]string) ([]core.ScoredItem, error) {
	if mode == "" {
		mode = h.cfg.DefaultMode
	}
	if nResults <= 0 {
		nResults = h.cfg.DefaultTopK
	}

	subQueries, chain := h.reasoner.Decompose(query)
	if sessionID := filters[filterSessionID]; sessionID != "" {
		h.persistChain(ctx, sessionID, chain)
	}

	queries := h.queryVariants(subQueries, mode, core.Context7FromMetadata(filters))
	includeArchived := filters[filterIncludeArchived] == "true"
	where := longTermWhere(filters)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sets     [][]core.ScoredItem
		storeErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, h.cfg.RecallTimeout)
		defer cancel()
		results, err := h.searchShortTerm(sctx, queries, nResults, includeArchived)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			storeErr = err
			return
		}
		sets = append(sets, results)
	}()
	go func() {
		defer wg.Done()
		lctx, cancel := context.WithTimeout(ctx, h.cfg.RecallTimeout)
		defer cancel()
		results := h.searchLongTerm(lctx, queries, nResults, where, includeArchived)
		mu.Lock()
		defer mu.Unlock()
		sets = append(sets, results)
	}()
	wg.Wait()

	if storeErr != nil {
		return nil, storeErr
	}

	merged := h.expander.Merge(mode, nResults, sets...)

	// Access bookkeeping and opportunistic synchronicity detection augment
	// the result set; neither ever fails the call.
	for _, scored := range merged {
		if err := h.store.TouchItem(ctx, scored.Item.ID); err != nil {
			h.logger.Debug("touch failed", "id", scored.Item.ID, "error", err)
		}
	}
	h.rehydrate(ctx, merged)
	for _, g := range h.detector.Scan(merged) {
		if err := h.store.SaveGlimmer(ctx, &g); err != nil {
			h.logger.Debug("glimmer persist failed", "error", err)
		} else {
			h.logger.Debug("glimmer detected",
				"a", g.MemoryA, "b", g.MemoryB, "type", g.Type, "strength", g.Strength)
		}
	}

	return merged, nil
}

// rehydrate backfills embeddings on results materialized from the long-term
// index, which carries none on the wire. Synchronicity scoring needs a vector
// on both sides of a pair. The items table is tried first; misses fall back to
// the cached embedder.
func (h *HybridMemory) rehydrate(ctx context.Context, items []core.ScoredItem) {
	for _, scored := range items {
		if len(scored.Item.Embedding) > 0 {
			continue
		}
		if row, err := h.store.GetItem(ctx, scored.Item.ID); err == nil && row != nil && len(row.Embedding) > 0 {
			scored.Item.Embedding = row.Embedding
			continue
		}
		vec, err := h.embed.Embed(ctx, scored.Item.Content)
		if err != nil {
			h.logger.Debug("embedding rehydration failed", "id", scored.Item.ID, "error", err)
			continue
		}
		scored.Item.Embedding = vec
	}
}

// queryVariants builds the per-mode query set. Foundation and factcheck stay
// precise; lateral folds in the widened variants.
func (h *HybridMemory) queryVariants(subQueries []string, mode core.RetrievalMode, c7 core.Context7) []string {
	queries := subQueries
	if mode == core.ModeLateral && len(subQueries) > 0 {
		exp := h.expander.Expand(subQueries[0], c7)
		queries = append(queries, exp.Shadow)
		if exp.Abstract != "" {
			queries = append(queries, exp.Abstract)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		out = append(out, q)
	}
	return out
}

func (h *HybridMemory) searchShortTerm(ctx context.Context, queries []string, nResults int, includeArchived bool) ([]core.ScoredItem, error) {
	var all []core.ScoredItem
	for _, q := range queries {
		vec, err := h.embed.Embed(ctx, q)
		if err != nil {
			h.logger.Warn("query embedding failed", "error", err)
			vec = nil
		}
		results, err := h.store.SearchItems(ctx, vec, q, nResults, includeArchived)
		if err != nil {
			// Only a lost database handle carries the unavailability
			// sentinel; a plain query failure stays a plain failure.
			if shortterm.Unavailable(err) {
				return nil, fmt.Errorf("%w: search: %v", shortterm.ErrUnavailable, err)
			}
			return nil, fmt.Errorf("short-term search: %w", err)
		}
		all = append(all, results...)
	}
	return all, nil
}

// searchLongTerm queries the vector index per variant. Unavailability and
// timeouts degrade to an empty contribution with a warning.
func (h *HybridMemory) searchLongTerm(ctx context.Context, queries []string, nResults int, where map[string]string, includeArchived bool) []core.ScoredItem {
	var all []core.ScoredItem
	for _, q := range queries {
		vec, err := h.embed.Embed(ctx, q)
		if err != nil || len(vec) == 0 {
			continue
		}
		results, err := h.vectors.Recall(ctx, h.cfg.Collection, vec, nResults, where)
		if err != nil {
			if errors.Is(err, longterm.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
				h.logger.Warn("long-term store degraded, skipping source", "error", err)
				return all
			}
			h.logger.Warn("long-term recall failed", "error", err)
			continue
		}
		for _, r := range results {
			item := itemFromResult(r)
			if item.Tier == core.TierArchive && !includeArchived {
				continue
			}
			all = append(all, core.ScoredItem{Item: item, Relevance: r.Relevance, Origin: "long_term"})
		}
	}
	return all
}

func itemFromResult(r longterm.Result) *core.MemoryItem {
	item := &core.MemoryItem{
		ID:       r.ID,
		Content:  r.Content,
		Tier:     core.TierLongTerm,
		Source:   r.Metadata["source"],
		Context:  core.Context7FromMetadata(r.Metadata),
		Metadata: r.Metadata,
	}
	if tier := core.Tier(r.Metadata["tier"]); tier.Valid() {
		item.Tier = tier
	}
	if ts, err := time.Parse(time.RFC3339, r.Metadata["created_at"]); err == nil {
		item.CreatedAt = ts
		item.AccessedAt = ts
	}
	return item
}

// longTermWhere extracts metadata equality conditions from recall filters.
func longTermWhere(filters map[string]string) map[string]string {
	var where map[string]string
	for k, v := range filters {
		if k == filterSessionID || k == filterIncludeArchived || v == "" {
			continue
		}
		if where == nil {
			where = make(map[string]string)
		}
		where[k] = v
	}
	return where
}

func (h *HybridMemory) persistChain(ctx context.Context, sessionID string, chain *core.ReasoningChain) {
	for _, step := range chain.Steps {
		conclusion := ""
		if step.Type == core.StepConclusion {
			conclusion = chain.Conclusion
		}
		if err := h.store.AppendReasoningStep(ctx, sessionID, string(step.Type), step, conclusion); err != nil {
			h.logger.Debug("reasoning step persist failed", "error", err)
			return
		}
	}
}

// GetContext assembles a session's history, reasoning chain, and pending
// tasks, plus long-term knowledge relevant to the most recent user message
// when history exists.
func (h *HybridMemory) GetContext(ctx context.Context, sessionID string) (*core.ContextBundle, error) {
	history, err := h.store.GetSessionHistory(ctx, sessionID, 20)
	if err != nil {
		return nil, err
	}
	steps, err := h.store.GetReasoningChain(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tasks, err := h.store.GetPendingTasks(ctx, 10)
	if err != nil {
		return nil, err
	}

	bundle := &core.ContextBundle{
		SessionID:      sessionID,
		History:        history,
		ReasoningChain: steps,
		PendingTasks:   tasks,
	}

	if seed := lastUserMessage(history); seed != "" {
		knowledge, err := h.Recall(ctx, seed, h.cfg.DefaultTopK, core.ModeFoundation, nil)
		if err != nil {
			h.logger.Warn("context knowledge recall failed", "error", err)
		} else {
			bundle.RelevantKnowledge = knowledge
		}
	}
	return bundle, nil
}

func lastUserMessage(history []core.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	if len(history) > 0 {
		return history[len(history)-1].Content
	}
	return ""
}

// GetWorking reads a working-memory value through the facade.
func (h *HybridMemory) GetWorking(ctx context.Context, key string) (string, bool, error) {
	return h.store.GetWorking(ctx, key)
}

// CompleteTask marks a queued task done.
func (h *HybridMemory) CompleteTask(ctx context.Context, id string) error {
	return h.store.CompleteTask(ctx, id)
}

// Glimmers returns persisted synchronicity events involving a memory id.
func (h *HybridMemory) Glimmers(ctx context.Context, memoryID string, limit int) ([]core.Glimmer, error) {
	return h.store.GlimmersFor(ctx, memoryID, limit)
}

// Stats reports short-term store row counts for health surfaces.
func (h *HybridMemory) Stats(ctx context.Context) (shortterm.Stats, error) {
	return h.store.Stats(ctx)
}
