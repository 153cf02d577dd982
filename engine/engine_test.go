package engine_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptiq/hybridmem/config"
	"github.com/synaptiq/hybridmem/core"
	"github.com/synaptiq/hybridmem/embedder/mock"
	"github.com/synaptiq/hybridmem/engine"
	"github.com/synaptiq/hybridmem/longterm"
	"github.com/synaptiq/hybridmem/longterm/chromem"
	"github.com/synaptiq/hybridmem/shortterm"
)

// flakyStore wraps the embedded store with a switchable outage, standing in
// for an unreachable network index.
type flakyStore struct {
	inner longterm.Store

	mu   sync.Mutex
	fail bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{inner: chromem.New()}
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *flakyStore) EnsureCollection(ctx context.Context, name string) error {
	if f.failing() {
		return fmt.Errorf("%w: connection refused", longterm.ErrUnavailable)
	}
	return f.inner.EnsureCollection(ctx, name)
}

func (f *flakyStore) Store(ctx context.Context, collection string, doc longterm.Document, embedding []float32) error {
	if f.failing() {
		return fmt.Errorf("%w: connection refused", longterm.ErrUnavailable)
	}
	return f.inner.Store(ctx, collection, doc, embedding)
}

func (f *flakyStore) Recall(ctx context.Context, collection string, embedding []float32, nResults int, where map[string]string) ([]longterm.Result, error) {
	if f.failing() {
		return nil, fmt.Errorf("%w: connection refused", longterm.ErrUnavailable)
	}
	return f.inner.Recall(ctx, collection, embedding, nResults, where)
}

func (f *flakyStore) Close() error {
	return f.inner.Close()
}

func openEngine(t *testing.T, opts ...engine.Option) *engine.HybridMemory {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	h, err := engine.Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRemember_WorkingTTL(t *testing.T) {
	h := openEngine(t)
	ctx := context.Background()

	item, err := h.Remember(ctx, engine.RememberRequest{
		Content: "Meeting notes",
		Source:  "calendar",
		Type:    engine.TypeWorking,
		Key:     "meeting",
		TTL:     60 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, core.TierWorking, item.Tier)

	value, ok, err := h.GetWorking(ctx, "meeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Meeting notes", value)
}

func TestRemember_AutoRouting(t *testing.T) {
	h := openEngine(t)
	ctx := context.Background()

	short, err := h.Remember(ctx, engine.RememberRequest{
		Content: "quick note",
		Source:  "test",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TierWorking, short.Tier)

	_, ok, err := h.GetWorking(ctx, short.ID)
	require.NoError(t, err)
	assert.True(t, ok, "auto-routed working entry is readable under the item id")

	long, err := h.Remember(ctx, engine.RememberRequest{
		Content: strings.Repeat("detailed findings about the scheduling optimizer ", 10),
		Source:  "test",
	})
	require.NoError(t, err)
	assert.Equal(t, core.TierLongTerm, long.Tier)

	flagged, err := h.Remember(ctx, engine.RememberRequest{
		Content:  "small but important",
		Source:   "test",
		Metadata: map[string]string{"persist": "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.TierLongTerm, flagged.Tier)
}

func TestRecall_MergesBothStores(t *testing.T) {
	vectors := newFlakyStore()
	h := openEngine(t, engine.WithVectorStore(vectors))
	ctx := context.Background()
	c7 := core.Context7{Domain: "productivity"}

	// First write lands while the index is down, so it stays short-term.
	vectors.setFail(true)
	local, err := h.Remember(ctx, engine.RememberRequest{
		Content: "productivity tasks backlog for the sprint",
		Source:  "planner",
		Type:    engine.TypeKnowledge,
		Context: c7,
	})
	require.NoError(t, err)
	assert.Equal(t, core.TierShortTerm, local.Tier)

	vectors.setFail(false)
	remote1, err := h.Remember(ctx, engine.RememberRequest{
		Content: "productivity tasks weekly planning review",
		Source:  "planner",
		Type:    engine.TypeKnowledge,
		Context: c7,
	})
	require.NoError(t, err)
	assert.Equal(t, core.TierLongTerm, remote1.Tier)

	remote2, err := h.Remember(ctx, engine.RememberRequest{
		Content: "productivity tasks monday standup summary",
		Source:  "planner",
		Type:    engine.TypeKnowledge,
		Context: c7,
	})
	require.NoError(t, err)

	results, err := h.Recall(ctx, "productivity tasks", 10, core.ModeLateral, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(results), 3)

	seen := make(map[string]int)
	for i, r := range results {
		seen[r.Item.ID]++
		if i > 0 {
			// Lateral re-ranking may reorder, but duplicates never appear.
			assert.NotEqual(t, results[i-1].Item.ID, r.Item.ID)
		}
	}
	for _, id := range []string{local.ID, remote1.ID, remote2.ID} {
		assert.Equal(t, 1, seen[id], "each item appears exactly once")
	}
}

func TestRecall_FoundationDescendingOrder(t *testing.T) {
	h := openEngine(t)
	ctx := context.Background()

	for _, content := range []string{
		"productivity tasks weekly planning review",
		"productivity tasks monday standup summary",
		"guitar chord progressions practice log",
	} {
		_, err := h.Remember(ctx, engine.RememberRequest{
			Content: content,
			Source:  "test",
			Type:    engine.TypeKnowledge,
		})
		require.NoError(t, err)
	}

	results, err := h.Recall(ctx, "productivity tasks", 10, core.ModeFoundation, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Relevance, results[i].Relevance)
	}
}

func TestRecall_FactcheckNeverExceedsThree(t *testing.T) {
	h := openEngine(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := h.Remember(ctx, engine.RememberRequest{
			Content: fmt.Sprintf("verified fact number %d about deployment safety", i),
			Source:  "test",
			Type:    engine.TypeKnowledge,
		})
		require.NoError(t, err)
	}

	results, err := h.Recall(ctx, "deployment safety facts", 20, core.ModeFactcheck, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)
}

func TestRecall_LongTermOutageStillReturnsShortTerm(t *testing.T) {
	vectors := newFlakyStore()
	h := openEngine(t, engine.WithVectorStore(vectors))
	ctx := context.Background()

	vectors.setFail(true)
	_, err := h.Remember(ctx, engine.RememberRequest{
		Content: "incident retro notes from the outage",
		Source:  "test",
		Type:    engine.TypeKnowledge,
	})
	require.NoError(t, err)

	results, err := h.Recall(ctx, "incident retro notes", 10, core.ModeFoundation, nil)
	require.NoError(t, err, "full long-term outage must not fail the call")
	require.NotEmpty(t, results)
	assert.Equal(t, "short_term", results[0].Origin)
}

func TestRecall_EmptyQueryDegrades(t *testing.T) {
	h := openEngine(t)

	results, err := h.Recall(context.Background(), "", 5, core.ModeFoundation, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGetContext_AssemblesBundle(t *testing.T) {
	h := openEngine(t)
	ctx := context.Background()

	_, err := h.Remember(ctx, engine.RememberRequest{
		Content:   "what does my schedule look like",
		Source:    "planner",
		Type:      engine.TypeSession,
		SessionID: "s1",
	})
	require.NoError(t, err)
	_, err = h.Remember(ctx, engine.RememberRequest{
		Content:   "you have two meetings today",
		Source:    "planner",
		Type:      engine.TypeSession,
		SessionID: "s1",
		Role:      "assistant",
	})
	require.NoError(t, err)
	_, err = h.Remember(ctx, engine.RememberRequest{
		Content:  "prepare slides for review",
		Source:   "planner",
		Type:     engine.TypeTask,
		Priority: 5,
	})
	require.NoError(t, err)
	_, err = h.Remember(ctx, engine.RememberRequest{
		Content:   "considering reordering the afternoon",
		Source:    "planner",
		Type:      engine.TypeReasoning,
		SessionID: "s1",
	})
	require.NoError(t, err)

	bundle, err := h.GetContext(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", bundle.SessionID)
	require.Len(t, bundle.History, 2)
	assert.Equal(t, "user", bundle.History[0].Role)
	require.Len(t, bundle.PendingTasks, 1)
	assert.Equal(t, "prepare slides for review", bundle.PendingTasks[0].Title)
	require.Len(t, bundle.ReasoningChain, 1)
	assert.Equal(t, "considering reordering the afternoon", bundle.ReasoningChain[0].Content)
}

func TestGetContext_UnknownSessionIsEmpty(t *testing.T) {
	h := openEngine(t)

	bundle, err := h.GetContext(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, bundle.History)
	assert.Empty(t, bundle.RelevantKnowledge)
}

func TestSweep_YoungItemsAreNotPromoted(t *testing.T) {
	vectors := newFlakyStore()
	h := openEngine(t, engine.WithVectorStore(vectors))
	ctx := context.Background()

	// Stored during an outage, so it stays short-term.
	vectors.setFail(true)
	item, err := h.Remember(ctx, engine.RememberRequest{
		Content: "hard-won lesson about cache invalidation ordering",
		Source:  "test",
		Type:    engine.TypeKnowledge,
	})
	require.NoError(t, err)
	require.Equal(t, core.TierShortTerm, item.Tier)

	// Accesses accumulate via recall.
	for i := 0; i < 3; i++ {
		_, err := h.Recall(ctx, "cache invalidation ordering", 5, core.ModeFoundation, nil)
		require.NoError(t, err)
	}

	// Too young to promote yet.
	vectors.setFail(false)
	res, err := h.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Promoted)
}

func TestRecall_ArchivedHiddenFromLongTermSource(t *testing.T) {
	vectors := newFlakyStore()
	h := openEngine(t, engine.WithVectorStore(vectors))
	ctx := context.Background()
	embed := mock.New(384)

	live, err := h.Remember(ctx, engine.RememberRequest{
		Content: "quarterly planning retrospective current cycle",
		Source:  "test",
		Type:    engine.TypeKnowledge,
	})
	require.NoError(t, err)
	require.Equal(t, core.TierLongTerm, live.Tier)

	// An index copy retagged by the demotion sweep.
	archContent := "quarterly planning retrospective from two years ago"
	vec, err := embed.Embed(ctx, archContent)
	require.NoError(t, err)
	require.NoError(t, vectors.Store(ctx, "knowledge", longterm.Document{
		ID:       "arch-1",
		Content:  archContent,
		Metadata: map[string]string{"tier": string(core.TierArchive)},
	}, vec))

	results, err := h.Recall(ctx, "quarterly planning retrospective", 10, core.ModeFoundation, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, "arch-1", r.Item.ID, "archived items stay out of default recall")
	}

	results, err = h.Recall(ctx, "quarterly planning retrospective", 10, core.ModeFoundation,
		map[string]string{"include_archived": "true"})
	require.NoError(t, err)
	seen := false
	for _, r := range results {
		if r.Item.ID == "arch-1" {
			seen = true
		}
	}
	assert.True(t, seen, "archived items return when asked for")
}

func TestRecall_GlimmerAcrossSources(t *testing.T) {
	vectors := newFlakyStore()
	h := openEngine(t, engine.WithVectorStore(vectors))
	ctx := context.Background()
	embed := mock.New(384)

	// Lands short-term because the index is down when it arrives.
	vectors.setFail(true)
	local, err := h.Remember(ctx, engine.RememberRequest{
		Content: "tidal rhythm patterns in ocean waves",
		Source:  "journal",
		Type:    engine.TypeKnowledge,
		Context: core.Context7{Domain: "music", Abstract: "patterns"},
	})
	require.NoError(t, err)
	require.Equal(t, core.TierShortTerm, local.Tier)
	vectors.setFail(false)

	// A document that exists only in the index, so recall materializes it
	// without an embedding.
	remoteContent := "tidal rhythm patterns in market waves"
	vec, err := embed.Embed(ctx, remoteContent)
	require.NoError(t, err)
	require.NoError(t, vectors.Store(ctx, "knowledge", longterm.Document{
		ID:      "remote-tide",
		Content: remoteContent,
		Metadata: map[string]string{
			"tier":         string(core.TierLongTerm),
			"ctx_domain":   "finance",
			"ctx_abstract": "patterns",
		},
	}, vec))

	results, err := h.Recall(ctx, "tidal rhythm patterns", 10, core.ModeFoundation, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(results), 2)

	glimmers, err := h.Glimmers(ctx, local.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, glimmers, "pairs spanning both sources still produce glimmers")
	assert.True(t, glimmers[0].Involves("remote-tide"))
}

func TestRecall_ClosedStoreSurfacesUnavailable(t *testing.T) {
	h := openEngine(t)
	require.NoError(t, h.Close())

	_, err := h.Recall(context.Background(), "anything at all", 5, core.ModeFoundation, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, shortterm.ErrUnavailable)
}

func TestCompleteTask(t *testing.T) {
	h := openEngine(t)
	ctx := context.Background()

	item, err := h.Remember(ctx, engine.RememberRequest{
		Content: "rotate credentials",
		Source:  "test",
		Type:    engine.TypeTask,
	})
	require.NoError(t, err)

	require.NoError(t, h.CompleteTask(ctx, item.ID))
	assert.Error(t, h.CompleteTask(ctx, "unknown"))
}

func TestStats(t *testing.T) {
	h := openEngine(t)
	ctx := context.Background()

	_, err := h.Remember(ctx, engine.RememberRequest{Content: "note", Source: "test", Type: engine.TypeWorking})
	require.NoError(t, err)

	st, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.WorkingKeys)
}
