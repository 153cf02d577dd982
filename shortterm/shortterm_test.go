package shortterm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptiq/hybridmem/core"
	"github.com/synaptiq/hybridmem/shortterm"
)

func openStore(t *testing.T) *shortterm.Store {
	t.Helper()
	store, err := shortterm.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWorkingMemory_TTL(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWorking(ctx, "meeting", "Meeting notes", "session1", time.Second))

	value, ok, err := store.GetWorking(ctx, "meeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Meeting notes", value)

	time.Sleep(2 * time.Second)

	_, ok, err = store.GetWorking(ctx, "meeting")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as a miss")

	// The row itself survives until the purge sweep.
	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestWorkingMemory_NoTTLNeverExpires(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWorking(ctx, "pinned", "value", "", 0))

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)

	_, ok, err := store.GetWorking(ctx, "pinned")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkingMemory_Trim(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.SetWorking(ctx, key, "v", "", time.Hour))
	}

	evicted, err := store.TrimWorking(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evicted)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.WorkingKeys)
}

func TestSessionTranscript(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendSession(ctx, "s1", "planner", "user", "plan my week"))
	require.NoError(t, store.AppendSession(ctx, "s1", "planner", "assistant", "here is a plan"))
	require.NoError(t, store.AppendSession(ctx, "s2", "other", "user", "unrelated"))

	history, err := store.GetSessionHistory(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "plan my week", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)

	// Limit keeps the most recent entries, still in chronological order.
	history, err = store.GetSessionHistory(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "here is a plan", history[0].Content)

	sess, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "planner", sess.AgentName)

	missing, err := store.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTaskQueue(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	due := time.Now().Add(time.Hour)
	low, err := store.CreateTask(ctx, "water plants", 1, nil)
	require.NoError(t, err)
	high, err := store.CreateTask(ctx, "file taxes", 9, &due)
	require.NoError(t, err)

	tasks, err := store.GetPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, high.ID, tasks[0].ID, "higher priority first")

	require.NoError(t, store.CompleteTask(ctx, low.ID))
	tasks, err = store.GetPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, high.ID, tasks[0].ID)

	err = store.CompleteTask(ctx, "unknown-id")
	assert.Error(t, err)
}

func TestReasoningChainPersistence(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	steps := []core.ThoughtStep{
		{Number: 1, Type: core.StepDecomposition, Content: "split query", Confidence: 0.6},
		{Number: 2, Type: core.StepConclusion, Content: "answer found", Confidence: 0.9},
	}
	require.NoError(t, store.AppendReasoningStep(ctx, "s1", string(steps[0].Type), steps[0], ""))
	require.NoError(t, store.AppendReasoningStep(ctx, "s1", string(steps[1].Type), steps[1], "answer found"))

	replayed, err := store.GetReasoningChain(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, core.StepDecomposition, replayed[0].Type)
	assert.Equal(t, "split query", replayed[0].Content)
	assert.Equal(t, core.StepConclusion, replayed[1].Type)
	assert.InDelta(t, 0.9, replayed[1].Confidence, 1e-9)
}

func TestCache_TTL(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.CacheSet(ctx, "k", "v", 0))
	value, ok, err := store.CacheGet(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", value)

	_, ok, err = store.CacheGet(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestItems_PutGetTouch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	item := core.NewMemoryItem("vector databases index embeddings", "notes", core.TierShortTerm,
		core.Context7{Domain: "engineering"})
	item.Embedding = []float32{0.1, 0.2, 0.3}
	item.Metadata = map[string]string{"origin": "test"}
	require.NoError(t, store.PutItem(ctx, item))

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.Content, got.Content)
	assert.Equal(t, "engineering", got.Context.Domain)
	assert.Equal(t, item.Embedding, got.Embedding)
	assert.Equal(t, "test", got.Metadata["origin"])

	require.NoError(t, store.TouchItem(ctx, item.ID))
	require.NoError(t, store.TouchItem(ctx, item.ID))
	got, err = store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)

	missing, err := store.GetItem(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestItems_SearchExcludesArchiveByDefault(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	live := core.NewMemoryItem("notes on productivity habits", "test", core.TierShortTerm, core.Context7{})
	archived := core.NewMemoryItem("old productivity experiment", "test", core.TierArchive, core.Context7{})
	require.NoError(t, store.PutItem(ctx, live))
	require.NoError(t, store.PutItem(ctx, archived))

	// No embeddings stored, so the substring fallback ranks matches.
	results, err := store.SearchItems(ctx, nil, "productivity", 10, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, live.ID, results[0].Item.ID)
	assert.Equal(t, "short_term", results[0].Origin)

	results, err = store.SearchItems(ctx, nil, "productivity", 10, true)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestItems_SearchRanksByCosine(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	near := core.NewMemoryItem("close match", "test", core.TierShortTerm, core.Context7{})
	near.Embedding = []float32{1, 0, 0}
	far := core.NewMemoryItem("weak match", "test", core.TierShortTerm, core.Context7{})
	far.Embedding = []float32{0.2, 0.9, 0}
	require.NoError(t, store.PutItem(ctx, near))
	require.NoError(t, store.PutItem(ctx, far))

	results, err := store.SearchItems(ctx, []float32{1, 0, 0}, "", 10, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Item.ID)
	assert.Greater(t, results[0].Relevance, results[1].Relevance)
}

func TestGlimmers_UpsertByPair(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	g := core.NewGlimmer("mem-a", "mem-b", "cross_domain", 0.7)
	g.SharedConcepts = []string{"rhythm"}
	g.SharedDimensions = []string{"abstract"}
	require.NoError(t, store.SaveGlimmer(ctx, g))

	// Re-detecting the same pair updates strength instead of duplicating.
	again := core.NewGlimmer("mem-b", "mem-a", "cross_domain", 0.9)
	require.NoError(t, store.SaveGlimmer(ctx, again))

	events, err := store.GlimmersFor(ctx, "mem-a", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 0.9, events[0].Strength, 1e-9)
	assert.True(t, events[0].Involves("mem-b"))
}

func TestStats(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWorking(ctx, "k", "v", "", 0))
	_, err := store.CreateTask(ctx, "task", 0, nil)
	require.NoError(t, err)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.WorkingKeys)
	assert.Equal(t, 1, st.Tasks)
	assert.Equal(t, 0, st.Items)
}

func TestUnavailable_ClassifiesHandleLoss(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	require.NoError(t, store.Close())

	_, err := store.SearchItems(ctx, nil, "anything", 5, false)
	require.Error(t, err)
	assert.True(t, shortterm.Unavailable(err))

	// Ordinary failures are not handle loss.
	assert.False(t, shortterm.Unavailable(errors.New("near \"SELEC\": syntax error")))
	assert.False(t, shortterm.Unavailable(nil))
	assert.True(t, shortterm.Unavailable(shortterm.ErrUnavailable))
}
