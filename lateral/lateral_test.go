package lateral_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptiq/hybridmem/core"
	"github.com/synaptiq/hybridmem/lateral"
)

func scored(id, content string, relevance float64) core.ScoredItem {
	item := core.NewMemoryItem(content, "test", core.TierShortTerm, core.Context7{})
	item.ID = id
	return core.ScoredItem{Item: item, Relevance: relevance, Origin: "short_term"}
}

func TestExpand_Variants(t *testing.T) {
	e := lateral.New(0.3, 0.75)

	exp := e.Expand("optimize database queries", core.Context7{Domain: "backend", Temporal: "this week"})
	assert.Equal(t, "optimize database queries", exp.Focus)
	assert.Contains(t, exp.Shadow, "backend")
	assert.Contains(t, exp.Shadow, "this week")
	assert.NotEmpty(t, exp.Abstract)
}

func TestExpand_EmptyContextStillExpands(t *testing.T) {
	e := lateral.New(0.3, 0.75)

	exp := e.Expand("optimize database queries", core.Context7{})
	assert.Equal(t, "optimize database queries", exp.Focus)
	assert.NotEmpty(t, exp.Shadow)
}

func TestMerge_DeduplicatesKeepingBestScore(t *testing.T) {
	e := lateral.New(0.3, 0.75)

	merged := e.Merge(core.ModeFoundation, 10,
		[]core.ScoredItem{scored("a", "alpha content", 0.9), scored("b", "beta content", 0.4)},
		[]core.ScoredItem{scored("a", "alpha content", 0.6), scored("c", "gamma content", 0.7)},
	)

	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].Item.ID)
	assert.InDelta(t, 0.9, merged[0].Relevance, 1e-9)

	// Descending by relevance.
	for i := 1; i < len(merged); i++ {
		assert.GreaterOrEqual(t, merged[i-1].Relevance, merged[i].Relevance)
	}
}

func TestMerge_FactcheckCapsAtThree(t *testing.T) {
	e := lateral.New(0.3, 0.75)

	set := []core.ScoredItem{
		scored("a", "fact one", 0.95),
		scored("b", "fact two", 0.8),
		scored("c", "fact three", 0.5),
		scored("d", "fact four", 0.4),
		scored("e", "fact five", 0.3),
	}
	merged := e.Merge(core.ModeFactcheck, 10, set)
	require.Len(t, merged, 3)

	// factcheck boost is 1.1, so 0.8 clears the 0.75 bar and 0.5 does not.
	assert.True(t, merged[0].Verified)
	assert.True(t, merged[1].Verified)
	assert.False(t, merged[2].Verified)
}

func TestMerge_LateralDiversityDemotesNearDuplicates(t *testing.T) {
	e := lateral.New(0.9, 0.75)

	set := []core.ScoredItem{
		scored("a", "weekly budget planning spreadsheet review", 0.90),
		scored("b", "weekly budget planning spreadsheet update", 0.88),
		scored("c", "guitar practice schedule", 0.80),
	}
	merged := e.Merge(core.ModeLateral, 3, set)
	require.Len(t, merged, 3)

	// The topically distinct item outranks the near-duplicate of the leader.
	assert.Equal(t, "a", merged[0].Item.ID)
	assert.Equal(t, "c", merged[1].Item.ID)
	assert.Equal(t, "b", merged[2].Item.ID)
}

func TestMerge_RespectsLimit(t *testing.T) {
	e := lateral.New(0.3, 0.75)

	set := []core.ScoredItem{
		scored("a", "one item", 0.9),
		scored("b", "two item", 0.8),
		scored("c", "three item", 0.7),
	}
	merged := e.Merge(core.ModeFoundation, 2, set)
	assert.Len(t, merged, 2)
}
