package synchro_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptiq/hybridmem/core"
	"github.com/synaptiq/hybridmem/synchro"
)

func item(id, content string, c7 core.Context7) *core.MemoryItem {
	m := core.NewMemoryItem(content, "test", core.TierShortTerm, c7)
	m.ID = id
	return m
}

func TestDetect_BelowThresholdIsNil(t *testing.T) {
	d := synchro.New(0.5, 0.6)

	a := item("a", "practicing scales on guitar", core.Context7{Domain: "music"})
	b := item("b", "quarterly tax filing", core.Context7{Domain: "finance"})

	assert.Nil(t, d.Detect(a, b, 0.1))
}

func TestDetect_AboveThresholdCarriesBothIDs(t *testing.T) {
	d := synchro.New(0.5, 0.6)

	a := item("a", "rhythm patterns in drumming", core.Context7{Domain: "music", Abstract: "patterns"})
	b := item("b", "rhythm patterns in market cycles", core.Context7{Domain: "finance", Abstract: "patterns"})

	g := d.Detect(a, b, 0.9)
	require.NotNil(t, g)
	assert.True(t, g.Involves("a"))
	assert.True(t, g.Involves("b"))
	assert.GreaterOrEqual(t, g.Strength, 0.5)
	assert.Contains(t, g.SharedConcepts, "rhythm")
	assert.Contains(t, g.SharedDimensions, "abstract")
}

func TestDetect_CrossDomainType(t *testing.T) {
	d := synchro.New(0.1, 1.0) // embedding only, low bar

	a := item("a", "shared words here", core.Context7{Domain: "music"})
	b := item("b", "shared words there", core.Context7{Domain: "finance"})
	g := d.Detect(a, b, 0.9)
	require.NotNil(t, g)
	assert.Equal(t, "cross_domain", g.Type)

	c := item("c", "shared words again", core.Context7{Domain: "music"})
	g = d.Detect(a, c, 0.9)
	require.NotNil(t, g)
	assert.Equal(t, "contextual", g.Type)
}

func TestDetect_DegenerateInputs(t *testing.T) {
	d := synchro.New(0.0, 0.6)
	a := item("a", "content", core.Context7{})

	assert.Nil(t, d.Detect(nil, a, 1.0))
	assert.Nil(t, d.Detect(a, nil, 1.0))
	assert.Nil(t, d.Detect(a, a, 1.0))
}

func TestScan_FindsPairsAcrossResultSet(t *testing.T) {
	d := synchro.New(0.3, 0.0) // context overlap only

	shared := core.Context7{Domain: "productivity", Abstract: "habits"}
	results := []core.ScoredItem{
		{Item: item("a", "morning review habits", shared), Relevance: 0.9},
		{Item: item("b", "evening review habits", shared), Relevance: 0.8},
		{Item: item("c", "unrelated grocery list", core.Context7{Domain: "errands"}), Relevance: 0.7},
	}

	events := d.Scan(results)
	require.Len(t, events, 1)
	assert.True(t, events[0].Involves("a"))
	assert.True(t, events[0].Involves("b"))
}
