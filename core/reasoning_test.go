package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptiq/hybridmem/core"
)

func TestReasoningChain_AppendOnly(t *testing.T) {
	chain := core.NewReasoningChain("why is the build slow?")

	s1 := chain.Append(core.StepDecomposition, "identify slow stage", 0.6)
	s2 := chain.Append(core.StepHypothesis, "cache misses dominate", 0.4)
	assert.Equal(t, 1, s1.Number)
	assert.Equal(t, 2, s2.Number)

	rev := chain.Revise(1, "identify slow stage per target", 0.7)
	require.NotNil(t, rev)
	assert.True(t, rev.IsRevision)
	assert.Equal(t, 1, rev.RevisesStep)
	assert.Equal(t, 3, rev.Number)

	// Revision appends; nothing is deleted or renumbered.
	assert.Len(t, chain.Steps, 3)
	assert.Equal(t, "identify slow stage", chain.Steps[0].Content)
}

func TestReasoningChain_Branch(t *testing.T) {
	chain := core.NewReasoningChain("query")
	chain.Append(core.StepAnalysis, "main line", 0.5)

	b := chain.Branch(1, core.StepHypothesis, "alternative reading", 0.3)
	require.NotNil(t, b)
	assert.NotEmpty(t, b.BranchID)
	assert.Equal(t, 1, b.BranchFrom)
	assert.Len(t, chain.Steps, 2)
}

func TestReasoningChain_ConcludeClampsConfidence(t *testing.T) {
	chain := core.NewReasoningChain("query")
	chain.Conclude("done", 1.7)
	assert.Equal(t, "done", chain.Conclusion)
	assert.Equal(t, 1.0, chain.FinalConfidence)

	last := chain.Steps[len(chain.Steps)-1]
	assert.Equal(t, core.StepConclusion, last.Type)
}
