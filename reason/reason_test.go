package reason_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptiq/hybridmem/core"
	"github.com/synaptiq/hybridmem/reason"
)

func TestDecompose_AlwaysContainsOriginal(t *testing.T) {
	r := reason.New(nil)

	for _, q := range []string{
		"what is on my calendar today",
		"",
		"   ",
		"single",
	} {
		subs, chain := r.Decompose(q)
		require.NotEmpty(t, subs, "query %q", q)
		assert.Equal(t, q, subs[0])
		require.NotNil(t, chain)
		assert.Equal(t, q, chain.Query)
	}
}

func TestDecompose_SplitsConjunctions(t *testing.T) {
	r := reason.New(nil)

	subs, chain := r.Decompose("review the budget and schedule the meeting")
	require.GreaterOrEqual(t, len(subs), 3)
	assert.Contains(t, subs, "review the budget")
	assert.Contains(t, subs, "schedule the meeting")

	// Every split is logged as a decomposition step.
	for _, step := range chain.Steps {
		assert.Equal(t, core.StepDecomposition, step.Type)
		assert.GreaterOrEqual(t, step.Confidence, 0.0)
		assert.LessOrEqual(t, step.Confidence, 1.0)
	}
}

func TestDecompose_SplitsMultipleQuestions(t *testing.T) {
	r := reason.New(nil)

	subs, _ := r.Decompose("what changed yesterday? who approved it?")
	assert.Contains(t, subs, "what changed yesterday?")
	assert.Contains(t, subs, "who approved it?")
}

func TestDecompose_CapsSubQueries(t *testing.T) {
	r := reason.New(nil)

	subs, _ := r.Decompose("check mail and review notes and update tasks and plan sprint and write summary and send report")
	assert.LessOrEqual(t, len(subs), 6)
}

func TestDecompose_DeduplicatesCaseInsensitively(t *testing.T) {
	r := reason.New(nil)

	subs, _ := r.Decompose("Plan the week and plan the week")
	assert.Len(t, subs, 2) // original plus one distinct clause
}

func TestReasoner_ChainHelpers(t *testing.T) {
	r := reason.New(nil)

	chain := r.Begin("query")
	r.AddThought(chain, core.StepHypothesis, "guess", 0.4)
	r.Conclude(chain, "answer", 0.8)

	assert.Equal(t, "answer", chain.Conclusion)
	assert.Equal(t, 0.8, chain.FinalConfidence)
	assert.Len(t, chain.Steps, 2)
}
