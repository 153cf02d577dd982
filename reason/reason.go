// Package reason implements the sequential reasoner that runs ahead of
// retrieval: it decomposes an incoming query into ordered sub-queries,
// logging every step into an append-only reasoning chain. Revisions and
// branches extend the chain; nothing is ever deleted, so a chain replays as
// a faithful trace of how the query was worked.
package reason

import (
	"log/slog"
	"strings"

	"github.com/synaptiq/hybridmem/core"
)

// maxSubQueries caps heuristic splits beyond the original query.
const maxSubQueries = 4

// Reasoner produces reasoning chains. Stateless and safe for concurrent use.
type Reasoner struct {
	logger *slog.Logger
}

// New creates a reasoner. A nil logger selects slog.Default().
func New(logger *slog.Logger) *Reasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{logger: logger}
}

// Begin starts a chain for a query.
func (r *Reasoner) Begin(query string) *core.ReasoningChain {
	return core.NewReasoningChain(query)
}

// AddThought appends a step to the chain.
func (r *Reasoner) AddThought(chain *core.ReasoningChain, typ core.StepType, content string, confidence float64) *core.ThoughtStep {
	return chain.Append(typ, content, confidence)
}

// Conclude closes the chain with a conclusion step.
func (r *Reasoner) Conclude(chain *core.ReasoningChain, conclusion string, confidence float64) {
	chain.Conclude(conclusion, confidence)
}

// Decompose splits a query into ordered sub-queries and the chain that
// documents the split. The original query is always the first sub-query, so
// the result is never empty; a query the heuristics cannot segment comes
// back alone rather than failing.
func (r *Reasoner) Decompose(query string) ([]string, *core.ReasoningChain) {
	chain := r.Begin(query)
	subQueries := []string{query}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		chain.Append(core.StepDecomposition, "empty query, nothing to segment", 0.2)
		return subQueries, chain
	}

	chain.Append(core.StepDecomposition, "original: "+trimmed, specificity(trimmed))

	seen := map[string]bool{strings.ToLower(trimmed): true}
	for _, part := range segment(trimmed) {
		key := strings.ToLower(part)
		if seen[key] {
			continue
		}
		seen[key] = true
		subQueries = append(subQueries, part)
		chain.Append(core.StepDecomposition, "sub-query: "+part, specificity(part))
		if len(subQueries) > maxSubQueries {
			break
		}
	}

	if len(subQueries) > 1 {
		r.logger.Debug("decomposed query", "sub_queries", len(subQueries))
	}
	return subQueries, chain
}

// segment splits on question boundaries, then conjunctions and enumerations
// within each clause.
func segment(query string) []string {
	var parts []string

	clauses := strings.Split(query, "?")
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if len(clauses) > 2 {
			// Multiple questions in one query; each stands alone.
			parts = append(parts, clause+"?")
		}
		parts = append(parts, splitConjunctions(clause)...)
	}
	return parts
}

// conjunctions that mark independent sub-clauses, matched case-insensitively
// with surrounding spaces.
var conjunctions = []string{" and ", " or ", " as well as ", " then ", "; "}

func splitConjunctions(clause string) []string {
	pieces := []string{clause}
	for _, conj := range conjunctions {
		var next []string
		for _, p := range pieces {
			next = append(next, splitOnFold(p, conj)...)
		}
		pieces = next
	}

	// Enumerations: a comma list of three or more entries splits per entry.
	var out []string
	for _, p := range pieces {
		if entries := strings.Split(p, ","); len(entries) >= 3 {
			for _, e := range entries {
				out = append(out, strings.TrimSpace(e))
			}
		} else {
			out = append(out, strings.TrimSpace(p))
		}
	}

	var filtered []string
	for _, p := range out {
		// Fragments under two words carry no retrieval signal on their own.
		if len(strings.Fields(p)) >= 2 {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// splitOnFold splits s on sep case-insensitively.
func splitOnFold(s, sep string) []string {
	lower := strings.ToLower(s)
	var parts []string
	for {
		idx := strings.Index(lower, sep)
		if idx < 0 {
			parts = append(parts, s)
			return parts
		}
		parts = append(parts, s[:idx])
		s = s[idx+len(sep):]
		lower = lower[idx+len(sep):]
	}
}

// specificity estimates lexical specificity in [0.3, 0.9]: more informative
// tokens mean a more confident decomposition step.
func specificity(text string) float64 {
	informative := 0
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if len(tok) > 4 && !stopwords[tok] {
			informative++
		}
	}
	conf := 0.3 + 0.1*float64(informative)
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

var stopwords = map[string]bool{
	"about": true, "after": true, "before": true, "being": true, "between": true,
	"could": true, "should": true, "there": true, "these": true, "those": true,
	"where": true, "which": true, "while": true, "would": true,
}
