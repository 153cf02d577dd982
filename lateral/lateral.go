// Package lateral widens queries for retrieval and re-ranks merged results
// per retrieval mode. A query expands into a focus variant (verbatim), a
// shadow variant (context-broadened for cross-domain recall), and an
// abstract variant (thematic compression seeding synchronicity queries).
//
// Mode semantics: foundation ranks by pure relevance; lateral trades
// relevance for topical spread with a tunable diversity weight; factcheck
// keeps only the three highest-confidence matches and marks the ones
// clearing the acceptance threshold as verified.
package lateral

import (
	"sort"
	"strings"

	"github.com/synaptiq/hybridmem/core"
)

// Expansion is the widened form of one query.
type Expansion struct {
	Focus    string
	Shadow   string
	Abstract string
}

// Mode confidence multipliers. Empirically calibrated starting points, not
// derived; override per instance when tuning.
const (
	defaultFoundationBoost = 1.0
	defaultLateralBoost    = 0.9
	defaultFactcheckBoost  = 1.1
)

// factcheckMaxResults caps factcheck output regardless of the requested
// result count.
const factcheckMaxResults = 3

// Expander widens queries and merges result sets.
type Expander struct {
	// Diversity is the lateral-mode diversity weight: how strongly
	// near-duplicates of already-selected results are penalised.
	Diversity float64

	// FactcheckMin is the relevance a factcheck result needs for the
	// verified classification.
	FactcheckMin float64

	// Per-mode relevance multipliers.
	FoundationBoost float64
	LateralBoost    float64
	FactcheckBoost  float64
}

// New creates an expander with the given diversity weight and factcheck
// acceptance threshold.
func New(diversity, factcheckMin float64) *Expander {
	return &Expander{
		Diversity:       diversity,
		FactcheckMin:    factcheckMin,
		FoundationBoost: defaultFoundationBoost,
		LateralBoost:    defaultLateralBoost,
		FactcheckBoost:  defaultFactcheckBoost,
	}
}

// Expand widens a query using its own terms and the caller's current
// context. Items without any populated context dimension still expand; the
// shadow then carries only co-occurring terms.
func (e *Expander) Expand(query string, c7 core.Context7) Expansion {
	keywords := contentWords(query)

	shadowParts := append([]string{query}, keywords...)
	for _, dim := range []string{c7.Temporal, c7.Domain, c7.Abstract} {
		if dim != "" {
			shadowParts = append(shadowParts, dim)
		}
	}

	abstract := keywords
	if len(abstract) > 4 {
		abstract = abstract[:4]
	}

	return Expansion{
		Focus:    query,
		Shadow:   strings.Join(dedupeStrings(shadowParts), " "),
		Abstract: strings.Join(abstract, " "),
	}
}

// Merge combines result sets from multiple sources into one ranked,
// deduplicated list according to mode. Duplicate ids keep their best
// relevance.
func (e *Expander) Merge(mode core.RetrievalMode, limit int, sets ...[]core.ScoredItem) []core.ScoredItem {
	if limit <= 0 {
		limit = 5
	}

	merged := make(map[string]core.ScoredItem)
	for _, set := range sets {
		for _, scored := range set {
			if scored.Item == nil {
				continue
			}
			if prev, ok := merged[scored.Item.ID]; !ok || scored.Relevance > prev.Relevance {
				merged[scored.Item.ID] = scored
			}
		}
	}

	results := make([]core.ScoredItem, 0, len(merged))
	boost := e.boost(mode)
	for _, scored := range merged {
		scored.Relevance = clip01(scored.Relevance * boost)
		results = append(results, scored)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })

	switch mode {
	case core.ModeLateral:
		results = e.diversify(results)
	case core.ModeFactcheck:
		if len(results) > factcheckMaxResults {
			results = results[:factcheckMaxResults]
		}
		for i := range results {
			results[i].Verified = results[i].Relevance >= e.FactcheckMin
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// diversify greedily re-ranks: each pick is the candidate with the best
// relevance minus Diversity times its worst content overlap with anything
// already selected. Near-duplicates sink, topical spread rises.
func (e *Expander) diversify(ranked []core.ScoredItem) []core.ScoredItem {
	if len(ranked) <= 2 || e.Diversity <= 0 {
		return ranked
	}

	selected := make([]core.ScoredItem, 0, len(ranked))
	remaining := append([]core.ScoredItem(nil), ranked...)

	for len(remaining) > 0 {
		bestIdx, bestScore := 0, -1.0
		for i, cand := range remaining {
			score := cand.Relevance - e.Diversity*maxOverlap(cand, selected)
			if score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func maxOverlap(cand core.ScoredItem, selected []core.ScoredItem) float64 {
	var max float64
	candTokens := tokenSet(cand.Item.Content)
	for _, s := range selected {
		if o := jaccard(candTokens, tokenSet(s.Item.Content)); o > max {
			max = o
		}
	}
	return max
}

func (e *Expander) boost(mode core.RetrievalMode) float64 {
	switch mode {
	case core.ModeLateral:
		return e.LateralBoost
	case core.ModeFactcheck:
		return e.FactcheckBoost
	default:
		return e.FoundationBoost
	}
}

// contentWords extracts lowercased tokens longer than three characters,
// preserving first-seen order.
func contentWords(text string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if len(tok) <= 3 || seen[tok] {
			continue
		}
		seen[tok] = true
		words = append(words, tok)
	}
	return words
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(tok, ".,!?;:\"'")] = true
	}
	return set
}

// jaccard returns |A ∩ B| / |A ∪ B|.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
