// Package synchro detects synchronicities: unexpected cross-domain
// connections between two memory items. Detection combines embedding
// similarity with Context7 overlap; pairs below the threshold yield no
// event, which is the common case and not an error. Detection runs
// opportunistically over recall result sets and only ever augments output.
package synchro

import (
	"strings"

	"github.com/synaptiq/hybridmem/core"
)

// Detector scores candidate bridges between memory items.
type Detector struct {
	// Threshold is the minimum combined strength for an event.
	Threshold float64

	// EmbedWeight is the share of combined strength taken from embedding
	// similarity; the remainder comes from Context7 overlap. Starting point
	// pending calibration, hence a field and not a constant.
	EmbedWeight float64
}

// New creates a detector.
func New(threshold, embedWeight float64) *Detector {
	return &Detector{Threshold: threshold, EmbedWeight: embedWeight}
}

// Detect evaluates the pair (a, b) given their embedding similarity. It
// returns nil when the combined strength stays below the threshold, or an
// event recording which dimensions and concepts justify the bridge.
func (d *Detector) Detect(a, b *core.MemoryItem, embeddingSimilarity float64) *core.Glimmer {
	if a == nil || b == nil || a.ID == b.ID {
		return nil
	}

	contextSim := a.Context.Similarity(b.Context)
	strength := d.EmbedWeight*clip01(embeddingSimilarity) + (1-d.EmbedWeight)*contextSim
	if strength < d.Threshold {
		return nil
	}

	sharedDims := a.Context.SharedDimensions(b.Context)
	glimmer := core.NewGlimmer(a.ID, b.ID, bridgeType(a, b, sharedDims), strength)
	glimmer.SharedDimensions = sharedDims
	glimmer.SharedConcepts = sharedConcepts(a.Content, b.Content)
	return glimmer
}

// Scan runs detection across a result set and returns every event found.
// Quadratic over the set, which recall keeps small.
func (d *Detector) Scan(results []core.ScoredItem) []core.Glimmer {
	var events []core.Glimmer
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := results[i].Item, results[j].Item
			if a == nil || b == nil {
				continue
			}
			sim := core.CosineSimilarity(a.Embedding, b.Embedding)
			if g := d.Detect(a, b, sim); g != nil {
				events = append(events, *g)
			}
		}
	}
	return events
}

// bridgeType tags the event by what connects the pair. A shared domain is
// ordinary resonance; a connection across different domains is the
// interesting cross-domain bridge.
func bridgeType(a, b *core.MemoryItem, sharedDims []string) string {
	if a.Context.Domain != "" && b.Context.Domain != "" && a.Context.Domain != b.Context.Domain {
		return "cross_domain"
	}
	if len(sharedDims) > 0 {
		return "contextual"
	}
	return "semantic"
}

// sharedConcepts returns content words appearing in both texts.
func sharedConcepts(a, b string) []string {
	wordsA := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(a)) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if len(tok) > 3 {
			wordsA[tok] = true
		}
	}

	seen := make(map[string]bool)
	var shared []string
	for _, tok := range strings.Fields(strings.ToLower(b)) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if wordsA[tok] && !seen[tok] {
			seen[tok] = true
			shared = append(shared, tok)
		}
	}
	return shared
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
