package core

import (
	"time"

	"github.com/google/uuid"
)

// Glimmer is a detected synchronicity event: an unexpected, scored connection
// between two memory items from otherwise unrelated contexts. Glimmers are
// ephemeral by default; only those above the detector threshold are kept.
type Glimmer struct {
	ID               string    `json:"id"`
	MemoryA          string    `json:"memory_a"`
	MemoryB          string    `json:"memory_b"`
	Type             string    `json:"type"`
	Strength         float64   `json:"strength"`
	SharedConcepts   []string  `json:"shared_concepts,omitempty"`
	SharedDimensions []string  `json:"shared_dimensions,omitempty"`
	DiscoveredAt     time.Time `json:"discovered_at"`
}

// NewGlimmer creates an event for the pair (a, b). The pair is unordered:
// ids are stored in lexical order so the same pair always produces the same
// key regardless of argument order.
func NewGlimmer(a, b, typ string, strength float64) *Glimmer {
	if b < a {
		a, b = b, a
	}
	return &Glimmer{
		ID:           uuid.New().String(),
		MemoryA:      a,
		MemoryB:      b,
		Type:         typ,
		Strength:     clamp01(strength),
		DiscoveredAt: time.Now(),
	}
}

// Involves reports whether the event connects the given item id.
func (g *Glimmer) Involves(id string) bool {
	return g.MemoryA == id || g.MemoryB == id
}
