package core

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the durability level of a memory item. Items move forward along
// working -> short_term -> long_term -> archive; the only backward move is
// an explicit demotion of stale long-term items to archive.
type Tier string

const (
	TierWorking   Tier = "working"
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
	TierArchive   Tier = "archive"
)

// rank orders tiers for forward-only transitions.
func (t Tier) rank() int {
	switch t {
	case TierWorking:
		return 0
	case TierShortTerm:
		return 1
	case TierLongTerm:
		return 2
	case TierArchive:
		return 3
	default:
		return -1
	}
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	return t.rank() >= 0
}

// MemoryItem is one unit of memory. The engine facade owns its lifecycle;
// stores only move it around and update access bookkeeping.
type MemoryItem struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Tier        Tier              `json:"tier"`
	Source      string            `json:"source"`
	Context     Context7          `json:"context"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Embedding   []float32         `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
	AccessedAt  time.Time         `json:"accessed_at"`
	AccessCount int               `json:"access_count"`
}

// NewMemoryItem creates an item with a fresh id and access bookkeeping
// initialised to creation time.
func NewMemoryItem(content, source string, tier Tier, c7 Context7) *MemoryItem {
	now := time.Now()
	return &MemoryItem{
		ID:         uuid.New().String(),
		Content:    content,
		Tier:       tier,
		Source:     source,
		Context:    c7,
		CreatedAt:  now,
		AccessedAt: now,
	}
}

// Touch records a read: bumps the access count and timestamp.
func (m *MemoryItem) Touch() {
	m.AccessCount++
	m.AccessedAt = time.Now()
}

// Advance moves the item to a later tier. Moving to the same or an earlier
// tier is a no-op, so applying a promotion twice clamps safely.
func (m *MemoryItem) Advance(to Tier) bool {
	if to.rank() <= m.Tier.rank() {
		return false
	}
	m.Tier = to
	return true
}

// Demote moves a long-term item to archive. Any other transition is refused;
// demotion is only defined for staleness.
func (m *MemoryItem) Demote() bool {
	if m.Tier != TierLongTerm {
		return false
	}
	m.Tier = TierArchive
	return true
}

// Age returns time since creation.
func (m *MemoryItem) Age() time.Duration {
	return time.Since(m.CreatedAt)
}

// IdleFor returns time since the last access.
func (m *MemoryItem) IdleFor() time.Duration {
	return time.Since(m.AccessedAt)
}

// RetrievalMode selects the recall strategy.
type RetrievalMode string

const (
	// ModeFoundation is precise nearest-neighbour retrieval on the verbatim
	// query.
	ModeFoundation RetrievalMode = "foundation"

	// ModeLateral widens the query and re-ranks for diversity to encourage
	// cross-domain recall.
	ModeLateral RetrievalMode = "lateral"

	// ModeFactcheck restricts output to the few highest-confidence matches
	// and raises the acceptance bar for a verified classification.
	ModeFactcheck RetrievalMode = "factcheck"
)

// ScoredItem is a memory item paired with its retrieval relevance.
type ScoredItem struct {
	Item      *MemoryItem `json:"item"`
	Relevance float64     `json:"relevance"`
	Origin    string      `json:"origin"`
	Verified  bool        `json:"verified,omitempty"`
}
