package core

import (
	"time"

	"github.com/google/uuid"
)

// StepType classifies a thought step within a reasoning chain.
type StepType string

const (
	StepDecomposition StepType = "decomposition"
	StepAnalysis      StepType = "analysis"
	StepHypothesis    StepType = "hypothesis"
	StepRevision      StepType = "revision"
	StepConclusion    StepType = "conclusion"
)

// ThoughtStep is one entry in an append-only reasoning chain. Revisions and
// branches reference earlier steps by number instead of deleting them, so
// backtracking never loses history.
type ThoughtStep struct {
	Number     int      `json:"number"`
	Type       StepType `json:"type"`
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`

	IsRevision  bool   `json:"is_revision,omitempty"`
	RevisesStep int    `json:"revises_step,omitempty"`
	BranchID    string `json:"branch_id,omitempty"`
	BranchFrom  int    `json:"branch_from,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ReasoningChain holds the ordered steps produced while decomposing and
// answering one query.
type ReasoningChain struct {
	ID              string        `json:"id"`
	Query           string        `json:"query"`
	Steps           []ThoughtStep `json:"steps"`
	Conclusion      string        `json:"conclusion,omitempty"`
	FinalConfidence float64       `json:"final_confidence,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
}

// NewReasoningChain starts an empty chain for a query.
func NewReasoningChain(query string) *ReasoningChain {
	return &ReasoningChain{
		ID:        uuid.New().String(),
		Query:     query,
		StartedAt: time.Now(),
	}
}

// Append adds a step, assigning the next sequence number, and returns it.
func (c *ReasoningChain) Append(typ StepType, content string, confidence float64) *ThoughtStep {
	step := ThoughtStep{
		Number:     len(c.Steps) + 1,
		Type:       typ,
		Content:    content,
		Confidence: clamp01(confidence),
		CreatedAt:  time.Now(),
	}
	c.Steps = append(c.Steps, step)
	return &c.Steps[len(c.Steps)-1]
}

// Revise appends a revision of an earlier step. The original stays in place.
func (c *ReasoningChain) Revise(revises int, content string, confidence float64) *ThoughtStep {
	step := c.Append(StepRevision, content, confidence)
	step.IsRevision = true
	step.RevisesStep = revises
	return step
}

// Branch appends a step starting an alternative line of thought from an
// earlier step.
func (c *ReasoningChain) Branch(from int, typ StepType, content string, confidence float64) *ThoughtStep {
	step := c.Append(typ, content, confidence)
	step.BranchID = uuid.New().String()
	step.BranchFrom = from
	return step
}

// Conclude records the chain's conclusion as a final step.
func (c *ReasoningChain) Conclude(conclusion string, confidence float64) {
	c.Append(StepConclusion, conclusion, confidence)
	c.Conclusion = conclusion
	c.FinalConfidence = clamp01(confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
