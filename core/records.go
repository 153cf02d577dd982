package core

import "time"

// Session is a short-term store record of one agent conversation.
type Session struct {
	ID           string    `json:"id"`
	AgentName    string    `json:"agent_name"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Message is one role-tagged entry in a session transcript.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskStatus tracks a queued task through its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// Task is a queued unit of work kept in the short-term store.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    TaskStatus `json:"status"`
	Priority  int        `json:"priority"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ContextBundle is the assembled per-session context handed to calling
// agents: transcript, reasoning chain, open tasks, and knowledge relevant to
// the most recent user message.
type ContextBundle struct {
	SessionID         string        `json:"session_id"`
	History           []Message     `json:"history"`
	ReasoningChain    []ThoughtStep `json:"reasoning_chain,omitempty"`
	PendingTasks      []Task        `json:"pending_tasks,omitempty"`
	RelevantKnowledge []ScoredItem  `json:"relevant_knowledge,omitempty"`
}
