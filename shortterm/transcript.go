package shortterm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/synaptiq/hybridmem/core"
)

// AppendSession appends a role-tagged message to a session transcript,
// creating the session row on first use and bumping its last activity.
func (s *Store) AppendSession(ctx context.Context, sessionID, agentName, role, content string) error {
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_name, started_at, last_activity)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_activity = excluded.last_activity`,
		sessionID, agentName, now, now); err != nil {
		return fmt.Errorf("upsert session %q: %w", sessionID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_memory (session_id, role, content, timestamp)
		VALUES (?, ?, ?, ?)`,
		sessionID, role, content, now); err != nil {
		return fmt.Errorf("append session %q: %w", sessionID, err)
	}

	return tx.Commit()
}

// GetSessionHistory returns the most recent messages of a session in
// chronological order. limit <= 0 returns the full transcript.
func (s *Store) GetSessionHistory(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	query := `SELECT id, session_id, role, content, timestamp FROM session_memory
		WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get session history %q: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var m core.Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Query walks newest-first for the LIMIT; flip back to transcript order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetSession returns a session record, or nil when unknown.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	var sess core.Session
	var started, last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_name, started_at, last_activity FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &sess.AgentName, &started, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %q: %w", sessionID, err)
	}
	sess.StartedAt = time.Unix(started, 0)
	sess.LastActivity = time.Unix(last, 0)
	return &sess, nil
}

// CreateTask queues a task. Priority sorts descending; dueAt is optional.
func (s *Store) CreateTask(ctx context.Context, title string, priority int, dueAt *time.Time) (*core.Task, error) {
	task := &core.Task{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    core.TaskPending,
		Priority:  priority,
		DueAt:     dueAt,
		CreatedAt: time.Now(),
	}

	var due *int64
	if dueAt != nil {
		d := dueAt.Unix()
		due = &d
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_memory (id, title, status, priority, due_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Status, task.Priority, due, task.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// GetPendingTasks returns open tasks ordered by priority, then due time.
func (s *Store) GetPendingTasks(ctx context.Context, limit int) ([]core.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, priority, due_at, created_at FROM task_memory
		WHERE status IN (?, ?)
		ORDER BY priority DESC, due_at IS NULL, due_at ASC
		LIMIT ?`,
		core.TaskPending, core.TaskInProgress, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []core.Task
	for rows.Next() {
		var t core.Task
		var due sql.NullInt64
		var created int64
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.Priority, &due, &created); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if due.Valid {
			d := time.Unix(due.Int64, 0)
			t.DueAt = &d
		}
		t.CreatedAt = time.Unix(created, 0)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_memory SET status = ? WHERE id = ?`, core.TaskDone, id)
	if err != nil {
		return fmt.Errorf("complete task %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete task: no task with id %q", id)
	}
	return nil
}

// AppendReasoningStep persists one thought step of a session's chain for
// later replay. Conclusion is empty except on the concluding step.
func (s *Store) AppendReasoningStep(ctx context.Context, sessionID, chainType string, step core.ThoughtStep, conclusion string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reasoning_chains (session_id, chain_type, step_number, thought, conclusion, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, chainType, step.Number, step.Content, nullable(conclusion),
		step.Confidence, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append reasoning step: %w", err)
	}
	return nil
}

// GetReasoningChain replays a session's stored thought steps in order.
func (s *Store) GetReasoningChain(ctx context.Context, sessionID string) ([]core.ThoughtStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_type, step_number, thought, conclusion, confidence, created_at
		FROM reasoning_chains WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get reasoning chain %q: %w", sessionID, err)
	}
	defer rows.Close()

	var steps []core.ThoughtStep
	for rows.Next() {
		var step core.ThoughtStep
		var chainType string
		var conclusion sql.NullString
		var created int64
		if err := rows.Scan(&chainType, &step.Number, &step.Content, &conclusion, &step.Confidence, &created); err != nil {
			return nil, fmt.Errorf("scan reasoning step: %w", err)
		}
		step.Type = core.StepType(chainType)
		step.CreatedAt = time.Unix(created, 0)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
