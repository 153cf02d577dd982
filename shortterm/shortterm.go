// Package shortterm implements the local, transactional tier of the memory
// engine on SQLite: working key-value state with TTLs, session transcripts,
// the task queue, reasoning traces, a generic kv cache, and the short-term
// slice of memory items awaiting promotion.
//
// All operations are synchronous and durable across restarts. Expired rows
// are treated as misses on read (lazy expiry); PurgeExpired removes them for
// real and is run by the engine's background sweep.
package shortterm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrUnavailable is returned when the backing database cannot be opened or
// has been closed. It is the only error class the engine surfaces to
// callers; everything else degrades.
var ErrUnavailable = errors.New("short-term store unavailable")

// Unavailable reports whether err means the database handle itself is gone,
// as opposed to an ordinary query failure. The sqlite3 driver reports a
// closed *sql.DB through a private error, so the message is matched.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// Store is the SQLite-backed short-term store. Safe for concurrent use; the
// connection is capped at one writer, which is SQLite's own discipline.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and initialises the schema.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create db directory: %v", ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrUnavailable, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS working_memory (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  context_id TEXT,
  expires_at INTEGER
);

CREATE TABLE IF NOT EXISTS sessions (
  id            TEXT PRIMARY KEY,
  agent_name    TEXT NOT NULL DEFAULT '',
  started_at    INTEGER NOT NULL,
  last_activity INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_memory (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  role       TEXT NOT NULL,
  content    TEXT NOT NULL,
  timestamp  INTEGER NOT NULL,
  FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_session_memory_session ON session_memory(session_id, id);

CREATE TABLE IF NOT EXISTS task_memory (
  id         TEXT PRIMARY KEY,
  title      TEXT NOT NULL,
  status     TEXT NOT NULL DEFAULT 'pending',
  priority   INTEGER NOT NULL DEFAULT 0,
  due_at     INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_memory_status ON task_memory(status, priority DESC);

CREATE TABLE IF NOT EXISTS reasoning_chains (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id  TEXT NOT NULL,
  chain_type  TEXT NOT NULL,
  step_number INTEGER NOT NULL,
  thought     TEXT NOT NULL,
  conclusion  TEXT,
  confidence  REAL NOT NULL DEFAULT 0,
  created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reasoning_session ON reasoning_chains(session_id, step_number);

CREATE TABLE IF NOT EXISTS kv_cache (
  key         TEXT PRIMARY KEY,
  value       TEXT NOT NULL,
  ttl_seconds INTEGER NOT NULL DEFAULT 0,
  created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
  id           TEXT PRIMARY KEY,
  content      TEXT NOT NULL,
  tier         TEXT NOT NULL,
  source       TEXT NOT NULL DEFAULT '',
  context      TEXT,
  metadata     TEXT,
  embedding    BLOB,
  created_at   INTEGER NOT NULL,
  accessed_at  INTEGER NOT NULL,
  access_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_tier ON items(tier);
CREATE INDEX IF NOT EXISTS idx_items_accessed ON items(accessed_at);

CREATE TABLE IF NOT EXISTS glimmers (
  id                TEXT PRIMARY KEY,
  memory_a          TEXT NOT NULL,
  memory_b          TEXT NOT NULL,
  type              TEXT NOT NULL,
  strength          REAL NOT NULL,
  shared_dimensions TEXT,
  shared_concepts   TEXT,
  discovered_at     INTEGER NOT NULL,
  UNIQUE(memory_a, memory_b, type)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// PurgeExpired deletes working-memory and cache rows whose TTL has elapsed
// and returns the number of rows removed. Safe to run at any time; reads
// already treat expired rows as misses.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := time.Now().Unix()

	var total int64
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("purge working_memory: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM kv_cache WHERE ttl_seconds > 0 AND created_at + ttl_seconds <= ?`, now)
	if err != nil {
		return total, fmt.Errorf("purge kv_cache: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	if total > 0 {
		s.logger.Debug("purged expired rows", "count", total)
	}
	return total, nil
}

// Stats reports row counts per table, for callers' health surfaces.
type Stats struct {
	WorkingKeys  int `json:"working_keys"`
	Sessions     int `json:"sessions"`
	Messages     int `json:"messages"`
	Tasks        int `json:"tasks"`
	ThoughtSteps int `json:"thought_steps"`
	CacheKeys    int `json:"cache_keys"`
	Items        int `json:"items"`
	Glimmers     int `json:"glimmers"`
}

// Stats counts live rows in every table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM working_memory`, &st.WorkingKeys},
		{`SELECT COUNT(*) FROM sessions`, &st.Sessions},
		{`SELECT COUNT(*) FROM session_memory`, &st.Messages},
		{`SELECT COUNT(*) FROM task_memory`, &st.Tasks},
		{`SELECT COUNT(*) FROM reasoning_chains`, &st.ThoughtSteps},
		{`SELECT COUNT(*) FROM kv_cache`, &st.CacheKeys},
		{`SELECT COUNT(*) FROM items`, &st.Items},
		{`SELECT COUNT(*) FROM glimmers`, &st.Glimmers},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return st, fmt.Errorf("count rows: %w", err)
		}
	}
	return st, nil
}
