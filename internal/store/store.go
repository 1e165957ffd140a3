// Package store persists sessions, actions, approvals, chat history, the cost
// ledger and agent memory in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	_ "modernc.org/sqlite"
)

// DBFileName is the database file inside the data directory.
const DBFileName = "chief-of-staff.db"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyResolved is returned when an approval is no longer pending.
	ErrAlreadyResolved = errors.New("approval already resolved")
	// ErrSessionClosed is returned when a session has left the running state.
	ErrSessionClosed = errors.New("session is not running")
)

// timeLayout is fixed width so that lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite handle. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &internal.StorageError{Op: "open", Err: err}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return open(dsn)
}

// OpenMemory opens a private in-memory database.
func OpenMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &internal.StorageError{Op: "open", Err: err}
	}

	// SQLite allows a single writer; one connection also keeps :memory:
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &internal.StorageError{Op: "open", Err: fmt.Errorf("database ping failed: %w", err)}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetClock overrides the time source used for row timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &internal.StorageError{Op: "migrate", Err: err}
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func scanTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func queryErr(op string, err error) error {
	return &internal.StorageError{Op: op, Err: err}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS agent_sessions (
		id TEXT PRIMARY KEY,
		trigger TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		summary TEXT,
		tool_calls INTEGER NOT NULL DEFAULT 0,
		total_cost_usd REAL NOT NULL DEFAULT 0,
		errors TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON agent_sessions(started_at)`,
	`CREATE TABLE IF NOT EXISTS agent_actions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES agent_sessions(id),
		tool_name TEXT NOT NULL,
		input_json TEXT,
		output_json TEXT,
		status TEXT NOT NULL DEFAULT 'executed',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_session ON agent_actions(session_id)`,
	`CREATE TABLE IF NOT EXISTS approval_queue (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES agent_sessions(id),
		action_type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		data_json TEXT NOT NULL,
		risk_level TEXT NOT NULL DEFAULT 'medium',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolved_data_json TEXT,
		review_only INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approval_queue(status)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK(role IN ('user', 'assistant', 'tool_result')),
		content TEXT NOT NULL,
		tool_calls_json TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_messages(session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS api_costs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0.0,
		operation TEXT NOT NULL,
		session_id TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_costs_created ON api_costs(created_at)`,
	`CREATE TABLE IF NOT EXISTS agent_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(category, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_category ON agent_memory(category)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_updated ON agent_memory(updated_at)`,
	`CREATE TABLE IF NOT EXISTS action_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_type TEXT NOT NULL,
		outcome TEXT NOT NULL,
		was_edited INTEGER NOT NULL DEFAULT 0,
		time_to_decision_ms INTEGER,
		hour_of_day INTEGER,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_action ON action_feedback(action_type)`,
	`CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		check_expression TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT 'hourly',
		enabled INTEGER NOT NULL DEFAULT 1,
		last_checked_at TEXT,
		last_status TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS briefings (
		id TEXT PRIMARY KEY,
		headline TEXT NOT NULL,
		data_json TEXT NOT NULL,
		generated_at TEXT NOT NULL
	)`,
}
