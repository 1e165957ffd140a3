package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, trigger, status, started_at, completed_at, summary, tool_calls, total_cost_usd, errors`

// CreateSession inserts a new running session.
func (s *Store) CreateSession(ctx context.Context, id string, trigger Trigger, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (id, trigger, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, string(trigger), formatTime(startedAt))
	if err != nil {
		return queryErr("create session", err)
	}
	return nil
}

// EnsureSession creates a running session if none with this id exists.
func (s *Store) EnsureSession(ctx context.Context, id string, trigger Trigger) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO agent_sessions (id, trigger, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, string(trigger), formatTime(s.now()))
	if err != nil {
		return queryErr("ensure session", err)
	}
	return nil
}

// AddSessionUsage atomically adds to a running session's counters.
func (s *Store) AddSessionUsage(ctx context.Context, id string, toolCalls int, costUSD float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions
		 SET tool_calls = tool_calls + ?, total_cost_usd = total_cost_usd + ?
		 WHERE id = ? AND status = 'running'`,
		toolCalls, costUSD, id)
	if err != nil {
		return queryErr("update session usage", err)
	}
	return expectRow(res, id, ErrSessionClosed)
}

// FinishSession moves a running session to a terminal status. A session that
// already left the running state is never modified.
func (s *Store) FinishSession(ctx context.Context, id string, status SessionStatus, summary, errText string, at time.Time) error {
	if status == SessionRunning {
		return fmt.Errorf("finish session %s: status must be terminal", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions
		 SET status = ?, summary = ?, errors = ?, completed_at = ?
		 WHERE id = ? AND status = 'running'`,
		string(status), nullString(summary), nullString(errText), formatTime(at), id)
	if err != nil {
		return queryErr("finish session", err)
	}
	return expectRow(res, id, ErrSessionClosed)
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM agent_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, queryErr("get session", err)
	}
	return sess, nil
}

// RecentSessions returns the newest sessions first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM agent_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, queryErr("recent sessions", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, queryErr("scan session", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("recent sessions", err)
	}
	return sessions, nil
}

// LatestRunningSession returns the id of the newest running session with the
// given trigger, or "" when there is none.
func (s *Store) LatestRunningSession(ctx context.Context, trigger Trigger) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM agent_sessions WHERE trigger = ? AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`, string(trigger)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", queryErr("latest session", err)
	}
	return id, nil
}

// SessionStartsSince lists start times of non-chat sessions started after
// since. The rate limiter seeds its windows from it.
func (s *Store) SessionStartsSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT started_at FROM agent_sessions WHERE trigger != 'chat' AND started_at >= ? ORDER BY started_at`,
		formatTime(since))
	if err != nil {
		return nil, queryErr("session starts", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, queryErr("scan session start", err)
		}
		starts = append(starts, parseTime(raw))
	}
	return starts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		trigger   string
		status    string
		started   string
		completed sql.NullString
		summary   sql.NullString
		errText   sql.NullString
	)
	if err := row.Scan(&sess.ID, &trigger, &status, &started, &completed, &summary,
		&sess.ToolCalls, &sess.TotalCostUSD, &errText); err != nil {
		return nil, err
	}
	sess.Trigger = Trigger(trigger)
	sess.Status = SessionStatus(status)
	sess.StartedAt = parseTime(started)
	sess.CompletedAt = scanTime(completed)
	sess.Summary = summary.String
	sess.Error = errText.String
	return &sess, nil
}

func expectRow(res sql.Result, id string, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return queryErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, sentinel)
	}
	return nil
}
