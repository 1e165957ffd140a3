package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// AppendChatMessage stores one chat row.
func (s *Store) AppendChatMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, tool_calls_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), m.Content, nullString(string(m.ToolCalls)), formatTime(m.CreatedAt))
	if err != nil {
		return m, queryErr("append chat message", err)
	}
	return m, nil
}

// ChatHistory returns a session's chat rows in insertion order.
func (s *Store) ChatHistory(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_calls_json, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, queryErr("chat history", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var (
			m       ChatMessage
			role    string
			calls   sql.NullString
			created string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &calls, &created); err != nil {
			return nil, queryErr("scan chat message", err)
		}
		m.Role = ChatRole(role)
		if calls.Valid {
			m.ToolCalls = []byte(calls.String)
		}
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("chat history", err)
	}
	return msgs, nil
}
