package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// LogAction appends an action row. ID and CreatedAt are filled in when empty.
func (s *Store) LogAction(ctx context.Context, a Action) (Action, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_actions (id, session_id, tool_name, input_json, output_json, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.ToolName, nullString(string(a.Input)), nullString(a.Output),
		string(a.Status), formatTime(a.CreatedAt))
	if err != nil {
		return a, queryErr("log action", err)
	}
	return a, nil
}

// SessionActions returns a session's actions in the order they were logged.
func (s *Store) SessionActions(ctx context.Context, sessionID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, tool_name, input_json, output_json, status, created_at
		 FROM agent_actions WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, queryErr("session actions", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var (
			a       Action
			input   sql.NullString
			output  sql.NullString
			status  string
			created string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ToolName, &input, &output, &status, &created); err != nil {
			return nil, queryErr("scan action", err)
		}
		if input.Valid {
			a.Input = []byte(input.String)
		}
		a.Output = output.String
		a.Status = ActionStatus(status)
		a.CreatedAt = parseTime(created)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("session actions", err)
	}
	return actions, nil
}
