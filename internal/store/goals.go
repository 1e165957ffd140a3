package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const goalColumns = `id, title, description, check_expression, schedule, enabled, last_checked_at, last_status, created_at`

// CreateGoal inserts a goal; an existing id is left untouched.
func (s *Store) CreateGoal(ctx context.Context, g Goal) error {
	if g.Schedule == "" {
		g.Schedule = ScheduleHourly
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO goals (id, title, description, check_expression, schedule, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Title, g.Description, g.CheckExpression, string(g.Schedule), boolInt(g.Enabled), formatTime(g.CreatedAt))
	if err != nil {
		return queryErr("create goal", err)
	}
	return nil
}

// Goals lists goals in creation order.
func (s *Store) Goals(ctx context.Context, activeOnly bool) ([]Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals`
	if activeOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, queryErr("list goals", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, queryErr("scan goal", err)
		}
		goals = append(goals, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("list goals", err)
	}
	return goals, nil
}

// GetGoal loads one goal.
func (s *Store) GetGoal(ctx context.Context, id string) (*Goal, error) {
	g, err := scanGoal(s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, queryErr("get goal", err)
	}
	return g, nil
}

// UpdateGoalStatus records the latest check result.
func (s *Store) UpdateGoalStatus(ctx context.Context, id, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE goals SET last_status = ?, last_checked_at = ? WHERE id = ?`, status, formatTime(at), id)
	if err != nil {
		return queryErr("update goal status", err)
	}
	return expectRow(res, id, ErrNotFound)
}

// SetGoalEnabled toggles a goal.
func (s *Store) SetGoalEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE goals SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return queryErr("update goal", err)
	}
	return expectRow(res, id, ErrNotFound)
}

// SeedDefaultGoals creates the starter goals if they are missing.
func (s *Store) SeedDefaultGoals(ctx context.Context) error {
	defaults := []Goal{
		{
			ID:              "inbox_under_control",
			Title:           "Keep inbox manageable",
			Description:     "Monitor inbox and triage when unread important emails exceed 20",
			CheckExpression: "inbox_count_check",
			Schedule:        ScheduleHourly,
		},
		{
			ID:              "meetings_prepped",
			Title:           "Prepare for meetings",
			Description:     "Check upcoming meetings and prepare briefing materials 15 minutes before",
			CheckExpression: "meeting_prep_check",
			Schedule:        ScheduleEvery15Min,
		},
		{
			ID:              "tasks_reviewed",
			Title:           "Daily task review",
			Description:     "Review and update today's task list during morning sweep",
			CheckExpression: "task_review_check",
			Schedule:        ScheduleOnSweep,
		},
	}
	for _, g := range defaults {
		g.Enabled = true
		if err := s.CreateGoal(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func scanGoal(row rowScanner) (*Goal, error) {
	var (
		g        Goal
		schedule string
		enabled  int
		checked  sql.NullString
		status   sql.NullString
		created  string
	)
	if err := row.Scan(&g.ID, &g.Title, &g.Description, &g.CheckExpression, &schedule, &enabled,
		&checked, &status, &created); err != nil {
		return nil, err
	}
	g.Schedule = GoalSchedule(schedule)
	g.Enabled = enabled == 1
	g.LastCheckedAt = scanTime(checked)
	g.LastStatus = status.String
	g.CreatedAt = parseTime(created)
	return &g, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
