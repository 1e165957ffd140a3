package store

import (
	"context"
	"database/sql"
	"time"
)

// feedbackWindow bounds how many recent decisions feed the stats.
const feedbackWindow = 50

// RecordFeedback appends one approval decision.
func (s *Store) RecordFeedback(ctx context.Context, f Feedback) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	edited := 0
	if f.WasEdited {
		edited = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_feedback (action_type, outcome, was_edited, time_to_decision_ms, hour_of_day, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ActionType, string(f.Outcome), edited, f.TimeToDecision.Milliseconds(), f.HourOfDay, formatTime(f.CreatedAt))
	if err != nil {
		return queryErr("record feedback", err)
	}
	return nil
}

// FeedbackStats summarizes the last decisions for one action type.
func (s *Store) FeedbackStats(ctx context.Context, actionType string) (FeedbackStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, was_edited, time_to_decision_ms FROM action_feedback
		 WHERE action_type = ? ORDER BY created_at DESC LIMIT ?`, actionType, feedbackWindow)
	if err != nil {
		return FeedbackStats{}, queryErr("feedback stats", err)
	}
	defer rows.Close()

	var (
		stats   FeedbackStats
		timed   int
		totalMS int64
	)
	for rows.Next() {
		var (
			outcome string
			edited  int
			ms      sql.NullInt64
		)
		if err := rows.Scan(&outcome, &edited, &ms); err != nil {
			return FeedbackStats{}, queryErr("scan feedback", err)
		}
		stats.Total++
		if FeedbackOutcome(outcome) == OutcomeRejected {
			stats.Rejected++
		} else {
			stats.Approved++
		}
		if edited == 1 {
			stats.Edited++
		}
		if ms.Valid {
			timed++
			totalMS += ms.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return FeedbackStats{}, queryErr("feedback stats", err)
	}
	if stats.Total > 0 {
		stats.EditRate = float64(stats.Edited) / float64(stats.Total)
	}
	if timed > 0 {
		stats.AvgDecision = time.Duration(totalMS/int64(timed)) * time.Millisecond
	}
	return stats, nil
}

// AllFeedbackStats returns stats for every action type with feedback.
func (s *Store) AllFeedbackStats(ctx context.Context) (map[string]FeedbackStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT action_type FROM action_feedback ORDER BY action_type`)
	if err != nil {
		return nil, queryErr("feedback types", err)
	}
	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, queryErr("scan feedback type", err)
		}
		types = append(types, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, queryErr("feedback types", err)
	}

	out := make(map[string]FeedbackStats, len(types))
	for _, t := range types {
		st, err := s.FeedbackStats(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = st
	}
	return out, nil
}
