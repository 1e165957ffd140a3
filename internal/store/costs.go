package store

import (
	"context"
	"time"
)

// RecordCost appends a cost ledger entry.
func (s *Store) RecordCost(ctx context.Context, e CostEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_costs (model, input_tokens, output_tokens, cost_usd, operation, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Model, e.InputTokens, e.OutputTokens, e.CostUSD, e.Operation, nullString(e.SessionID), formatTime(e.CreatedAt))
	if err != nil {
		return queryErr("record cost", err)
	}
	return nil
}

// CostSince sums ledger spend at or after since.
func (s *Store) CostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM api_costs WHERE created_at >= ?`, formatTime(since)).Scan(&total)
	if err != nil {
		return 0, queryErr("cost since", err)
	}
	return total, nil
}

// CostByModelSince breaks spend down per model.
func (s *Store) CostByModelSince(ctx context.Context, since time.Time) ([]ModelCost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM api_costs WHERE created_at >= ? GROUP BY model ORDER BY 5 DESC`, formatTime(since))
	if err != nil {
		return nil, queryErr("cost by model", err)
	}
	defer rows.Close()

	var out []ModelCost
	for rows.Next() {
		var mc ModelCost
		if err := rows.Scan(&mc.Model, &mc.Calls, &mc.InputTokens, &mc.OutputTokens, &mc.CostUSD); err != nil {
			return nil, queryErr("scan model cost", err)
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// CostSummary is spend over the standard reporting windows.
type CostSummary struct {
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
}

// Summary reports spend since the start of today (in loc), and over the last
// 7 and 30 days.
func (s *Store) Summary(ctx context.Context, loc *time.Location) (CostSummary, error) {
	now := s.now().In(loc)
	var (
		sum CostSummary
		err error
	)
	if sum.Daily, err = s.CostSince(ctx, StartOfDay(now)); err != nil {
		return sum, err
	}
	if sum.Weekly, err = s.CostSince(ctx, now.AddDate(0, 0, -7)); err != nil {
		return sum, err
	}
	if sum.Monthly, err = s.CostSince(ctx, now.AddDate(0, 0, -30)); err != nil {
		return sum, err
	}
	return sum, nil
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
