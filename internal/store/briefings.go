package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SaveBriefing stores a generated briefing.
func (s *Store) SaveBriefing(ctx context.Context, headline string, data []byte) (Briefing, error) {
	b := Briefing{
		ID:          uuid.NewString(),
		Headline:    headline,
		Data:        data,
		GeneratedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO briefings (id, headline, data_json, generated_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.Headline, string(b.Data), formatTime(b.GeneratedAt))
	if err != nil {
		return b, queryErr("save briefing", err)
	}
	return b, nil
}

// LatestBriefing returns the newest briefing.
func (s *Store) LatestBriefing(ctx context.Context) (*Briefing, error) {
	var (
		b         Briefing
		data      string
		generated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, headline, data_json, generated_at FROM briefings ORDER BY generated_at DESC LIMIT 1`).
		Scan(&b.ID, &b.Headline, &data, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("briefing: %w", ErrNotFound)
	}
	if err != nil {
		return nil, queryErr("latest briefing", err)
	}
	b.Data = []byte(data)
	b.GeneratedAt = parseTime(generated)
	return &b, nil
}
