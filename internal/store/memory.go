package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetMemory upserts the value stored under (category, key).
func (s *Store) SetMemory(ctx context.Context, category, key, value string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_memory (category, key, value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(category, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		category, key, value, now, now)
	if err != nil {
		return queryErr("set memory", err)
	}
	return nil
}

// GetMemory loads one entry.
func (s *Store) GetMemory(ctx context.Context, category, key string) (*MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category, key, value, created_at, updated_at FROM agent_memory WHERE category = ? AND key = ?`,
		category, key)
	e, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s/%s: %w", category, key, ErrNotFound)
	}
	if err != nil {
		return nil, queryErr("get memory", err)
	}
	return e, nil
}

// SearchMemory returns the most recently updated entries, optionally limited
// to one category.
func (s *Store) SearchMemory(ctx context.Context, category string, limit int) ([]MemoryEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if category != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, category, key, value, created_at, updated_at FROM agent_memory
			 WHERE category = ? ORDER BY updated_at DESC, id DESC LIMIT ?`, category, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, category, key, value, created_at, updated_at FROM agent_memory
			 ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, queryErr("search memory", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		e, err := scanMemory(rows)
		if err != nil {
			return nil, queryErr("scan memory", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("search memory", err)
	}
	return entries, nil
}

// DeleteMemory removes one entry.
func (s *Store) DeleteMemory(ctx context.Context, category, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_memory WHERE category = ? AND key = ?`, category, key); err != nil {
		return queryErr("delete memory", err)
	}
	return nil
}

// PruneMemory deletes entries not updated since before and returns how many
// were removed.
func (s *Store) PruneMemory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_memory WHERE updated_at < ?`, formatTime(before))
	if err != nil {
		return 0, queryErr("prune memory", err)
	}
	return res.RowsAffected()
}

func scanMemory(row rowScanner) (*MemoryEntry, error) {
	var (
		e       MemoryEntry
		created string
		updated string
	)
	if err := row.Scan(&e.ID, &e.Category, &e.Key, &e.Value, &created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}
