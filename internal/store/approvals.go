package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/chief-of-staff/internal/safety"
)

const approvalColumns = `id, session_id, action_type, title, description, data_json, risk_level, status, created_at, resolved_at, resolved_data_json, review_only`

// CreateApproval enqueues a pending approval.
func (s *Store) CreateApproval(ctx context.Context, a Approval) (Approval, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.Risk == "" {
		a.Risk = safety.RiskMedium
	}
	if len(a.Payload) == 0 {
		a.Payload = []byte("{}")
	}
	a.Status = ApprovalPending

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_queue (id, session_id, action_type, title, description, data_json, risk_level, status, created_at, review_only)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		a.ID, a.SessionID, a.ActionType, a.Title, a.Description, string(a.Payload), string(a.Risk), formatTime(a.CreatedAt), a.ReviewOnly)
	if err != nil {
		return a, queryErr("create approval", err)
	}
	return a, nil
}

// GetApproval loads one approval.
func (s *Store) GetApproval(ctx context.Context, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_queue WHERE id = ?`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, queryErr("get approval", err)
	}
	return a, nil
}

// PendingApprovals lists pending approvals, oldest first.
func (s *Store) PendingApprovals(ctx context.Context) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_queue WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, queryErr("pending approvals", err)
	}
	defer rows.Close()

	var approvals []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, queryErr("scan approval", err)
		}
		approvals = append(approvals, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("pending approvals", err)
	}
	return approvals, nil
}

// ResolveApproval claims a pending approval in a single conditional update.
// Exactly one caller wins; every other caller gets ErrAlreadyResolved.
func (s *Store) ResolveApproval(ctx context.Context, id string, status ApprovalStatus, resolvedPayload []byte, at time.Time) error {
	if status == ApprovalPending {
		return fmt.Errorf("resolve approval %s: status must be approved or rejected", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_queue SET status = ?, resolved_at = ?, resolved_data_json = ?
		 WHERE id = ? AND status = 'pending'`,
		string(status), formatTime(at), nullString(string(resolvedPayload)), id)
	if err != nil {
		return queryErr("resolve approval", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return queryErr("rows affected", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM approval_queue WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return queryErr("resolve approval", err)
	}
	return fmt.Errorf("approval %s: %w", id, ErrAlreadyResolved)
}

func scanApproval(row rowScanner) (*Approval, error) {
	var (
		a        Approval
		payload  string
		risk     string
		status   string
		created  string
		resolved sql.NullString
		final    sql.NullString
	)
	if err := row.Scan(&a.ID, &a.SessionID, &a.ActionType, &a.Title, &a.Description, &payload,
		&risk, &status, &created, &resolved, &final, &a.ReviewOnly); err != nil {
		return nil, err
	}
	a.Payload = []byte(payload)
	a.Risk = safety.Risk(risk)
	a.Status = ApprovalStatus(status)
	a.CreatedAt = parseTime(created)
	a.ResolvedAt = scanTime(resolved)
	if final.Valid {
		a.ResolvedPayload = []byte(final.String)
	}
	return &a, nil
}
