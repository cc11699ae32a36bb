package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/steward/pkg/models"
)

const approvalColumns = `id, user_id, tool_name, args, preview, reason, status, decision, feedback,
	run_id, action_id, thread_id, prompt, model, source, output, error,
	created_at, started_at, resolved_at, updated_at`

// CreateApproval inserts a new pending approval. The args snapshot is immutable afterwards.
func (s *DB) CreateApproval(ctx context.Context, a *models.Approval) error {
	if a.ID == "" || a.UserID == "" || a.ToolName == "" {
		return errors.New("approval id, user id and tool name are required")
	}
	if len(a.Args) == 0 {
		a.Args = json.RawMessage(`{}`)
	}
	now := s.timestamp()
	a.Status = models.ApprovalPending
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ToolName, string(a.Args), a.Preview, a.Reason, string(a.Status),
		string(a.Decision), a.Feedback, a.RunID, a.ActionID, a.ThreadID, a.Prompt, a.Model, a.Source,
		nullableJSON(a.Output), a.Error, toNanos(a.CreatedAt), nullableTime(a.StartedAt),
		nullableTime(a.ResolvedAt), toNanos(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create approval %s: %w", a.ID, err)
	}
	return nil
}

// GetApproval loads an approval by id.
func (s *DB) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval %s: %w", id, err)
	}
	return a, nil
}

// ClaimApproval atomically moves a pending approval to rejected (for a reject decision)
// or executing (for an approving decision). Exactly one concurrent caller wins; the others
// get ErrConflict. ErrNotFound is returned when the approval does not exist.
func (s *DB) ClaimApproval(ctx context.Context, id string, decision models.Decision, feedback string) (*models.Approval, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}

	now := toNanos(s.timestamp())
	next := models.ApprovalExecuting
	var resolvedAt sql.NullInt64
	if !decision.Approves() {
		next = models.ApprovalRejected
		resolvedAt = sql.NullInt64{Int64: now, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, decision = ?, feedback = ?, started_at = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(next), string(decision), feedback, now, resolvedAt, now, id, string(models.ApprovalPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim approval %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to claim approval %s: %w", id, err)
	}
	if n == 0 {
		current, err := s.GetApproval(ctx, id)
		if err != nil {
			return nil, err
		}
		return current, fmt.Errorf("approval %s is %s: %w", id, current.Status, ErrConflict)
	}

	return s.GetApproval(ctx, id)
}

// CompleteApproval records the execution outcome of a claimed approval.
// status must be approved_executed or failed; the row must currently be executing.
func (s *DB) CompleteApproval(ctx context.Context, id string, status models.ApprovalStatus, output json.RawMessage, errMsg string) error {
	if status != models.ApprovalApprovedExecuted && status != models.ApprovalFailed {
		return fmt.Errorf("invalid completion status %q", status)
	}

	now := toNanos(s.timestamp())
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, output = ?, error = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(status), nullableJSON(output), errMsg, now, now, id, string(models.ApprovalExecuting),
	)
	if err != nil {
		return fmt.Errorf("failed to complete approval %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete approval %s: %w", id, err)
	}
	if n == 0 {
		if _, err := s.GetApproval(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("approval %s is not executing: %w", id, ErrConflict)
	}
	return nil
}

// CancelApproval fails a pending approval that can no longer be resolved, for example
// because its run failed after the approval was created. Only pending rows change.
func (s *DB) CancelApproval(ctx context.Context, id, errMsg string) error {
	now := toNanos(s.timestamp())
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, error = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.ApprovalFailed), errMsg, now, now, id, string(models.ApprovalPending),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel approval %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel approval %s: %w", id, err)
	}
	if n == 0 {
		current, err := s.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("approval %s is %s: %w", id, current.Status, ErrConflict)
	}
	return nil
}

// ListPendingApprovals returns a user's pending approvals, newest first.
// An empty threadID lists across all threads.
func (s *DB) ListPendingApprovals(ctx context.Context, userID, threadID string) ([]models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE user_id = ? AND status = ?`
	args := []interface{}{userID, string(models.ApprovalPending)}
	if threadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, threadID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	approvals := []models.Approval{}
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, *a)
	}
	return approvals, rows.Err()
}

// CountPendingApprovals returns the number of pending approvals across all users.
func (s *DB) CountPendingApprovals(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals WHERE status = ?`,
		string(models.ApprovalPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending approvals: %w", err)
	}
	return n, nil
}

func scanApproval(row scanner) (*models.Approval, error) {
	var (
		a                 models.Approval
		args              string
		status, decision  string
		output            sql.NullString
		created, updated  int64
		started, resolved sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.ToolName, &args, &a.Preview, &a.Reason, &status, &decision,
		&a.Feedback, &a.RunID, &a.ActionID, &a.ThreadID, &a.Prompt, &a.Model, &a.Source, &output,
		&a.Error, &created, &started, &resolved, &updated); err != nil {
		return nil, err
	}
	a.Args = json.RawMessage(args)
	a.Status = models.ApprovalStatus(status)
	a.Decision = models.Decision(decision)
	a.Output = jsonFrom(output)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	a.StartedAt = timePtr(started)
	a.ResolvedAt = timePtr(resolved)
	return &a, nil
}
