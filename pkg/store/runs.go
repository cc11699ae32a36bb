package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/harun/steward/pkg/models"
)

const runColumns = `id, user_id, thread_id, prompt, status, summary, model, pending_approval_id, source,
	created_at, started_at, ended_at, updated_at`

// SaveRun inserts or merges a run. CreatedAt is assigned on first write; UpdatedAt on every write.
func (s *DB) SaveRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	now := s.timestamp()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			summary = excluded.summary,
			model = excluded.model,
			pending_approval_id = excluded.pending_approval_id,
			started_at = COALESCE(excluded.started_at, runs.started_at),
			ended_at = COALESCE(excluded.ended_at, runs.ended_at),
			updated_at = excluded.updated_at`,
		run.ID, run.UserID, run.ThreadID, run.Prompt, string(run.Status), run.Summary, run.Model,
		run.PendingApprovalID, run.Source, toNanos(run.CreatedAt), nullableTime(run.StartedAt),
		nullableTime(run.EndedAt), toNanos(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *DB) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns a user's most recent runs, newest first.
func (s *DB) ListRuns(ctx context.Context, userID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run              models.Run
		status           string
		created, updated int64
		started, ended   sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.UserID, &run.ThreadID, &run.Prompt, &status, &run.Summary,
		&run.Model, &run.PendingApprovalID, &run.Source, &created, &started, &ended, &updated); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.CreatedAt = fromNanos(created)
	run.UpdatedAt = fromNanos(updated)
	run.StartedAt = timePtr(started)
	run.EndedAt = timePtr(ended)
	return &run, nil
}

const actionColumns = `id, run_id, step, type, tool_name, status, confirmation, input, output, error,
	approval_id, model, created_at, updated_at`

// SaveAction inserts or merges an action.
func (s *DB) SaveAction(ctx context.Context, action *models.Action) error {
	if action.ID == "" || action.RunID == "" {
		return errors.New("action id and run id are required")
	}
	now := s.timestamp()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = now
	}
	action.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			tool_name = excluded.tool_name,
			status = excluded.status,
			confirmation = excluded.confirmation,
			input = COALESCE(excluded.input, actions.input),
			output = COALESCE(excluded.output, actions.output),
			error = excluded.error,
			approval_id = excluded.approval_id,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		action.ID, action.RunID, action.Step, string(action.Type), action.ToolName, string(action.Status),
		string(action.Confirmation), nullableJSON(action.Input), nullableJSON(action.Output), action.Error,
		action.ApprovalID, action.Model, toNanos(action.CreatedAt), toNanos(action.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save action %s: %w", action.ID, err)
	}
	return nil
}

// GetAction loads an action by id.
func (s *DB) GetAction(ctx context.Context, id string) (*models.Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	action, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load action %s: %w", id, err)
	}
	return action, nil
}

// ListActions returns a run's actions in step order.
func (s *DB) ListActions(ctx context.Context, runID string) ([]models.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE run_id = ? ORDER BY step ASC, created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	actions := []models.Action{}
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, *action)
	}
	return actions, rows.Err()
}

func scanAction(row scanner) (*models.Action, error) {
	var (
		a                         models.Action
		typ, status, confirmation string
		input, output             sql.NullString
		created, updated          int64
	)
	if err := row.Scan(&a.ID, &a.RunID, &a.Step, &typ, &a.ToolName, &status, &confirmation, &input,
		&output, &a.Error, &a.ApprovalID, &a.Model, &created, &updated); err != nil {
		return nil, err
	}
	a.Type = models.ActionType(typ)
	a.Status = models.ActionStatus(status)
	a.Confirmation = models.Confirmation(confirmation)
	a.Input = jsonFrom(input)
	a.Output = jsonFrom(output)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return &a, nil
}
