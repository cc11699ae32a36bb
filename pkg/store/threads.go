package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/harun/steward/pkg/models"
)

const (
	previewChars         = 160
	defaultThreadPage    = 20
	maxThreadPage        = 100
	defaultMessageWindow = 50
)

const threadColumns = `id, user_id, title, last_message_preview, last_message_role, created_at, updated_at`

// EnsureThread returns the thread with id, creating it for userID when it does not exist.
// A thread owned by a different user yields ErrForbidden.
func (s *DB) EnsureThread(ctx context.Context, id, userID, title string) (*models.Thread, bool, error) {
	if id == "" || userID == "" {
		return nil, false, errors.New("thread id and user id are required")
	}

	now := toNanos(s.timestamp())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, userID, clipPreview(title), now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure thread %s: %w", id, err)
	}
	n, _ := res.RowsAffected()

	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if thread.UserID != userID {
		return nil, false, fmt.Errorf("thread %s: %w", id, ErrForbidden)
	}
	return thread, n > 0, nil
}

// GetThread loads a thread by id.
func (s *DB) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", id, err)
	}
	return thread, nil
}

// AppendMessage appends msg to its thread, assigning ID, Seq and CreatedAt, and refreshes
// the thread's preview fields.
func (s *DB) AppendMessage(ctx context.Context, msg *models.ThreadMessage) error {
	if msg.ThreadID == "" {
		return errors.New("thread id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM thread_messages WHERE thread_id = ?`,
		msg.ThreadID).Scan(&msg.Seq); err != nil {
		return fmt.Errorf("failed to allocate message sequence: %w", err)
	}

	now := toNanos(msg.CreatedAt)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO thread_messages (id, thread_id, seq, role, text, run_id, action_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Seq, string(msg.Role), msg.Text, msg.RunID, msg.ActionID, now,
	); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE threads SET last_message_preview = ?, last_message_role = ?, updated_at = ?
		WHERE id = ?`,
		clipPreview(msg.Text), string(msg.Role), now, msg.ThreadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update thread preview: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s: %w", msg.ThreadID, ErrNotFound)
	}

	return tx.Commit()
}

// ListMessages returns the most recent limit messages of a thread in append order.
func (s *DB) ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	if limit <= 0 {
		limit = defaultMessageWindow
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, seq, role, text, run_id, action_id, created_at FROM (
			SELECT * FROM thread_messages WHERE thread_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.ThreadMessage{}
	for rows.Next() {
		var (
			m       models.ThreadMessage
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Seq, &role, &m.Text, &m.RunID, &m.ActionID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.CreatedAt = fromNanos(created)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ThreadPage is one page of a user's threads.
type ThreadPage struct {
	Threads    []models.Thread `json:"threads"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ListThreads returns a user's threads ordered by recency. cursor is the NextCursor
// of a previous page, or empty for the first page.
func (s *DB) ListThreads(ctx context.Context, userID, cursor string, limit int) (*ThreadPage, error) {
	if limit <= 0 {
		limit = defaultThreadPage
	}
	if limit > maxThreadPage {
		limit = maxThreadPage
	}

	query := `SELECT ` + threadColumns + ` FROM threads WHERE user_id = ?`
	args := []interface{}{userID}
	if cursor != "" {
		updatedAt, id, err := decodeThreadCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (updated_at < ? OR (updated_at = ? AND id < ?))`
		args = append(args, updatedAt, updatedAt, id)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	page := &ThreadPage{Threads: []models.Thread{}}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		page.Threads = append(page.Threads, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Threads) > limit {
		page.Threads = page.Threads[:limit]
		last := page.Threads[limit-1]
		page.NextCursor = encodeThreadCursor(toNanos(last.UpdatedAt), last.ID)
	}
	return page, nil
}

func encodeThreadCursor(updatedAt int64, id string) string {
	raw := strconv.FormatInt(updatedAt, 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeThreadCursor(cursor string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return 0, "", errors.New("invalid cursor")
	}
	updatedAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor: %w", err)
	}
	return updatedAt, id, nil
}

func scanThread(row scanner) (*models.Thread, error) {
	var (
		t                models.Thread
		role             string
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.LastMessagePreview, &role, &created, &updated); err != nil {
		return nil, err
	}
	t.LastMessageRole = models.Role(role)
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return &t, nil
}

func clipPreview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= previewChars {
		return text
	}
	return string(r[:previewChars-3]) + "..."
}
