package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/harun/steward/pkg/models"
)

// SetTrustLevel stores an explicit trust level in the user's settings.
func (s *DB) SetTrustLevel(ctx context.Context, userID string, level models.TrustLevel) error {
	if _, ok := models.ParseTrustLevel(string(level)); !ok {
		return fmt.Errorf("invalid trust level %q", level)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, trust_level, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET trust_level = excluded.trust_level, updated_at = excluded.updated_at`,
		userID, string(level), toNanos(s.timestamp()),
	)
	if err != nil {
		return fmt.Errorf("failed to set trust level: %w", err)
	}
	return nil
}

// SetProfileTrustLevel writes the legacy profile trust field. It is only consulted when the
// user has no settings record.
func (s *DB) SetProfileTrustLevel(ctx context.Context, userID string, level models.TrustLevel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, trust_level, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET trust_level = excluded.trust_level, updated_at = excluded.updated_at`,
		userID, string(level), toNanos(s.timestamp()),
	)
	if err != nil {
		return fmt.Errorf("failed to set profile trust level: %w", err)
	}
	return nil
}

// ResolveTrustLevel returns the user's trust level from settings, then the legacy profile.
// ok is false when neither holds a value.
func (s *DB) ResolveTrustLevel(ctx context.Context, userID string) (models.TrustLevel, bool, error) {
	for _, table := range []string{"user_settings", "user_profiles"} {
		var level string
		err := s.db.QueryRowContext(ctx,
			`SELECT trust_level FROM `+table+` WHERE user_id = ?`, userID).Scan(&level)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s: %w", table, err)
		}
		if level = strings.TrimSpace(level); level != "" {
			return models.TrustLevel(level), true, nil
		}
	}
	return "", false, nil
}

// AllowRecipient adds a recipient to the user's allowlist. Adding an existing entry is a no-op.
func (s *DB) AllowRecipient(ctx context.Context, entry models.AllowlistEntry) error {
	recipient := strings.ToLower(strings.TrimSpace(entry.Recipient))
	if entry.UserID == "" || recipient == "" {
		return errors.New("user id and recipient are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipient_allowlist (user_id, recipient, tool_name, approval_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, recipient) DO NOTHING`,
		entry.UserID, recipient, entry.ToolName, entry.ApprovalID, toNanos(s.timestamp()),
	)
	if err != nil {
		return fmt.Errorf("failed to allow recipient: %w", err)
	}
	return nil
}

// IsRecipientAllowed reports whether recipient is on the user's allowlist.
func (s *DB) IsRecipientAllowed(ctx context.Context, userID, recipient string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recipient_allowlist WHERE user_id = ? AND recipient = ?`,
		userID, strings.ToLower(strings.TrimSpace(recipient))).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check allowlist: %w", err)
	}
	return n > 0, nil
}

// ListAllowlist returns the user's allowlisted recipients, oldest first.
func (s *DB) ListAllowlist(ctx context.Context, userID string) ([]models.AllowlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, recipient, tool_name, approval_id, created_at
		FROM recipient_allowlist WHERE user_id = ? ORDER BY created_at ASC, recipient ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allowlist: %w", err)
	}
	defer rows.Close()

	entries := []models.AllowlistEntry{}
	for rows.Next() {
		var (
			e       models.AllowlistEntry
			created int64
		)
		if err := rows.Scan(&e.UserID, &e.Recipient, &e.ToolName, &e.ApprovalID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan allowlist entry: %w", err)
		}
		e.CreatedAt = fromNanos(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveRecipient deletes a recipient from the user's allowlist.
func (s *DB) RemoveRecipient(ctx context.Context, userID, recipient string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recipient_allowlist WHERE user_id = ? AND recipient = ?`,
		userID, strings.ToLower(strings.TrimSpace(recipient)))
	if err != nil {
		return fmt.Errorf("failed to remove recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recipient %s: %w", recipient, ErrNotFound)
	}
	return nil
}

// AddMemoryFact stores a durable fact about a user.
func (s *DB) AddMemoryFact(ctx context.Context, userID, text string) (*models.MemoryFact, error) {
	text = strings.TrimSpace(text)
	if userID == "" || text == "" {
		return nil, errors.New("user id and text are required")
	}
	fact := &models.MemoryFact{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: s.timestamp(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_facts (id, user_id, text, created_at) VALUES (?, ?, ?, ?)`,
		fact.ID, fact.UserID, fact.Text, toNanos(fact.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to add memory fact: %w", err)
	}
	return fact, nil
}

// ListMemoryFacts returns a user's most recent facts, oldest first.
func (s *DB) ListMemoryFacts(ctx context.Context, userID string, limit int) ([]models.MemoryFact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, text, created_at FROM (
			SELECT * FROM memory_facts WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory facts: %w", err)
	}
	defer rows.Close()

	facts := []models.MemoryFact{}
	for rows.Next() {
		var (
			f       models.MemoryFact
			created int64
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Text, &created); err != nil {
			return nil, fmt.Errorf("failed to scan memory fact: %w", err)
		}
		f.CreatedAt = fromNanos(created)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
