package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/steward/pkg/models"
)

// steppingClock returns strictly increasing timestamps so ordering is deterministic.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	clock := &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	db, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "steward.db"),
		Logger: zerolog.Nop(),
		Now:    clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestRuns_SaveAndMerge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	run := &models.Run{ID: "r1", UserID: "u1", ThreadID: "t1", Prompt: "hello", Status: models.RunPlanning}
	require.NoError(t, db.SaveRun(ctx, run))
	created := run.CreatedAt

	started := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	run.StartedAt = &started
	run.Status = models.RunCompleted
	run.Summary = "done"
	require.NoError(t, db.SaveRun(ctx, run))

	got, err := db.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, "done", got.Summary)
	assert.Equal(t, created, got.CreatedAt)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, started, *got.StartedAt)

	// A later write without timestamps keeps the stored ones.
	run.StartedAt = nil
	require.NoError(t, db.SaveRun(ctx, run))
	got, err = db.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.NotNil(t, got.StartedAt)

	_, err = db.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	runs, err := db.ListRuns(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestActions_OrderedByStep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 3; i >= 1; i-- {
		require.NoError(t, db.SaveAction(ctx, &models.Action{
			ID:           fmt.Sprintf("a%d", i),
			RunID:        "r1",
			Step:         i,
			Type:         models.ActionToolCall,
			Status:       models.ActionPlanned,
			Confirmation: models.ConfirmationNotRequired,
			Input:        json.RawMessage(`{"n":1}`),
		}))
	}

	// Merge: output is added, input preserved.
	require.NoError(t, db.SaveAction(ctx, &models.Action{
		ID:           "a2",
		RunID:        "r1",
		Step:         2,
		Type:         models.ActionToolCall,
		Status:       models.ActionCompleted,
		Confirmation: models.ConfirmationNotRequired,
		Output:       json.RawMessage(`{"ok":true}`),
	}))

	actions, err := db.ListActions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{actions[0].ID, actions[1].ID, actions[2].ID})
	assert.Equal(t, models.ActionCompleted, actions[1].Status)
	assert.JSONEq(t, `{"n":1}`, string(actions[1].Input))
	assert.JSONEq(t, `{"ok":true}`, string(actions[1].Output))

	_, err = db.GetAction(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func newPendingApproval(t *testing.T, db *DB, id string) *models.Approval {
	t.Helper()
	a := &models.Approval{
		ID:       id,
		UserID:   "u1",
		ToolName: "gmail_send",
		Args:     json.RawMessage(`{"to":"alice@example.com","subject":"s","body":"b"}`),
		Preview:  "Send email to alice@example.com",
		Reason:   "supervised trust requires approval",
		RunID:    "r1",
		ActionID: "a1",
		ThreadID: "t1",
	}
	require.NoError(t, db.CreateApproval(context.Background(), a))
	return a
}

func TestApprovals_ClaimReject(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newPendingApproval(t, db, "ap1")

	a, err := db.ClaimApproval(ctx, "ap1", models.DecisionReject, "not now")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, a.Status)
	assert.Equal(t, models.DecisionReject, a.Decision)
	assert.Equal(t, "not now", a.Feedback)
	assert.NotNil(t, a.ResolvedAt)

	_, err = db.ClaimApproval(ctx, "ap1", models.DecisionApproveOnce, "")
	assert.True(t, errors.Is(err, ErrConflict))

	_, err = db.ClaimApproval(ctx, "missing", models.DecisionApproveOnce, "")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = db.ClaimApproval(ctx, "ap1", models.Decision("maybe"), "")
	assert.Error(t, err)
}

func TestApprovals_ClaimAndComplete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newPendingApproval(t, db, "ap1")

	a, err := db.ClaimApproval(ctx, "ap1", models.DecisionApproveOnce, "")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalExecuting, a.Status)
	assert.NotNil(t, a.StartedAt)
	assert.Nil(t, a.ResolvedAt)

	require.NoError(t, db.CompleteApproval(ctx, "ap1", models.ApprovalApprovedExecuted, json.RawMessage(`{"message_id":"m1"}`), ""))

	got, err := db.GetApproval(ctx, "ap1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApprovedExecuted, got.Status)
	assert.JSONEq(t, `{"message_id":"m1"}`, string(got.Output))
	assert.NotNil(t, got.ResolvedAt)

	err = db.CompleteApproval(ctx, "ap1", models.ApprovalFailed, nil, "again")
	assert.True(t, errors.Is(err, ErrConflict))

	err = db.CompleteApproval(ctx, "ap1", models.ApprovalPending, nil, "")
	assert.Error(t, err)
}

func TestApprovals_Cancel(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	newPendingApproval(t, db, "ap1")

	require.NoError(t, db.CancelApproval(ctx, "ap1", "run failed"))

	got, err := db.GetApproval(ctx, "ap1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalFailed, got.Status)
	assert.Equal(t, "run failed", got.Error)
	assert.NotNil(t, got.ResolvedAt)

	pending, err := db.ListPendingApprovals(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Only pending approvals can be cancelled or claimed
	assert.True(t, errors.Is(db.CancelApproval(ctx, "ap1", "again"), ErrConflict))
	_, err = db.ClaimApproval(ctx, "ap1", models.DecisionApproveOnce, "")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, errors.Is(db.CancelApproval(ctx, "missing", ""), ErrNotFound))
}

func TestApprovals_ConcurrentClaimHasOneWinner(t *testing.T) {
	db := newTestDB(t)
	newPendingApproval(t, db, "ap1")

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.ClaimApproval(context.Background(), "ap1", models.DecisionApproveOnce, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, conflicts)
}

func TestApprovals_ListPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	newPendingApproval(t, db, "ap1")
	second := &models.Approval{ID: "ap2", UserID: "u1", ToolName: "chat_post_message", RunID: "r2", ActionID: "a2", ThreadID: "t2"}
	require.NoError(t, db.CreateApproval(ctx, second))
	other := &models.Approval{ID: "ap3", UserID: "u2", ToolName: "chat_post_message", RunID: "r3", ActionID: "a3", ThreadID: "t1"}
	require.NoError(t, db.CreateApproval(ctx, other))

	pending, err := db.ListPendingApprovals(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "ap2", pending[0].ID)
	assert.JSONEq(t, `{}`, string(pending[0].Args))

	pending, err = db.ListPendingApprovals(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ap1", pending[0].ID)

	_, err = db.ClaimApproval(ctx, "ap1", models.DecisionReject, "")
	require.NoError(t, err)

	count, err := db.CountPendingApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestThreads_EnsureAndAppend(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	thread, created, err := db.EnsureThread(ctx, "t1", "u1", "Lunch plans")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Lunch plans", thread.Title)

	_, created, err = db.EnsureThread(ctx, "t1", "u1", "ignored")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = db.EnsureThread(ctx, "t1", "u2", "")
	assert.True(t, errors.Is(err, ErrForbidden))

	require.NoError(t, db.AppendMessage(ctx, &models.ThreadMessage{ThreadID: "t1", Role: models.RoleUser, Text: "where should we eat?"}))
	reply := &models.ThreadMessage{ThreadID: "t1", Role: models.RoleAssistant, Text: "How about   the\nnoodle place?", RunID: "r1"}
	require.NoError(t, db.AppendMessage(ctx, reply))
	assert.Equal(t, int64(2), reply.Seq)
	assert.NotEmpty(t, reply.ID)

	messages, err := db.ListMessages(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "r1", messages[1].RunID)

	window, err := db.ListMessages(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, int64(2), window[0].Seq)

	thread, err = db.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "How about the noodle place?", thread.LastMessagePreview)
	assert.Equal(t, models.RoleAssistant, thread.LastMessageRole)

	err = db.AppendMessage(ctx, &models.ThreadMessage{ThreadID: "missing", Role: models.RoleUser, Text: "x"})
	assert.Error(t, err)
}

func TestThreads_ListPaginates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		_, _, err := db.EnsureThread(ctx, id, "u1", "")
		require.NoError(t, err)
		require.NoError(t, db.AppendMessage(ctx, &models.ThreadMessage{ThreadID: id, Role: models.RoleUser, Text: id}))
	}
	_, _, err := db.EnsureThread(ctx, "other", "u2", "")
	require.NoError(t, err)

	// Touch t1 so it becomes the most recent.
	require.NoError(t, db.AppendMessage(ctx, &models.ThreadMessage{ThreadID: "t1", Role: models.RoleAssistant, Text: "bump"}))

	var ids []string
	cursor := ""
	pages := 0
	for {
		page, err := db.ListThreads(ctx, "u1", cursor, 2)
		require.NoError(t, err)
		pages++
		for _, th := range page.Threads {
			ids = append(ids, th.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []string{"t1", "t4", "t3", "t2", "t0"}, ids)
	assert.Equal(t, 3, pages)

	_, err = db.ListThreads(ctx, "u1", "%%%", 2)
	assert.Error(t, err)
}

func TestTrust_ResolutionOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, ok, err := db.ResolveTrustLevel(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetProfileTrustLevel(ctx, "u1", models.TrustDelegated))
	level, ok, err := db.ResolveTrustLevel(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.TrustDelegated, level)

	require.NoError(t, db.SetTrustLevel(ctx, "u1", models.TrustAutonomous))
	level, _, err = db.ResolveTrustLevel(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TrustAutonomous, level)

	assert.Error(t, db.SetTrustLevel(ctx, "u1", models.TrustLevel("root")))
}

func TestAllowlist(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	allowed, err := db.IsRecipientAllowed(ctx, "u1", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)

	entry := models.AllowlistEntry{UserID: "u1", Recipient: " Alice@Example.com ", ToolName: "gmail_send", ApprovalID: "ap1"}
	require.NoError(t, db.AllowRecipient(ctx, entry))
	require.NoError(t, db.AllowRecipient(ctx, entry))

	allowed, err = db.IsRecipientAllowed(ctx, "u1", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = db.IsRecipientAllowed(ctx, "u2", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)

	entries, err := db.ListAllowlist(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice@example.com", entries[0].Recipient)

	require.NoError(t, db.RemoveRecipient(ctx, "u1", "alice@example.com"))
	assert.True(t, errors.Is(db.RemoveRecipient(ctx, "u1", "alice@example.com"), ErrNotFound))
}

func TestMemoryFacts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, text := range []string{"prefers mornings", "vegetarian", "lives in Lisbon"} {
		_, err := db.AddMemoryFact(ctx, "u1", text)
		require.NoError(t, err)
	}
	_, err := db.AddMemoryFact(ctx, "u1", "  ")
	assert.Error(t, err)

	facts, err := db.ListMemoryFacts(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "vegetarian", facts[0].Text)
	assert.Equal(t, "lives in Lisbon", facts[1].Text)
}
