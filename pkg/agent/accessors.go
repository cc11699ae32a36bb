package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/store"
)

var errUserRequired = errors.New("user id is required")

// ListPendingApprovals returns the user's pending approvals, newest first.
// An empty threadID lists across all of the user's threads.
func (o *Orchestrator) ListPendingApprovals(ctx context.Context, userID, threadID string) ([]models.Approval, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errUserRequired
	}
	if threadID != "" {
		if _, err := o.ownedThread(ctx, userID, threadID); err != nil {
			return nil, err
		}
	}
	return o.store.ListPendingApprovals(ctx, userID, threadID)
}

// GetApproval returns one of the user's approvals.
func (o *Orchestrator) GetApproval(ctx context.Context, userID, approvalID string) (*models.Approval, error) {
	approval, err := o.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.UserID != userID {
		return nil, fmt.Errorf("approval %s: %w", approvalID, store.ErrForbidden)
	}
	return approval, nil
}

// ListThreadMessages returns the last limit messages of one of the user's threads.
func (o *Orchestrator) ListThreadMessages(ctx context.Context, userID, threadID string, limit int) ([]models.ThreadMessage, error) {
	if _, err := o.ownedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	return o.store.ListMessages(ctx, threadID, limit)
}

// ListThreads returns a page of the user's threads, most recently updated first.
func (o *Orchestrator) ListThreads(ctx context.Context, userID, cursor string, limit int) (*store.ThreadPage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errUserRequired
	}
	return o.store.ListThreads(ctx, userID, cursor, limit)
}

// GetRun returns one of the user's runs.
func (o *Orchestrator) GetRun(ctx context.Context, userID, runID string) (*models.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrForbidden)
	}
	return run, nil
}

// ListActions returns the actions of one of the user's runs in step order.
func (o *Orchestrator) ListActions(ctx context.Context, userID, runID string) ([]models.Action, error) {
	if _, err := o.GetRun(ctx, userID, runID); err != nil {
		return nil, err
	}
	return o.store.ListActions(ctx, runID)
}

// SetTrustLevel records the user's explicit trust level.
func (o *Orchestrator) SetTrustLevel(ctx context.Context, userID string, level models.TrustLevel) error {
	if strings.TrimSpace(userID) == "" {
		return errUserRequired
	}
	if _, ok := models.ParseTrustLevel(string(level)); !ok {
		return fmt.Errorf("invalid trust level %q", level)
	}
	if err := o.store.SetTrustLevel(ctx, userID, level); err != nil {
		return err
	}
	o.logger.Info().Str("user_id", userID).Str("trust_level", string(level)).Msg("Trust level updated")
	return nil
}

func (o *Orchestrator) ownedThread(ctx context.Context, userID, threadID string) (*models.Thread, error) {
	thread, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.UserID != userID {
		return nil, fmt.Errorf("thread %s: %w", threadID, store.ErrForbidden)
	}
	return thread, nil
}
