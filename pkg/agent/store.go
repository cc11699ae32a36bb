package agent

import (
	"context"
	"encoding/json"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/policy"
	"github.com/harun/steward/pkg/store"
	"github.com/harun/steward/pkg/tools"
)

// Store is the persistence the orchestrator needs. *store.DB implements it.
type Store interface {
	SaveRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	SaveAction(ctx context.Context, action *models.Action) error
	GetAction(ctx context.Context, id string) (*models.Action, error)
	ListActions(ctx context.Context, runID string) ([]models.Action, error)

	CreateApproval(ctx context.Context, a *models.Approval) error
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	ClaimApproval(ctx context.Context, id string, decision models.Decision, feedback string) (*models.Approval, error)
	CompleteApproval(ctx context.Context, id string, status models.ApprovalStatus, output json.RawMessage, errMsg string) error
	CancelApproval(ctx context.Context, id, errMsg string) error
	ListPendingApprovals(ctx context.Context, userID, threadID string) ([]models.Approval, error)

	EnsureThread(ctx context.Context, id, userID, title string) (*models.Thread, bool, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	AppendMessage(ctx context.Context, msg *models.ThreadMessage) error
	ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error)
	ListThreads(ctx context.Context, userID, cursor string, limit int) (*store.ThreadPage, error)

	AllowRecipient(ctx context.Context, entry models.AllowlistEntry) error
	SetTrustLevel(ctx context.Context, userID string, level models.TrustLevel) error
}

// PolicyEvaluator decides whether a validated tool call may run. *policy.Engine implements it.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, userID string, tool tools.Tool, args tools.Args) policy.Decision
}

// ContextProvider renders durable user context. It must return "" on failure.
type ContextProvider interface {
	BuildContextBlock(ctx context.Context, userID string) string
}

// killSwitch is implemented by policy evaluators whose side-effect switch can be flipped live.
type killSwitch interface {
	SetSideEffectsDisabled(disabled bool)
}

var _ Store = (*store.DB)(nil)
