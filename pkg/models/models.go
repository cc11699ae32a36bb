package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunPlanning             RunStatus = "planning"
	RunExecuting            RunStatus = "executing"
	RunAwaitingConfirmation RunStatus = "awaiting_confirmation"
	RunCompleted            RunStatus = "completed"
	RunFailed               RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ActionType classifies one step of a Run.
type ActionType string

const (
	ActionAssistantResponse ActionType = "assistant_response"
	ActionToolCall          ActionType = "tool_call"
	ActionPlanner           ActionType = "planner"
)

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	ActionPlanned              ActionStatus = "planned"
	ActionAwaitingConfirmation ActionStatus = "awaiting_confirmation"
	ActionExecuting            ActionStatus = "executing"
	ActionCompleted            ActionStatus = "completed"
	ActionFailed               ActionStatus = "failed"
	ActionRejected             ActionStatus = "rejected"
)

// Confirmation records whether a human sign-off was involved in an Action.
type Confirmation string

const (
	ConfirmationNotRequired Confirmation = "not_required"
	ConfirmationRequired    Confirmation = "required"
	ConfirmationApproved    Confirmation = "approved"
	ConfirmationDenied      Confirmation = "denied"
	ConfirmationRejected    Confirmation = "rejected"
)

// ApprovalStatus is the lifecycle state of an Approval.
type ApprovalStatus string

const (
	ApprovalPending          ApprovalStatus = "pending"
	ApprovalRejected         ApprovalStatus = "rejected"
	ApprovalExecuting        ApprovalStatus = "executing"
	ApprovalApprovedExecuted ApprovalStatus = "approved_executed"
	ApprovalFailed           ApprovalStatus = "failed"
)

// IsTerminal reports whether the approval can no longer change.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalRejected || s == ApprovalApprovedExecuted || s == ApprovalFailed
}

// Decision is a human verdict on a pending approval.
type Decision string

const (
	DecisionReject                         Decision = "reject"
	DecisionApproveOnce                    Decision = "approve_once"
	DecisionApproveAndAlwaysAllowRecipient Decision = "approve_and_always_allow_recipient"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionReject, DecisionApproveOnce, DecisionApproveAndAlwaysAllowRecipient:
		return true
	}
	return false
}

// Approves reports whether the decision leads to execution.
func (d Decision) Approves() bool {
	return d == DecisionApproveOnce || d == DecisionApproveAndAlwaysAllowRecipient
}

// TrustLevel controls how much autonomy side-effecting tools receive.
type TrustLevel string

const (
	TrustSupervised TrustLevel = "supervised"
	TrustDelegated  TrustLevel = "delegated"
	TrustAutonomous TrustLevel = "autonomous"
)

// ParseTrustLevel returns the level and whether s named a known level.
func ParseTrustLevel(s string) (TrustLevel, bool) {
	switch TrustLevel(s) {
	case TrustSupervised, TrustDelegated, TrustAutonomous:
		return TrustLevel(s), true
	}
	return "", false
}

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Run is one user-initiated planning episode.
type Run struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	ThreadID          string     `json:"thread_id"`
	Prompt            string     `json:"prompt"`
	Status            RunStatus  `json:"status"`
	Summary           string     `json:"summary,omitempty"`
	Model             string     `json:"model,omitempty"`
	PendingApprovalID string     `json:"pending_approval_id,omitempty"`
	Source            string     `json:"source,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Action is one step within a Run.
type Action struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	Step         int             `json:"step"`
	Type         ActionType      `json:"type"`
	ToolName     string          `json:"tool_name,omitempty"`
	Status       ActionStatus    `json:"status"`
	Confirmation Confirmation    `json:"confirmation"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	ApprovalID   string          `json:"approval_id,omitempty"`
	Model        string          `json:"model,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Approval is a durable request for human sign-off on one tool invocation.
type Approval struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	Preview    string          `json:"preview"`
	Reason     string          `json:"reason"`
	Status     ApprovalStatus  `json:"status"`
	Decision   Decision        `json:"decision,omitempty"`
	Feedback   string          `json:"feedback,omitempty"`
	RunID      string          `json:"run_id"`
	ActionID   string          `json:"action_id"`
	ThreadID   string          `json:"thread_id"`
	Prompt     string          `json:"prompt"`
	Model      string          `json:"model,omitempty"`
	Source     string          `json:"source,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Thread is a conversation container owned by one user.
type Thread struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title,omitempty"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	LastMessageRole    Role      `json:"last_message_role,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ThreadMessage is one persisted turn of a thread.
type ThreadMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	RunID     string    `json:"run_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AllowlistEntry marks a recipient as pre-approved for a user.
type AllowlistEntry struct {
	UserID     string    `json:"user_id"`
	Recipient  string    `json:"recipient"`
	ToolName   string    `json:"tool_name,omitempty"`
	ApprovalID string    `json:"approval_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MemoryFact is a durable fact about a user injected into planning context.
type MemoryFact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
