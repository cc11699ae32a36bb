package agent

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/steward/pkg/models"
)

// Mode tags how a run ended from the caller's point of view.
type Mode string

const (
	ModeAssistantText    Mode = "assistant_text"
	ModeToolExecuted     Mode = "tool_executed"
	ModeRequiresApproval Mode = "requires_approval"
)

// ContextItem is a caller-attached document included in the planning context.
type ContextItem struct {
	Title   string `json:"title"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
}

// RunRequest is the input of RunAgent.
type RunRequest struct {
	UserID   string `json:"user_id"`
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id,omitempty"`
	Source   string `json:"source,omitempty"`
	// Conversation replaces the thread history as the planning conversation when non-nil.
	Conversation []Turn        `json:"conversation,omitempty"`
	ContextItems []ContextItem `json:"context_items,omitempty"`
	// Events receives streamed progress when set.
	Events chan<- StreamEvent `json:"-"`
}

// PendingApproval describes the action a run is waiting on.
type PendingApproval struct {
	ID       string `json:"id"`
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
	Preview  string `json:"preview"`
}

// RunResult is the structured outcome of RunAgent. It is always returned, never an error.
type RunResult struct {
	Mode     Mode             `json:"mode"`
	RunID    string           `json:"run_id"`
	ThreadID string           `json:"thread_id"`
	Status   models.RunStatus `json:"status"`
	Text     string           `json:"text"`
	Model    string           `json:"model,omitempty"`
	Approval *PendingApproval `json:"approval,omitempty"`
	ToolName string           `json:"tool_name,omitempty"`
	Error    string           `json:"error,omitempty"`
	Steps    int              `json:"steps"`
}

// ResolveRequest is the input of ResolveApproval.
type ResolveRequest struct {
	ApprovalID string             `json:"approval_id"`
	UserID     string             `json:"user_id"`
	Decision   models.Decision    `json:"decision"`
	Feedback   string             `json:"feedback,omitempty"`
	Events     chan<- StreamEvent `json:"-"`
}

// ResolveResult is the outcome of a successful resolution.
type ResolveResult struct {
	ApprovalID     string                `json:"approval_id"`
	ApprovalStatus models.ApprovalStatus `json:"approval_status"`
	RunID          string                `json:"run_id"`
	RunStatus      models.RunStatus      `json:"run_status"`
	ThreadID       string                `json:"thread_id"`
	ToolName       string                `json:"tool_name"`
	Summary        string                `json:"summary"`
	Output         json.RawMessage       `json:"output,omitempty"`
}

// ErrorCode classifies a ResolveError.
type ErrorCode string

const (
	CodeInvalidDecision ErrorCode = "invalid_decision"
	CodeNotFound        ErrorCode = "not_found"
	CodeForbidden       ErrorCode = "forbidden"
	CodeConflict        ErrorCode = "conflict"
	CodeInvalidArgs     ErrorCode = "invalid_args"
	CodeExecutionFailed ErrorCode = "execution_failed"
	CodeInternal        ErrorCode = "internal"
)

// ResolveError is the structured error returned by ResolveApproval.
type ResolveError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Is matches another *ResolveError with the same code, so errors.Is(err, &ResolveError{Code: CodeConflict}) works.
func (e *ResolveError) Is(target error) bool {
	t, ok := target.(*ResolveError)
	return ok && t.Code == e.Code
}

func resolveErr(code ErrorCode, err error, format string, args ...interface{}) *ResolveError {
	return &ResolveError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the ResolveError code carried by err, or "" when err is not one.
func CodeOf(err error) ErrorCode {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
