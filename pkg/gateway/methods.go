package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/steward/pkg/agent"
	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/store"
)

// Agent is the orchestrator surface the gateway exposes
type Agent interface {
	RunAgent(ctx context.Context, req agent.RunRequest) *agent.RunResult
	ResolveApproval(ctx context.Context, req agent.ResolveRequest) (*agent.ResolveResult, error)
	Abort(runID string) bool
	ListPendingApprovals(ctx context.Context, userID, threadID string) ([]models.Approval, error)
	GetApproval(ctx context.Context, userID, approvalID string) (*models.Approval, error)
	ListThreads(ctx context.Context, userID, cursor string, limit int) (*store.ThreadPage, error)
	ListThreadMessages(ctx context.Context, userID, threadID string, limit int) ([]models.ThreadMessage, error)
	GetRun(ctx context.Context, userID, runID string) (*models.Run, error)
	ListActions(ctx context.Context, userID, runID string) ([]models.Action, error)
	SetTrustLevel(ctx context.Context, userID string, level models.TrustLevel) error
}

var _ Agent = (*agent.Orchestrator)(nil)

type runParams struct {
	Prompt       string              `json:"prompt"`
	ThreadID     string              `json:"thread_id"`
	Source       string              `json:"source"`
	Conversation []agent.Turn        `json:"conversation"`
	ContextItems []agent.ContextItem `json:"context_items"`
}

type resolveParams struct {
	ApprovalID string          `json:"approval_id"`
	Decision   models.Decision `json:"decision"`
	Feedback   string          `json:"feedback"`
}

type idParams struct {
	ApprovalID string `json:"approval_id"`
	ThreadID   string `json:"thread_id"`
	RunID      string `json:"run_id"`
	Cursor     string `json:"cursor"`
	Limit      int    `json:"limit"`
}

type trustParams struct {
	Level string `json:"level"`
}

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("agent.run", s.handleAgentRun)
	_ = s.router.RegisterMethod("agent.abort", s.handleAgentAbort)
	_ = s.router.RegisterMethod("approvals.resolve", s.handleApprovalsResolve)
	_ = s.router.RegisterMethod("approvals.list", s.handleApprovalsList)
	_ = s.router.RegisterMethod("approvals.get", s.handleApprovalsGet)
	_ = s.router.RegisterMethod("threads.list", s.handleThreadsList)
	_ = s.router.RegisterMethod("threads.messages", s.handleThreadsMessages)
	_ = s.router.RegisterMethod("runs.get", s.handleRunsGet)
	_ = s.router.RegisterMethod("trust.set", s.handleTrustSet)
}

// handleAgentRun runs the agent loop and streams its events to the user's websocket clients
func (s *Server) handleAgentRun(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p runParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, invalidParams("prompt is required")
	}

	userID := UserFromContext(ctx)
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	events := make(chan agent.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.broadcaster.PublishStream(userID, events)
	}()

	source := p.Source
	if source == "" {
		source = "gateway"
	}
	result := s.agent.RunAgent(ctx, agent.RunRequest{
		UserID:       userID,
		Prompt:       p.Prompt,
		ThreadID:     p.ThreadID,
		Source:       source,
		Conversation: p.Conversation,
		ContextItems: p.ContextItems,
		Events:       events,
	})
	close(events)
	<-done

	return result, nil
}

func (s *Server) handleAgentAbort(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.RunID == "" {
		return nil, invalidParams("run_id is required")
	}
	if _, err := s.agent.GetRun(ctx, UserFromContext(ctx), p.RunID); err != nil {
		return nil, mapError(err)
	}
	return map[string]interface{}{"run_id": p.RunID, "aborted": s.agent.Abort(p.RunID)}, nil
}

func (s *Server) handleApprovalsResolve(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p resolveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ApprovalID == "" {
		return nil, invalidParams("approval_id is required")
	}

	userID := UserFromContext(ctx)
	events := make(chan agent.StreamEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.broadcaster.PublishStream(userID, events)
	}()

	result, err := s.agent.ResolveApproval(ctx, agent.ResolveRequest{
		ApprovalID: p.ApprovalID,
		UserID:     userID,
		Decision:   p.Decision,
		Feedback:   p.Feedback,
		Events:     events,
	})
	close(events)
	<-done

	if err != nil {
		rpcErr := mapError(err)
		// A failed execution still reports the terminal approval and run.
		if data, ok := rpcErr.Data.(map[string]interface{}); ok && result != nil {
			data["result"] = result
		}
		return nil, rpcErr
	}
	return result, nil
}

func (s *Server) handleApprovalsList(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	approvals, err := s.agent.ListPendingApprovals(ctx, UserFromContext(ctx), p.ThreadID)
	if err != nil {
		return nil, mapError(err)
	}
	if approvals == nil {
		approvals = []models.Approval{}
	}
	return map[string]interface{}{"approvals": approvals}, nil
}

func (s *Server) handleApprovalsGet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ApprovalID == "" {
		return nil, invalidParams("approval_id is required")
	}
	approval, err := s.agent.GetApproval(ctx, UserFromContext(ctx), p.ApprovalID)
	if err != nil {
		return nil, mapError(err)
	}
	return approval, nil
}

func (s *Server) handleThreadsList(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	page, err := s.agent.ListThreads(ctx, UserFromContext(ctx), p.Cursor, p.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	return page, nil
}

func (s *Server) handleThreadsMessages(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ThreadID == "" {
		return nil, invalidParams("thread_id is required")
	}
	msgs, err := s.agent.ListThreadMessages(ctx, UserFromContext(ctx), p.ThreadID, p.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	if msgs == nil {
		msgs = []models.ThreadMessage{}
	}
	return map[string]interface{}{"thread_id": p.ThreadID, "messages": msgs}, nil
}

func (s *Server) handleRunsGet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.RunID == "" {
		return nil, invalidParams("run_id is required")
	}

	userID := UserFromContext(ctx)
	run, err := s.agent.GetRun(ctx, userID, p.RunID)
	if err != nil {
		return nil, mapError(err)
	}
	actions, err := s.agent.ListActions(ctx, userID, p.RunID)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]interface{}{"run": run, "actions": actions}, nil
}

func (s *Server) handleTrustSet(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p trustParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	level, ok := models.ParseTrustLevel(p.Level)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("invalid trust level %q", p.Level))
	}
	if err := s.agent.SetTrustLevel(ctx, UserFromContext(ctx), level); err != nil {
		return nil, mapError(err)
	}
	return map[string]interface{}{"level": level}, nil
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func invalidParams(message string) *RPCError {
	return &RPCError{Code: InvalidParams, Message: message}
}

// mapError converts orchestrator and store errors to RPC errors
func mapError(err error) *RPCError {
	if code := agent.CodeOf(err); code != "" {
		rpcErr := &RPCError{Message: err.Error(), Data: map[string]interface{}{"code": string(code)}}
		switch code {
		case agent.CodeNotFound:
			rpcErr.Code = NotFound
		case agent.CodeConflict:
			rpcErr.Code = Conflict
		case agent.CodeForbidden:
			rpcErr.Code = Forbidden
		case agent.CodeInvalidDecision, agent.CodeInvalidArgs:
			rpcErr.Code = InvalidParams
		default:
			rpcErr.Code = InternalError
		}
		return rpcErr
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &RPCError{Code: NotFound, Message: err.Error()}
	case errors.Is(err, store.ErrForbidden):
		return &RPCError{Code: Forbidden, Message: err.Error()}
	case errors.Is(err, store.ErrConflict):
		return &RPCError{Code: Conflict, Message: err.Error()}
	}
	return &RPCError{Code: InternalError, Message: err.Error()}
}
