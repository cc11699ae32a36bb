package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/steward/internal/observability"
	"github.com/harun/steward/internal/tracing"
	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/store"
	"github.com/harun/steward/pkg/tools"
)

// ResolveApproval applies a human decision to a pending approval. An approving decision
// executes the deferred tool call exactly once; the planning loop is not resumed.
// Errors are *ResolveError values.
func (o *Orchestrator) ResolveApproval(ctx context.Context, req ResolveRequest) (res *ResolveResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx, span := tracing.StartSpan(ctx, "steward.agent", "agent.resolve_approval",
		attribute.String("approval_id", req.ApprovalID),
		attribute.String("decision", string(req.Decision)),
	)
	defer func() {
		result := "ok"
		if code := CodeOf(err); code != "" {
			result = string(code)
		}
		observability.RecordApprovalResolution(string(req.Decision), result)
		tracing.EndSpan(span, err)
	}()

	pctx := context.WithoutCancel(ctx)
	logger := tracing.LoggerFromContext(ctx, o.logger).With().
		Str("approval_id", req.ApprovalID).
		Str("decision", string(req.Decision)).
		Logger()

	if !req.Decision.Valid() {
		return nil, resolveErr(CodeInvalidDecision, nil, "unknown decision %q", req.Decision)
	}
	if strings.TrimSpace(req.ApprovalID) == "" {
		return nil, resolveErr(CodeNotFound, store.ErrNotFound, "approval id is required")
	}

	approval, err := o.store.GetApproval(pctx, req.ApprovalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, resolveErr(CodeNotFound, err, "approval %s not found", req.ApprovalID)
		}
		return nil, resolveErr(CodeInternal, err, "failed to load approval %s", req.ApprovalID)
	}
	if req.UserID != "" && approval.UserID != req.UserID {
		return nil, resolveErr(CodeForbidden, store.ErrForbidden, "approval %s belongs to another user", approval.ID)
	}
	if approval.Status != models.ApprovalPending {
		return nil, resolveErr(CodeConflict, store.ErrConflict, "approval %s is already %s", approval.ID, approval.Status)
	}
	// A run that already ended cannot be resumed by its approval.
	if run, err := o.store.GetRun(pctx, approval.RunID); err == nil && run.Status.IsTerminal() {
		o.bestEffort(logger, "cancel_approval", func() error {
			return o.store.CancelApproval(pctx, approval.ID, "run "+run.ID+" is "+string(run.Status))
		})
		return nil, resolveErr(CodeConflict, store.ErrConflict, "run %s of approval %s is already %s", run.ID, approval.ID, run.Status)
	}

	// Approving re-checks the stored args against the tool as registered now. A failure
	// leaves the approval pending.
	var (
		tool tools.Tool
		args tools.Args
	)
	if req.Decision.Approves() {
		var ok bool
		tool, ok = o.registry.Get(approval.ToolName)
		if !ok {
			return nil, resolveErr(CodeInvalidArgs, nil, "tool %s is no longer available", approval.ToolName)
		}
		args, err = tools.ValidateStored(tool, approval.Args)
		if err != nil {
			return nil, resolveErr(CodeInvalidArgs, err, "stored arguments for %s no longer validate", approval.ToolName)
		}
	}

	claimed, err := o.store.ClaimApproval(pctx, approval.ID, req.Decision, req.Feedback)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, resolveErr(CodeConflict, err, "approval %s was resolved concurrently", approval.ID)
		case errors.Is(err, store.ErrNotFound):
			return nil, resolveErr(CodeNotFound, err, "approval %s not found", approval.ID)
		}
		return nil, resolveErr(CodeInternal, err, "failed to claim approval %s", approval.ID)
	}

	ctx = tracing.NewRunContext(ctx, claimed.RunID, claimed.UserID, claimed.ThreadID)
	rs := o.loadResolveState(ctx, claimed)
	rs.events = newEmitter(ctx, req.Events, claimed.RunID, claimed.ThreadID)
	logger = tracing.LoggerFromContext(ctx, logger)
	rs.logger = logger

	if !req.Decision.Approves() {
		return o.rejectApproval(ctx, rs, claimed), nil
	}
	return o.executeApproval(ctx, rs, claimed, tool, args)
}

// loadResolveState rebuilds run bookkeeping for a claimed approval. Missing records are
// replaced by stubs so the approval can still reach a terminal state.
func (o *Orchestrator) loadResolveState(ctx context.Context, approval *models.Approval) *runState {
	pctx := context.WithoutCancel(ctx)
	logger := tracing.LoggerFromContext(ctx, o.logger)

	run, err := o.store.GetRun(pctx, approval.RunID)
	if err != nil {
		logger.Warn().Err(err).Msg("Run for approval not found; continuing with a stub")
		run = &models.Run{
			ID:       approval.RunID,
			UserID:   approval.UserID,
			ThreadID: approval.ThreadID,
			Prompt:   approval.Prompt,
			Model:    approval.Model,
			Source:   approval.Source,
		}
	}

	action, err := o.store.GetAction(pctx, approval.ActionID)
	if err != nil {
		logger.Warn().Err(err).Msg("Action for approval not found; continuing with a stub")
		action = &models.Action{
			ID:           approval.ActionID,
			RunID:        approval.RunID,
			Type:         models.ActionToolCall,
			ToolName:     approval.ToolName,
			Input:        approval.Args,
			ApprovalID:   approval.ID,
			Confirmation: models.ConfirmationRequired,
		}
	}

	return &runState{
		run:         run,
		action:      action,
		steps:       action.Step,
		threadReady: run.ThreadID != "",
		toolName:    approval.ToolName,
		logger:      logger,
	}
}

func (o *Orchestrator) rejectApproval(ctx context.Context, rs *runState, approval *models.Approval) *ResolveResult {
	pctx := context.WithoutCancel(ctx)

	summary := fmt.Sprintf("Okay, I won't run %s.", approval.ToolName)
	if fb := strings.TrimSpace(approval.Feedback); fb != "" {
		summary += " Feedback: " + fb
	}

	rs.action.Status = models.ActionRejected
	rs.action.Confirmation = models.ConfirmationRejected
	rs.action.Error = "rejected by user"
	o.bestEffort(rs.logger, "save_action", func() error { return o.store.SaveAction(pctx, rs.action) })

	o.endRun(pctx, rs, models.RunFailed, summary)

	observability.RecordApprovalAudit(ctx, "resolve", approval.UserID, string(models.ApprovalRejected), approvalMeta(approval))
	rs.events.emit(EventRunFailed, summary, map[string]interface{}{"approval_id": approval.ID, "decision": string(approval.Decision)})
	rs.logger.Info().Msg("Approval rejected")

	return &ResolveResult{
		ApprovalID:     approval.ID,
		ApprovalStatus: models.ApprovalRejected,
		RunID:          rs.run.ID,
		RunStatus:      rs.run.Status,
		ThreadID:       rs.run.ThreadID,
		ToolName:       approval.ToolName,
		Summary:        summary,
	}
}

func (o *Orchestrator) executeApproval(ctx context.Context, rs *runState, approval *models.Approval, tool tools.Tool, args tools.Args) (*ResolveResult, error) {
	pctx := context.WithoutCancel(ctx)

	if approval.Decision == models.DecisionApproveAndAlwaysAllowRecipient {
		o.allowRecipient(pctx, rs, approval, tool, args)
	}

	rs.action.Status = models.ActionExecuting
	rs.action.Confirmation = models.ConfirmationApproved
	o.bestEffort(rs.logger, "save_action", func() error { return o.store.SaveAction(pctx, rs.action) })
	rs.run.Status = models.RunExecuting
	o.bestEffort(rs.logger, "save_run", func() error { return o.store.SaveRun(pctx, rs.run) })
	rs.events.emit(EventToolStarted, "", map[string]interface{}{"tool": tool.Name(), "action_id": rs.action.ID})

	output, elapsed, execErr := o.invoke(ctx, tool, args, tools.Invocation{
		UserID:   approval.UserID,
		RunID:    approval.RunID,
		ThreadID: approval.ThreadID,
		ActionID: approval.ActionID,
	})
	observability.RecordToolExecution(tool.Name(), "approval", elapsed, execErr == nil)

	var encoded json.RawMessage
	if execErr == nil {
		var err error
		if encoded, err = json.Marshal(output); err != nil {
			execErr = fmt.Errorf("failed to encode %s output: %w", tool.Name(), err)
		}
	}

	if execErr != nil {
		summary := fmt.Sprintf("%s failed: %v", tool.Name(), execErr)
		o.bestEffort(rs.logger, "complete_approval", func() error {
			return o.store.CompleteApproval(pctx, approval.ID, models.ApprovalFailed, nil, execErr.Error())
		})
		rs.action.Status = models.ActionFailed
		rs.action.Error = execErr.Error()
		o.bestEffort(rs.logger, "save_action", func() error { return o.store.SaveAction(pctx, rs.action) })
		o.endRun(pctx, rs, models.RunFailed, summary)

		observability.RecordToolAudit(ctx, tool.Name(), approval.UserID, "error", approvalMeta(approval))
		observability.RecordApprovalAudit(ctx, "resolve", approval.UserID, string(models.ApprovalFailed), approvalMeta(approval))
		rs.events.emit(EventRunFailed, summary, map[string]interface{}{"approval_id": approval.ID, "error": execErr.Error()})
		rs.logger.Warn().Err(execErr).Msg("Approved tool execution failed")

		return &ResolveResult{
			ApprovalID:     approval.ID,
			ApprovalStatus: models.ApprovalFailed,
			RunID:          rs.run.ID,
			RunStatus:      rs.run.Status,
			ThreadID:       rs.run.ThreadID,
			ToolName:       tool.Name(),
			Summary:        summary,
		}, resolveErr(CodeExecutionFailed, execErr, "%s failed", tool.Name())
	}

	summary := "Done: " + approval.Preview
	o.bestEffort(rs.logger, "complete_approval", func() error {
		return o.store.CompleteApproval(pctx, approval.ID, models.ApprovalApprovedExecuted, encoded, "")
	})
	rs.action.Status = models.ActionCompleted
	rs.action.Output = encoded
	rs.action.Error = ""
	o.bestEffort(rs.logger, "save_action", func() error { return o.store.SaveAction(pctx, rs.action) })
	o.endRun(pctx, rs, models.RunCompleted, summary)

	observability.RecordToolAudit(ctx, tool.Name(), approval.UserID, "success", approvalMeta(approval))
	observability.RecordApprovalAudit(ctx, "resolve", approval.UserID, string(models.ApprovalApprovedExecuted), approvalMeta(approval))
	rs.events.emit(EventToolCompleted, "", map[string]interface{}{"tool": tool.Name(), "action_id": rs.action.ID, "output": output})
	rs.events.emit(EventRunCompleted, summary, map[string]interface{}{"mode": string(ModeToolExecuted)})
	rs.logger.Info().Str("tool", tool.Name()).Msg("Approved tool executed")

	return &ResolveResult{
		ApprovalID:     approval.ID,
		ApprovalStatus: models.ApprovalApprovedExecuted,
		RunID:          rs.run.ID,
		RunStatus:      rs.run.Status,
		ThreadID:       rs.run.ThreadID,
		ToolName:       tool.Name(),
		Summary:        summary,
		Output:         encoded,
	}, nil
}

// allowRecipient records the approved recipient so later delegated calls skip approval.
// Failure is logged; it never blocks the approved execution.
func (o *Orchestrator) allowRecipient(ctx context.Context, rs *runState, approval *models.Approval, tool tools.Tool, args tools.Args) {
	targeting, ok := tool.(tools.RecipientTargeting)
	if !ok {
		rs.logger.Debug().Str("tool", tool.Name()).Msg("Tool has no recipient to allowlist")
		return
	}
	recipient, ok := targeting.Recipient(args)
	if !ok {
		return
	}
	normalized, err := tools.NormalizeEmail(recipient)
	if err != nil {
		rs.logger.Warn().Err(err).Msg("Recipient cannot be allowlisted")
		return
	}

	o.bestEffort(rs.logger, "allow_recipient", func() error {
		return o.store.AllowRecipient(ctx, models.AllowlistEntry{
			UserID:     approval.UserID,
			Recipient:  normalized,
			ToolName:   tool.Name(),
			ApprovalID: approval.ID,
		})
	})
	rs.logger.Info().Str("recipient", normalized).Msg("Recipient added to allowlist")
}

func (o *Orchestrator) endRun(ctx context.Context, rs *runState, status models.RunStatus, summary string) {
	endedAt := time.Now().UTC()
	rs.run.Status = status
	rs.run.Summary = summary
	rs.run.PendingApprovalID = ""
	rs.run.EndedAt = &endedAt
	o.bestEffort(rs.logger, "save_run", func() error { return o.store.SaveRun(ctx, rs.run) })

	if rs.threadReady {
		o.bestEffort(rs.logger, "append_message", func() error {
			return o.appendMessage(ctx, rs, models.RoleAssistant, summary)
		})
	}
}

func approvalMeta(a *models.Approval) map[string]interface{} {
	return map[string]interface{}{
		"approval_id": a.ID,
		"run_id":      a.RunID,
		"action_id":   a.ActionID,
		"thread_id":   a.ThreadID,
		"tool":        a.ToolName,
		"decision":    string(a.Decision),
	}
}
