package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/harun/steward/internal/observability"
	"github.com/harun/steward/internal/tracing"
	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/policy"
	"github.com/harun/steward/pkg/tools"
)

// Config holds orchestrator configuration
type Config struct {
	Store    Store
	Planner  Planner
	Registry *tools.Registry
	Policy   PolicyEvaluator
	// Memory is optional.
	Memory  ContextProvider
	Options Options
	Logger  zerolog.Logger
	// Now overrides the clock shown to the planner.
	Now func() time.Time
}

// Orchestrator runs the plan, check, act loop for user requests and resolves the
// approvals it leaves behind.
type Orchestrator struct {
	store    Store
	planner  Planner
	registry *tools.Registry
	policy   PolicyEvaluator
	memory   ContextProvider
	logger   zerolog.Logger
	now      func() time.Time

	opts   Options
	optsMu sync.RWMutex

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex
}

// New creates a new orchestrator
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy evaluator is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		store:      cfg.Store,
		planner:    cfg.Planner,
		registry:   cfg.Registry,
		policy:     cfg.Policy,
		memory:     cfg.Memory,
		logger:     cfg.Logger.With().Str("component", "orchestrator").Logger(),
		now:        now,
		activeRuns: make(map[string]context.CancelFunc),
	}
	o.SetOptions(cfg.Options)

	return o, nil
}

// Options returns the options in effect.
func (o *Orchestrator) Options() Options {
	o.optsMu.RLock()
	defer o.optsMu.RUnlock()
	return o.opts
}

// SetOptions replaces the options for subsequent runs and forwards the side-effect
// switch to the policy evaluator when it supports live toggling.
func (o *Orchestrator) SetOptions(opts Options) {
	opts = opts.normalized()

	o.optsMu.Lock()
	o.opts = opts
	o.optsMu.Unlock()

	if ks, ok := o.policy.(killSwitch); ok {
		ks.SetSideEffectsDisabled(opts.SideEffectsDisabled)
	}
	o.logger.Debug().
		Int("max_steps", opts.MaxSteps).
		Bool("side_effects_disabled", opts.SideEffectsDisabled).
		Msg("Options applied")
}

// Abort cancels an in-flight run. It reports whether the run was active.
func (o *Orchestrator) Abort(runID string) bool {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()

	cancel, exists := o.activeRuns[runID]
	if !exists {
		o.logger.Debug().Str("run_id", runID).Msg("No active run to abort")
		return false
	}

	o.logger.Info().Str("run_id", runID).Msg("Aborting run")
	cancel()
	delete(o.activeRuns, runID)
	return true
}

// IsRunning reports whether a run is in flight.
func (o *Orchestrator) IsRunning(runID string) bool {
	o.runsMu.Lock()
	defer o.runsMu.Unlock()

	_, exists := o.activeRuns[runID]
	return exists
}

func (o *Orchestrator) track(runID string, cancel context.CancelFunc) {
	o.runsMu.Lock()
	o.activeRuns[runID] = cancel
	o.runsMu.Unlock()
}

func (o *Orchestrator) untrack(runID string) {
	o.runsMu.Lock()
	delete(o.activeRuns, runID)
	o.runsMu.Unlock()
}

// runState is the mutable bookkeeping of one RunAgent invocation.
type runState struct {
	run          *models.Run
	action       *models.Action
	nextActionID string
	steps        int
	threadReady  bool
	toolRan      bool
	toolName     string
	lastText     string
	// openApproval is an approval created by this run that the user has not been told about yet.
	openApproval string
	events       *emitter
	logger       zerolog.Logger
}

func (rs *runState) newAction(step int) *models.Action {
	id := rs.nextActionID
	if id == "" {
		id = uuid.NewString()
	}
	rs.nextActionID = ""

	rs.action = &models.Action{
		ID:           id,
		RunID:        rs.run.ID,
		Step:         step,
		Type:         models.ActionPlanner,
		Status:       models.ActionPlanned,
		Confirmation: models.ConfirmationNotRequired,
		Model:        rs.run.Model,
	}
	return rs.action
}

func (rs *runState) result(mode Mode, text string, err error) *RunResult {
	res := &RunResult{
		Mode:     mode,
		RunID:    rs.run.ID,
		ThreadID: rs.run.ThreadID,
		Status:   rs.run.Status,
		Text:     text,
		Model:    rs.run.Model,
		ToolName: rs.toolName,
		Steps:    rs.steps,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (rs *runState) meta() map[string]interface{} {
	meta := map[string]interface{}{
		"run_id":    rs.run.ID,
		"thread_id": rs.run.ThreadID,
	}
	if rs.action != nil {
		meta["action_id"] = rs.action.ID
		meta["step"] = rs.action.Step
	}
	return meta
}

// RunAgent plans and executes one user request. It never fails: storage, planner and
// tool errors, and panics, all come back as a failed RunResult.
func (o *Orchestrator) RunAgent(ctx context.Context, req RunRequest) (result *RunResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	opts := o.Options()

	runID := uuid.NewString()
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = newThreadID()
	}

	ctx = tracing.NewRunContext(ctx, runID, req.UserID, threadID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(runID, cancel)
	defer o.untrack(runID)

	ctx, span := tracing.StartSpan(ctx, "steward.agent", "agent.run",
		attribute.String("run_id", runID),
		attribute.String("user_id", req.UserID),
		attribute.String("thread_id", threadID),
	)

	rs := &runState{
		run: &models.Run{
			ID:       runID,
			UserID:   strings.TrimSpace(req.UserID),
			ThreadID: threadID,
			Prompt:   strings.TrimSpace(req.Prompt),
			Status:   models.RunPlanning,
			Model:    opts.Model,
			Source:   req.Source,
		},
		nextActionID: uuid.NewString(),
		events:       newEmitter(ctx, req.Events, runID, threadID),
		logger:       tracing.LoggerFromContext(ctx, o.logger),
	}

	defer func() {
		if p := recover(); p != nil {
			rs.logger.Error().
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Run panicked")
			result = o.fail(ctx, rs, fmt.Errorf("internal error: %v", p))
		}
		o.finish(span, rs, result, time.Since(started))
	}()

	return o.execute(ctx, rs, req, opts)
}

func (o *Orchestrator) execute(ctx context.Context, rs *runState, req RunRequest, opts Options) *RunResult {
	pctx := context.WithoutCancel(ctx)
	run := rs.run

	if run.UserID == "" {
		run.Status = models.RunFailed
		return rs.result(ModeAssistantText, "A user is required to start a run.", errors.New("user id is required"))
	}
	if run.Prompt == "" {
		run.Status = models.RunFailed
		return rs.result(ModeAssistantText, "There is nothing to do for an empty request.", errors.New("prompt is required"))
	}

	startedAt := time.Now().UTC()
	run.StartedAt = &startedAt
	if err := o.store.SaveRun(pctx, run); err != nil {
		return o.fail(ctx, rs, fmt.Errorf("failed to save run: %w", err))
	}
	rs.events.emit(EventRunStarted, "", map[string]interface{}{"prompt": run.Prompt})
	rs.logger.Info().Str("source", run.Source).Msg("Run started")

	_, created, err := o.store.EnsureThread(pctx, run.ThreadID, run.UserID, threadTitle(run.Prompt))
	if err != nil {
		return o.fail(ctx, rs, fmt.Errorf("failed to open thread: %w", err))
	}
	rs.threadReady = true
	if created {
		rs.logger.Debug().Msg("Thread created")
	}

	var (
		history     []models.ThreadMessage
		memoryBlock string
	)
	g, gctx := errgroup.WithContext(pctx)
	if req.Conversation == nil {
		g.Go(guard(func() error {
			msgs, err := o.store.ListMessages(gctx, run.ThreadID, opts.HistoryWindow)
			if err != nil {
				return fmt.Errorf("failed to load thread history: %w", err)
			}
			history = msgs
			return nil
		}))
	}
	if o.memory != nil {
		g.Go(guard(func() error {
			memoryBlock = o.memory.BuildContextBlock(gctx, run.UserID)
			return nil
		}))
	}
	g.Go(guard(func() error {
		return o.appendMessage(gctx, rs, models.RoleUser, run.Prompt)
	}))
	if err := g.Wait(); err != nil {
		return o.fail(ctx, rs, err)
	}

	conversation := buildConversation(req.Conversation, history, run.Prompt, opts.HistoryWindow)
	system := buildSystemInstruction(memoryBlock, req.ContextItems, opts, o.now())
	declarations := o.registry.Declarations()

	for step := 1; step <= opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, rs, fmt.Errorf("run cancelled: %w", err))
		}

		rs.steps = step
		action := rs.newAction(step)
		if err := o.store.SaveAction(pctx, action); err != nil {
			return o.fail(ctx, rs, fmt.Errorf("failed to save action: %w", err))
		}

		plan, err := o.plan(ctx, rs, PlanRequest{
			Model:             run.Model,
			Conversation:      conversation,
			Tools:             declarations,
			SystemInstruction: system,
		})
		if err != nil {
			return o.fail(ctx, rs, fmt.Errorf("planner failed: %w", err))
		}
		if plan.Model != "" {
			run.Model = plan.Model
			action.Model = plan.Model
		}

		text := strings.TrimSpace(plan.Text)
		if text != "" {
			conversation = append(conversation, Turn{Role: models.RoleAssistant, Text: text})
			rs.lastText = text
		}

		call := firstActionable(plan.ToolCalls)
		if call == nil {
			return o.completeWithAnswer(ctx, rs, text)
		}
		if len(plan.ToolCalls) > 1 {
			rs.logger.Debug().Int("tool_calls", len(plan.ToolCalls)).Str("tool", call.Name).Msg("Only the first tool call is honored")
		}

		output, terminal := o.runToolCall(ctx, rs, call)
		if terminal != nil {
			return terminal
		}
		conversation = append(conversation, toolResultTurn(call.Name, call.Args, output, opts.ToolResultMaxChars))
	}

	return o.completeAtStepLimit(ctx, rs, opts.MaxSteps)
}

func (o *Orchestrator) plan(ctx context.Context, rs *runState, req PlanRequest) (resp *PlanResponse, err error) {
	ctx, span := tracing.StartSpan(ctx, "steward.agent", "agent.plan", attribute.Int("step", rs.steps))
	start := time.Now()
	defer func() {
		observability.RecordPlannerCall(o.planner.Provider(), time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	req.OnTextDelta = rs.events.textDelta
	req.OnThoughtDelta = rs.events.thoughtDelta

	resp, err = o.planner.Plan(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("planner returned no response")
	}
	return resp, err
}

// runToolCall validates, checks and, when allowed, executes call. A non-nil RunResult ends the run.
func (o *Orchestrator) runToolCall(ctx context.Context, rs *runState, call *ToolCall) (map[string]interface{}, *RunResult) {
	pctx := context.WithoutCancel(ctx)
	run, action := rs.run, rs.action

	action.Type = models.ActionToolCall
	action.ToolName = call.Name
	rs.toolName = call.Name
	if input, err := json.Marshal(call.Args); err == nil {
		action.Input = input
	}

	tool, ok := o.registry.Get(call.Name)
	if !ok {
		err := fmt.Errorf("unsupported tool %s", call.Name)
		return nil, o.failStep(ctx, rs,
			fmt.Sprintf("I can't do that: the planner asked for an unsupported tool %s.", call.Name),
			err, models.ConfirmationNotRequired)
	}

	args, err := tool.ValidateArgs(call.Args)
	if err != nil {
		return nil, o.failStep(ctx, rs,
			fmt.Sprintf("I couldn't run %s because its arguments were rejected: %v", call.Name, err),
			err, models.ConfirmationNotRequired)
	}
	if encoded, err := tools.EncodeArgs(args); err == nil {
		action.Input = encoded
	}

	decision := o.policy.Evaluate(ctx, run.UserID, tool, args)
	observability.RecordPolicyDecision(tool.Name(), string(decision.Outcome))
	observability.RecordPolicyAudit(ctx, tool.Name(), run.UserID, string(decision.Outcome), decision.Reason, rs.meta())
	rs.logger.Info().
		Str("tool", tool.Name()).
		Str("outcome", string(decision.Outcome)).
		Str("reason", decision.Reason).
		Msg("Policy decision")

	switch decision.Outcome {
	case policy.Allow:
	case policy.RequireApproval:
		return nil, o.requestApproval(ctx, rs, tool, args, decision)
	case policy.Deny:
		return nil, o.failStep(ctx, rs,
			fmt.Sprintf("I didn't run %s: %s", tool.Name(), decision.Reason),
			errors.New(decision.Reason), models.ConfirmationDenied)
	default:
		return nil, o.failStep(ctx, rs,
			fmt.Sprintf("I didn't run %s: the policy check gave no usable answer.", tool.Name()),
			fmt.Errorf("unknown policy outcome %q", decision.Outcome), models.ConfirmationDenied)
	}

	action.Status = models.ActionExecuting
	if err := o.store.SaveAction(pctx, action); err != nil {
		return nil, o.fail(ctx, rs, fmt.Errorf("failed to save action: %w", err))
	}
	run.Status = models.RunExecuting
	if err := o.store.SaveRun(pctx, run); err != nil {
		return nil, o.fail(ctx, rs, fmt.Errorf("failed to save run: %w", err))
	}
	rs.events.emit(EventToolStarted, "", map[string]interface{}{"tool": tool.Name(), "action_id": action.ID})

	output, elapsed, err := o.invoke(ctx, tool, args, tools.Invocation{
		UserID:   run.UserID,
		RunID:    run.ID,
		ThreadID: run.ThreadID,
		ActionID: action.ID,
	})
	observability.RecordToolExecution(tool.Name(), "direct", elapsed, err == nil)
	if err != nil {
		observability.RecordToolAudit(ctx, tool.Name(), run.UserID, "error", rs.meta())
		return nil, o.failStep(ctx, rs, fmt.Sprintf("%s failed: %v", tool.Name(), err), err, "")
	}
	observability.RecordToolAudit(ctx, tool.Name(), run.UserID, "success", rs.meta())

	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, o.fail(ctx, rs, fmt.Errorf("failed to encode %s output: %w", tool.Name(), err))
	}
	action.Output = encoded
	action.Status = models.ActionCompleted
	if err := o.store.SaveAction(pctx, action); err != nil {
		return nil, o.fail(ctx, rs, fmt.Errorf("failed to save action: %w", err))
	}
	rs.toolRan = true
	rs.events.emit(EventToolCompleted, "", map[string]interface{}{"tool": tool.Name(), "action_id": action.ID, "output": output})

	return output, nil
}

func (o *Orchestrator) requestApproval(ctx context.Context, rs *runState, tool tools.Tool, args tools.Args, decision policy.Decision) *RunResult {
	pctx := context.WithoutCancel(ctx)
	run, action := rs.run, rs.action

	encoded, err := tools.EncodeArgs(args)
	if err != nil {
		return o.fail(ctx, rs, err)
	}
	preview := tool.PreviewForApproval(args)

	approval := &models.Approval{
		ID:       uuid.NewString(),
		UserID:   run.UserID,
		ToolName: tool.Name(),
		Args:     encoded,
		Preview:  preview,
		Reason:   decision.Reason,
		RunID:    run.ID,
		ActionID: action.ID,
		ThreadID: run.ThreadID,
		Prompt:   run.Prompt,
		Model:    run.Model,
		Source:   run.Source,
	}
	if err := o.store.CreateApproval(pctx, approval); err != nil {
		return o.fail(ctx, rs, fmt.Errorf("failed to create approval: %w", err))
	}
	rs.openApproval = approval.ID

	action.Status = models.ActionAwaitingConfirmation
	action.Confirmation = models.ConfirmationRequired
	action.ApprovalID = approval.ID
	if err := o.store.SaveAction(pctx, action); err != nil {
		return o.fail(ctx, rs, fmt.Errorf("failed to save action: %w", err))
	}

	text := fmt.Sprintf("I need your approval before running %s.\n%s\nReason: %s", tool.Name(), preview, decision.Reason)

	run.Status = models.RunAwaitingConfirmation
	run.PendingApprovalID = approval.ID
	run.Summary = text
	if err := o.store.SaveRun(pctx, run); err != nil {
		return o.fail(ctx, rs, fmt.Errorf("failed to save run: %w", err))
	}
	if err := o.appendMessage(pctx, rs, models.RoleAssistant, text); err != nil {
		return o.fail(ctx, rs, err)
	}

	meta := rs.meta()
	meta["approval_id"] = approval.ID
	observability.RecordApprovalAudit(ctx, "request", run.UserID, string(models.ApprovalPending), meta)
	rs.events.emit(EventApprovalRequired, text, map[string]interface{}{
		"approval_id": approval.ID,
		"tool":        tool.Name(),
		"preview":     preview,
		"reason":      decision.Reason,
	})
	rs.openApproval = ""
	rs.logger.Info().Str("approval_id", approval.ID).Str("tool", tool.Name()).Msg("Run awaiting approval")

	res := rs.result(ModeRequiresApproval, text, nil)
	res.Approval = &PendingApproval{
		ID:       approval.ID,
		ToolName: tool.Name(),
		Reason:   decision.Reason,
		Preview:  preview,
	}
	return res
}

func (o *Orchestrator) completeWithAnswer(ctx context.Context, rs *runState, text string) *RunResult {
	pctx := context.WithoutCancel(ctx)
	action := rs.action

	summary := text
	if summary == "" {
		summary = "Done."
		if !rs.toolRan {
			summary = "I don't have anything to add."
		}
	}

	action.Type = models.ActionAssistantResponse
	action.Status = models.ActionCompleted
	if out, err := json.Marshal(map[string]string{"text": summary}); err == nil {
		action.Output = out
	}
	if err := o.store.SaveAction(pctx, action); err != nil {
		return o.fail(ctx, rs, fmt.Errorf("failed to save action: %w", err))
	}

	return o.complete(ctx, rs, summary)
}

func (o *Orchestrator) completeAtStepLimit(ctx context.Context, rs *runState, limit int) *RunResult {
	summary := fmt.Sprintf("I stopped after reaching the step limit of %d steps.", limit)
	if rs.toolName != "" {
		summary += fmt.Sprintf(" The last tool I ran was %s.", rs.toolName)
	}
	if rs.lastText != "" {
		summary = rs.lastText + "\n\n" + summary
	}
	rs.logger.Info().Int("max_steps", limit).Msg("Run reached step limit")
	return o.complete(ctx, rs, summary)
}

func (o *Orchestrator) complete(ctx context.Context, rs *runState, summary string) *RunResult {
	pctx := context.WithoutCancel(ctx)
	run := rs.run

	if err := o.appendMessage(pctx, rs, models.RoleAssistant, summary); err != nil {
		return o.fail(ctx, rs, err)
	}

	endedAt := time.Now().UTC()
	run.Status = models.RunCompleted
	run.Summary = summary
	run.EndedAt = &endedAt
	if err := o.store.SaveRun(pctx, run); err != nil {
		return o.fail(ctx, rs, fmt.Errorf("failed to save run: %w", err))
	}

	mode := ModeAssistantText
	if rs.toolRan {
		mode = ModeToolExecuted
	}
	return rs.result(mode, summary, nil)
}

// fail ends the run after an unexpected error.
func (o *Orchestrator) fail(ctx context.Context, rs *runState, err error) *RunResult {
	return o.failStep(ctx, rs, "Sorry, I couldn't finish that request: "+err.Error(), err, "")
}

// failStep marks the current action and the run failed and tells the user why. Each write
// is best effort; a write that fails is logged and counted, never returned.
// An empty confirmation keeps the action's current value.
func (o *Orchestrator) failStep(ctx context.Context, rs *runState, summary string, cause error, confirmation models.Confirmation) *RunResult {
	pctx := context.WithoutCancel(ctx)

	if rs.action != nil {
		rs.action.Status = models.ActionFailed
		rs.action.Error = cause.Error()
		if confirmation != "" {
			rs.action.Confirmation = confirmation
		}
		o.bestEffort(rs.logger, "save_action", func() error {
			return o.store.SaveAction(pctx, rs.action)
		})
	}

	if rs.openApproval != "" {
		approvalID := rs.openApproval
		rs.openApproval = ""
		o.bestEffort(rs.logger, "cancel_approval", func() error {
			return o.store.CancelApproval(pctx, approvalID, cause.Error())
		})
		rs.run.PendingApprovalID = ""
	}

	endedAt := time.Now().UTC()
	rs.run.Status = models.RunFailed
	rs.run.Summary = summary
	rs.run.EndedAt = &endedAt
	o.bestEffort(rs.logger, "save_run", func() error {
		return o.store.SaveRun(pctx, rs.run)
	})

	if rs.threadReady {
		o.bestEffort(rs.logger, "append_message", func() error {
			return o.appendMessage(pctx, rs, models.RoleAssistant, summary)
		})
	}

	rs.logger.Warn().Err(cause).Int("step", rs.steps).Msg("Run failed")
	return rs.result(ModeAssistantText, summary, cause)
}

func (o *Orchestrator) finish(span trace.Span, rs *runState, result *RunResult, elapsed time.Duration) {
	observability.RecordRun(string(result.Mode), string(result.Status), result.Steps, elapsed)

	var err error
	switch result.Status {
	case models.RunCompleted:
		rs.events.emit(EventRunCompleted, result.Text, map[string]interface{}{"mode": string(result.Mode)})
	case models.RunFailed:
		err = errors.New(result.Error)
		rs.events.emit(EventRunFailed, result.Text, map[string]interface{}{"error": result.Error})
	}

	span.SetAttributes(
		attribute.String("mode", string(result.Mode)),
		attribute.String("status", string(result.Status)),
		attribute.Int("steps", result.Steps),
	)
	tracing.EndSpan(span, err)

	rs.logger.Info().
		Str("mode", string(result.Mode)).
		Str("status", string(result.Status)).
		Int("steps", result.Steps).
		Dur("duration", elapsed).
		Msg("Run finished")
}

// invoke executes tool inside a span and reports how long it took.
func (o *Orchestrator) invoke(ctx context.Context, tool tools.Tool, args tools.Args, inv tools.Invocation) (map[string]interface{}, time.Duration, error) {
	ctx, span := tracing.StartSpan(ctx, "steward.agent", "agent.tool", attribute.String("tool", tool.Name()))
	start := time.Now()
	output, err := safeExecute(tools.WithInvocation(ctx, inv), tool, args)
	elapsed := time.Since(start)
	tracing.EndSpan(span, err)
	return output, elapsed, err
}

// safeExecute runs tool, converting a panic into an error.
func safeExecute(ctx context.Context, tool tools.Tool, args tools.Args) (output map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			output = nil
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), p)
		}
	}()

	output, err = tool.Execute(ctx, args)
	if err == nil && output == nil {
		output = map[string]interface{}{}
	}
	return output, err
}

func (o *Orchestrator) appendMessage(ctx context.Context, rs *runState, role models.Role, text string) error {
	msg := &models.ThreadMessage{
		ThreadID: rs.run.ThreadID,
		Role:     role,
		Text:     text,
		RunID:    rs.run.ID,
	}
	if rs.action != nil {
		msg.ActionID = rs.action.ID
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to append %s message: %w", role, err)
	}
	return nil
}

func (o *Orchestrator) bestEffort(logger zerolog.Logger, op string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			observability.RecordSecondaryFailure(op)
			logger.Warn().Interface("panic", p).Str("operation", op).Msg("Secondary write panicked")
		}
	}()
	if err := fn(); err != nil {
		observability.RecordSecondaryFailure(op)
		logger.Warn().Err(err).Str("operation", op).Msg("Secondary write failed")
	}
}

// guard turns a panic in an errgroup task into an error.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("internal error: %v", p)
			}
		}()
		return fn()
	}
}

func newThreadID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.NewString()
	}
	return id
}
