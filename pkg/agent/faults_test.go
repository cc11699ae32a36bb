package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/store"
	"github.com/harun/steward/pkg/tools"
)

// faultyStore fails or panics on the named operations and delegates everything else.
type faultyStore struct {
	*store.DB
	fail  map[string]bool
	panic map[string]bool
	// failRoles fails AppendMessage only for messages with these roles.
	failRoles map[models.Role]bool
}

func (f *faultyStore) check(op string) error {
	if f.panic[op] {
		panic("store exploded in " + op)
	}
	if f.fail[op] {
		return errInjected
	}
	return nil
}

func (f *faultyStore) SaveRun(ctx context.Context, run *models.Run) error {
	if err := f.check("SaveRun"); err != nil {
		return err
	}
	return f.DB.SaveRun(ctx, run)
}

func (f *faultyStore) SaveAction(ctx context.Context, action *models.Action) error {
	if err := f.check("SaveAction"); err != nil {
		return err
	}
	return f.DB.SaveAction(ctx, action)
}

func (f *faultyStore) EnsureThread(ctx context.Context, id, userID, title string) (*models.Thread, bool, error) {
	if err := f.check("EnsureThread"); err != nil {
		return nil, false, err
	}
	return f.DB.EnsureThread(ctx, id, userID, title)
}

func (f *faultyStore) AppendMessage(ctx context.Context, msg *models.ThreadMessage) error {
	if err := f.check("AppendMessage"); err != nil {
		return err
	}
	if f.failRoles[msg.Role] {
		return errInjected
	}
	return f.DB.AppendMessage(ctx, msg)
}

func (f *faultyStore) ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	if err := f.check("ListMessages"); err != nil {
		return nil, err
	}
	return f.DB.ListMessages(ctx, threadID, limit)
}

func (f *faultyStore) CreateApproval(ctx context.Context, a *models.Approval) error {
	if err := f.check("CreateApproval"); err != nil {
		return err
	}
	return f.DB.CreateApproval(ctx, a)
}

func withFailingRole(role models.Role) harnessOption {
	return withStore(func(db *store.DB) Store {
		return &faultyStore{DB: db, failRoles: map[models.Role]bool{role: true}}
	})
}

func withFaults(fail, panics []string) harnessOption {
	return withStore(func(db *store.DB) Store {
		f := &faultyStore{DB: db, fail: map[string]bool{}, panic: map[string]bool{}}
		for _, op := range fail {
			f.fail[op] = true
		}
		for _, op := range panics {
			f.panic[op] = true
		}
		return f
	})
}

// mockPlanner lets a test decide per call whether the planner errors or panics.
type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) Provider() string { return "mock" }

func (m *mockPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*PlanResponse)
	return resp, args.Error(1)
}

var storeOps = []string{"SaveRun", "SaveAction", "EnsureThread", "AppendMessage", "ListMessages", "CreateApproval"}

func TestRunAgent_StorageFailuresNeverEscape(t *testing.T) {
	for _, op := range storeOps {
		t.Run(op, func(t *testing.T) {
			h := newHarness(t, &scriptedPlanner{responses: []*PlanResponse{sendMailCall()}}, withFaults([]string{op}, nil))

			var res *RunResult
			require.NotPanics(t, func() {
				res = h.orch.RunAgent(context.Background(), RunRequest{UserID: "u1", Prompt: "Email Dana"})
			})
			require.NotNil(t, res)
			assert.Equal(t, models.RunFailed, res.Status)
			assert.Equal(t, ModeAssistantText, res.Mode)
			assert.NotEmpty(t, res.Text)
			assert.Contains(t, res.Error, errInjected.Error())
		})
	}
}

func TestRunAgent_FailureAfterApprovalCreatedCancelsIt(t *testing.T) {
	h := newHarness(t, &scriptedPlanner{responses: []*PlanResponse{sendMailCall()}}, withFailingRole(models.RoleAssistant))
	h.setTrust(t, "u1", models.TrustSupervised)
	ctx := context.Background()

	res := h.orch.RunAgent(ctx, RunRequest{UserID: "u1", Prompt: "Email Dana the agenda"})
	require.Equal(t, models.RunFailed, res.Status)
	assert.Equal(t, ModeAssistantText, res.Mode)
	assert.Nil(t, res.Approval)

	pending, err := h.db.ListPendingApprovals(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	actions, err := h.db.ListActions(ctx, res.RunID)
	require.NoError(t, err)
	var approvalID string
	for _, a := range actions {
		if a.ApprovalID != "" {
			approvalID = a.ApprovalID
			assert.Equal(t, models.ActionFailed, a.Status)
		}
	}
	require.NotEmpty(t, approvalID)

	approval, err := h.db.GetApproval(ctx, approvalID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalFailed, approval.Status)
	assert.Contains(t, approval.Error, errInjected.Error())

	_, err = h.orch.ResolveApproval(ctx, ResolveRequest{ApprovalID: approval.ID, UserID: "u1", Decision: models.DecisionApproveOnce})
	require.Error(t, err)
	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.Equal(t, int32(0), h.mail.sends.Load())

	run, err := h.db.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
}

func TestRunAgent_StoragePanicsNeverEscape(t *testing.T) {
	for _, op := range storeOps {
		t.Run(op, func(t *testing.T) {
			h := newHarness(t, &scriptedPlanner{responses: []*PlanResponse{sendMailCall()}}, withFaults(nil, []string{op}))

			var res *RunResult
			require.NotPanics(t, func() {
				res = h.orch.RunAgent(context.Background(), RunRequest{UserID: "u1", Prompt: "Email Dana"})
			})
			require.NotNil(t, res)
			assert.Equal(t, models.RunFailed, res.Status)
			assert.NotEmpty(t, res.Text)
		})
	}
}

func TestRunAgent_SecondaryFailuresAreCounted(t *testing.T) {
	h := newHarness(t, &scriptedPlanner{}, withFaults([]string{"SaveRun"}, nil))
	before := secondaryFailures(t, "save_run")

	res := h.orch.RunAgent(context.Background(), RunRequest{UserID: "u1", Prompt: "hello"})

	assert.Equal(t, models.RunFailed, res.Status)
	assert.Greater(t, secondaryFailures(t, "save_run"), before)
}

func secondaryFailures(t *testing.T, operation string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "steward_secondary_persistence_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "operation" && label.GetValue() == operation {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRunAgent_PlannerErrorIsReported(t *testing.T) {
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 529 overloaded")).Once()
	h := newHarness(t, planner)
	ctx := context.Background()

	res := h.orch.RunAgent(ctx, RunRequest{UserID: "u1", Prompt: "hello"})

	assert.Equal(t, models.RunFailed, res.Status)
	assert.Contains(t, res.Text, "upstream 529 overloaded")
	planner.AssertExpectations(t)

	run, err := h.db.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)

	actions, err := h.db.ListActions(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionFailed, actions[0].Status)

	msgs, err := h.db.ListMessages(ctx, res.ThreadID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "upstream 529 overloaded")
}

func TestRunAgent_PlannerPanicIsRecovered(t *testing.T) {
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything).Panic("nil map in planner")
	h := newHarness(t, planner)

	var res *RunResult
	require.NotPanics(t, func() {
		res = h.orch.RunAgent(context.Background(), RunRequest{UserID: "u1", Prompt: "hello"})
	})
	assert.Equal(t, models.RunFailed, res.Status)
	assert.Contains(t, res.Error, "nil map in planner")

	run, err := h.db.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
}

func TestRunAgent_NilPlannerResponse(t *testing.T) {
	planner := &mockPlanner{}
	planner.On("Plan", mock.Anything, mock.Anything).Return(nil, nil)
	h := newHarness(t, planner)

	res := h.orch.RunAgent(context.Background(), RunRequest{UserID: "u1", Prompt: "hello"})
	assert.Equal(t, models.RunFailed, res.Status)
	assert.Contains(t, res.Error, "no response")
}

type panickingTool struct {
	tools.Tool
}

func (panickingTool) Execute(ctx context.Context, args tools.Args) (map[string]interface{}, error) {
	panic("provider client was nil")
}

func TestRunAgent_ToolPanicIsRecovered(t *testing.T) {
	h := newHarness(t, &scriptedPlanner{responses: []*PlanResponse{searchCall()}})
	search, ok := h.orch.registry.Get(tools.GmailSearchName)
	require.True(t, ok)
	registry, err := tools.NewRegistry(panickingTool{Tool: search})
	require.NoError(t, err)
	h.orch.registry = registry

	var res *RunResult
	require.NotPanics(t, func() {
		res = h.orch.RunAgent(context.Background(), RunRequest{UserID: "u1", Prompt: "search"})
	})
	assert.Equal(t, models.RunFailed, res.Status)
	assert.Contains(t, res.Text, "provider client was nil")
}

func TestInvoke_ReportsElapsedAndRecovers(t *testing.T) {
	mail := &countingMail{delay: 20 * time.Millisecond}
	h := newHarness(t, &scriptedPlanner{}, withMail(mail))
	send, ok := h.orch.registry.Get(tools.GmailSendName)
	require.True(t, ok)
	args, err := send.ValidateArgs(sendMailCall().ToolCalls[0].Args)
	require.NoError(t, err)

	output, elapsed, err := h.orch.invoke(context.Background(), send, args, tools.Invocation{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "sent", output["status"])
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

	output, elapsed, err = h.orch.invoke(context.Background(), panickingTool{Tool: send}, args, tools.Invocation{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider client was nil")
	assert.Nil(t, output)
	assert.Greater(t, elapsed, time.Duration(0))
}
