// Package agent runs the plan, check, act loop behind every user request.
//
// Invariants:
// - A run makes at most Options.MaxSteps planner calls and honors only the first tool call per turn.
// - Every validated tool call passes the policy evaluator before it can execute.
// - A run that needs approval persists a pending Approval and stops planning.
// - RunAgent always returns a result; failures are recorded on the run, never returned.
// - ResolveApproval executes the deferred call at most once, guarded by an atomic claim in the store.
//
// Usage:
//
//	orch, _ := agent.New(agent.Config{
//		Store:    db,
//		Planner:  agent.NewAnthropicPlanner(apiKey),
//		Registry: registry,
//		Policy:   engine,
//		Options:  agent.DefaultOptions(),
//	})
//	result := orch.RunAgent(ctx, agent.RunRequest{UserID: "u1", Prompt: "email dana the agenda"})
//	if result.Mode == agent.ModeRequiresApproval {
//		_, _ = orch.ResolveApproval(ctx, agent.ResolveRequest{
//			ApprovalID: result.Approval.ID,
//			UserID:     "u1",
//			Decision:   models.DecisionApproveOnce,
//		})
//	}
package agent
